package app

import (
	"errors"

	"medquiz-service/internal/domain"
)

// View is the read model of a session handed to clients.
type View struct {
	ID        string           `json:"id"`
	QuizID    string           `json:"quizId,omitempty"`
	Scope     string           `json:"scope,omitempty"`
	State     State            `json:"state"`
	Index     int              `json:"index"`
	Count     domain.Count     `json:"questionCount"`
	TimeLimit domain.TimeLimit `json:"timeLimit"`
	Remaining *int             `json:"remaining,omitempty"`
	Locked    bool             `json:"locked"`
	Score     int              `json:"score"`
	Resolved  int              `json:"resolved"`
	Question  *QuestionView    `json:"question,omitempty"`
	Selected  *domain.Letter   `json:"selected,omitempty"`
	Failure   *FailureView     `json:"failure,omitempty"`
	ResultID  string           `json:"resultId,omitempty"`
	Warning   string           `json:"warning,omitempty"`
}

// QuestionView hides the answer key until the question is resolved.
type QuestionView struct {
	ID          string          `json:"id"`
	Prompt      string          `json:"prompt"`
	Options     []domain.Option `json:"options"`
	Subject     string          `json:"subject,omitempty"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Correct     *domain.Letter  `json:"correct,omitempty"`
	Explanation string          `json:"explanation,omitempty"`
}

type FailureView struct {
	Kind     domain.FailureKind `json:"kind,omitempty"`
	Message  string             `json:"message"`
	Failures int                `json:"failures"`
}

// View builds the read model for the current state.
func (s *Session) View() View {
	v := View{
		ID:        s.id,
		State:     s.state,
		Index:     s.index,
		Count:     s.config.Count,
		TimeLimit: s.config.TimeLimit,
		Locked:    s.locked,
		Score:     s.score,
		Resolved:  s.Resolved(),
	}
	switch src := s.source.(type) {
	case Generated:
		v.Scope = src.Scope
		v.QuizID = domain.AIGeneratedQuizID
	case Preloaded:
		v.QuizID = src.QuizID
	}

	if _, timed := s.config.TimeLimit.Fixed(); timed && s.state == StateActive {
		remaining := s.remaining
		v.Remaining = &remaining
	}

	if q, ok := s.Current(); ok && s.state != StateComplete {
		qv := &QuestionView{
			ID:       q.ID,
			Prompt:   q.Prompt,
			Options:  q.Options,
			Subject:  q.Subject,
			ImageURL: q.ImageURL,
		}
		if letter, answered := s.answers[s.index]; answered {
			selected := letter
			v.Selected = &selected
		}
		if s.state == StateAnswered || s.locked {
			correct := q.Correct
			qv.Correct = &correct
			qv.Explanation = q.Explanation
		}
		v.Question = qv
	}

	if s.lastErr != nil {
		fv := &FailureView{Message: s.lastErr.Error(), Failures: s.failures}
		var f *domain.Failure
		if errors.As(s.lastErr, &f) {
			fv.Kind = f.Kind
		}
		v.Failure = fv
	}
	return v
}
