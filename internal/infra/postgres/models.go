package postgres

import (
	"time"

	"github.com/uptrace/bun"
	"medquiz-service/internal/domain"
)

type accountRow struct {
	bun.BaseModel `bun:"table:accounts"`

	ID           string    `bun:"id,pk"`
	Email        string    `bun:"email,notnull"`
	PasswordHash string    `bun:"password_hash,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

func (r accountRow) toDomain() domain.Account {
	return domain.Account{ID: r.ID, Email: r.Email, PasswordHash: r.PasswordHash, CreatedAt: r.CreatedAt}
}

type profileRow struct {
	bun.BaseModel `bun:"table:profiles"`

	UserID      string    `bun:"user_id,pk"`
	Name        string    `bun:"name,notnull"`
	Affiliation string    `bun:"affiliation,nullzero"`
	AvatarURL   string    `bun:"avatar_url,nullzero"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

func (r profileRow) toDomain() domain.Profile {
	return domain.Profile{UserID: r.UserID, Name: r.Name, Affiliation: r.Affiliation, AvatarURL: r.AvatarURL, UpdatedAt: r.UpdatedAt}
}

type quizRow struct {
	bun.BaseModel `bun:"table:custom_quizzes"`

	ID              string    `bun:"id,pk"`
	Title           string    `bun:"title,notnull"`
	Description     string    `bun:"description,nullzero"`
	CreatorID       string    `bun:"creator_id,notnull"`
	QuestionCount   int       `bun:"question_count,notnull"`
	TimePerQuestion string    `bun:"time_per_question,notnull"`
	AccessCode      string    `bun:"access_code,nullzero"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

func newQuizRow(q domain.CustomQuiz) quizRow {
	return quizRow{
		ID:              q.ID,
		Title:           q.Title,
		Description:     q.Description,
		CreatorID:       q.CreatorID,
		QuestionCount:   q.QuestionCount,
		TimePerQuestion: q.TimePerQuestion.String(),
		AccessCode:      q.AccessCode,
		CreatedAt:       q.CreatedAt,
		UpdatedAt:       q.UpdatedAt,
	}
}

func (r quizRow) toDomain() (domain.CustomQuiz, error) {
	limit, err := domain.ParseTimeLimit(r.TimePerQuestion)
	if err != nil {
		return domain.CustomQuiz{}, err
	}
	return domain.CustomQuiz{
		ID:              r.ID,
		Title:           r.Title,
		Description:     r.Description,
		CreatorID:       r.CreatorID,
		QuestionCount:   r.QuestionCount,
		TimePerQuestion: limit,
		AccessCode:      r.AccessCode,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

type questionRow struct {
	bun.BaseModel `bun:"table:quiz_questions"`

	ID            string `bun:"id,pk"`
	QuizID        string `bun:"quiz_id,notnull"`
	Position      int    `bun:"position,notnull"`
	Prompt        string `bun:"prompt,notnull"`
	OptionA       string `bun:"option_a,notnull"`
	OptionB       string `bun:"option_b,notnull"`
	OptionC       string `bun:"option_c,notnull"`
	OptionD       string `bun:"option_d,notnull"`
	CorrectAnswer string `bun:"correct_answer,notnull"`
	Explanation   string `bun:"explanation,nullzero"`
	ImageURL      string `bun:"image_url,nullzero"`
}

func newQuestionRow(q domain.Question) questionRow {
	var texts [domain.OptionCount]string
	for i, opt := range q.Options {
		if i < domain.OptionCount {
			texts[i] = opt.Text
		}
	}
	return questionRow{
		ID:            q.ID,
		QuizID:        q.QuizID,
		Position:      q.Position,
		Prompt:        q.Prompt,
		OptionA:       texts[0],
		OptionB:       texts[1],
		OptionC:       texts[2],
		OptionD:       texts[3],
		CorrectAnswer: string(q.Correct),
		Explanation:   q.Explanation,
		ImageURL:      q.ImageURL,
	}
}

func (r questionRow) toDomain() domain.Question {
	return domain.Question{
		ID:          r.ID,
		QuizID:      r.QuizID,
		Position:    r.Position,
		Prompt:      r.Prompt,
		Options:     domain.NewOptions([4]string{r.OptionA, r.OptionB, r.OptionC, r.OptionD}),
		Correct:     domain.Letter(r.CorrectAnswer),
		Explanation: r.Explanation,
		ImageURL:    r.ImageURL,
	}
}

type resultRow struct {
	bun.BaseModel `bun:"table:quiz_results"`

	ID             string    `bun:"id,pk"`
	Seq            int64     `bun:"seq,scanonly"`
	QuizID         string    `bun:"quiz_id,notnull"`
	UserID         string    `bun:"user_id,nullzero"`
	DisplayName    string    `bun:"display_name,notnull"`
	Score          int       `bun:"score,notnull"`
	TotalQuestions int       `bun:"total_questions,notnull"`
	TimeTaken      *int      `bun:"time_taken"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

func (r resultRow) toDomain() domain.QuizResult {
	return domain.QuizResult{
		ID:          r.ID,
		QuizID:      r.QuizID,
		UserID:      r.UserID,
		DisplayName: r.DisplayName,
		Score:       r.Score,
		Total:       r.TotalQuestions,
		TimeTaken:   r.TimeTaken,
		CreatedAt:   r.CreatedAt,
	}
}

type ratingRow struct {
	bun.BaseModel `bun:"table:quiz_ratings"`

	QuizID    string    `bun:"quiz_id,pk"`
	UserID    string    `bun:"user_id,pk"`
	Rating    int       `bun:"rating,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type configRow struct {
	bun.BaseModel `bun:"table:quiz_configurations"`

	ID            string    `bun:"id,pk"`
	UserID        string    `bun:"user_id,notnull"`
	Subject       string    `bun:"subject,notnull"`
	Chapter       string    `bun:"chapter,notnull"`
	Topic         string    `bun:"topic,nullzero"`
	Difficulty    string    `bun:"difficulty,notnull"`
	QuestionCount string    `bun:"question_count,notnull"`
	TimeLimit     string    `bun:"time_limit,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

func newConfigRow(c domain.SavedConfig) configRow {
	return configRow{
		ID:            c.ID,
		UserID:        c.UserID,
		Subject:       c.Config.Subject,
		Chapter:       c.Config.Chapter,
		Topic:         c.Config.Topic,
		Difficulty:    string(c.Config.Difficulty),
		QuestionCount: c.Config.Count.String(),
		TimeLimit:     c.Config.TimeLimit.String(),
		CreatedAt:     c.CreatedAt,
	}
}

func (r configRow) toDomain() (domain.SavedConfig, error) {
	count, err := domain.ParseCount(r.QuestionCount)
	if err != nil {
		return domain.SavedConfig{}, err
	}
	limit, err := domain.ParseTimeLimit(r.TimeLimit)
	if err != nil {
		return domain.SavedConfig{}, err
	}
	return domain.SavedConfig{
		ID:     r.ID,
		UserID: r.UserID,
		Config: domain.QuizConfig{
			Subject:    r.Subject,
			Chapter:    r.Chapter,
			Topic:      r.Topic,
			Difficulty: domain.Difficulty(r.Difficulty),
			Count:      count,
			TimeLimit:  limit,
		},
		CreatedAt: r.CreatedAt,
	}, nil
}
