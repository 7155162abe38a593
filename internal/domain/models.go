package domain

import (
	"fmt"
	"strings"
	"time"
)

// Letter identifies one of the four answer positions.
type Letter string

const (
	LetterA Letter = "A"
	LetterB Letter = "B"
	LetterC Letter = "C"
	LetterD Letter = "D"
)

// Letters lists the answer letters in position order.
var Letters = [4]Letter{LetterA, LetterB, LetterC, LetterD}

// OptionCount is the number of options every question carries.
const OptionCount = len(Letters)

// NoExplanation is shown for bank questions authored without an explanation.
const NoExplanation = "No explanation provided."

// ParseLetter accepts "A", "b", "C)" or "D." and returns the canonical letter.
func ParseLetter(raw string) (Letter, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimRight(s, ").:")
	if len(s) != 1 {
		return "", false
	}
	for _, l := range Letters {
		if string(l) == s {
			return l, true
		}
	}
	return "", false
}

// LetterAt returns the letter for a zero-based option position.
func LetterAt(pos int) (Letter, bool) {
	if pos < 0 || pos >= OptionCount {
		return "", false
	}
	return Letters[pos], true
}

// Index returns the zero-based position of the letter, or -1.
func (l Letter) Index() int {
	for i, candidate := range Letters {
		if candidate == l {
			return i
		}
	}
	return -1
}

// Valid reports whether l is one of A-D.
func (l Letter) Valid() bool {
	return l.Index() >= 0
}

// Option is an answer choice. The letter is derived from the option's position
// at ingestion and never parsed back out of the text.
type Option struct {
	Letter Letter `json:"letter"`
	Text   string `json:"text"`
}

// Label renders the option in its canonical display form, e.g. "A) Femoral nerve".
func (o Option) Label() string {
	return string(o.Letter) + ") " + o.Text
}

// OptionFromText converts a raw option string into an Option for the given
// position. A leading "A) ", "A. " or "A: " label matching the position is
// dropped; a bare letter followed by a space is content ("A patient ...").
func OptionFromText(raw string, pos int) (Option, error) {
	letter, ok := LetterAt(pos)
	if !ok {
		return Option{}, fmt.Errorf("option position %d out of range", pos)
	}
	text := strings.TrimSpace(raw)
	if len(text) >= 2 && text[:1] == string(letter) {
		switch text[1] {
		case ')', '.', ':':
			text = strings.TrimSpace(text[2:])
		}
	}
	return Option{Letter: letter, Text: text}, nil
}

// NewOptions builds the four options for a question from plain texts.
func NewOptions(texts [4]string) []Option {
	options := make([]Option, 0, OptionCount)
	for i, text := range texts {
		options = append(options, Option{Letter: Letters[i], Text: strings.TrimSpace(text)})
	}
	return options
}

// Question models a four-option MCQ with exactly one correct letter.
type Question struct {
	ID          string   `json:"id"`
	QuizID      string   `json:"quizId,omitempty"`
	Position    int      `json:"position,omitempty"` // 1-based slot in a custom quiz
	Prompt      string   `json:"prompt"`
	Options     []Option `json:"options"`
	Correct     Letter   `json:"correct"`
	Explanation string   `json:"explanation,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
}

// Validate checks the structural invariants of a question.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Prompt) == "" {
		return fmt.Errorf("%w: prompt is empty", ErrInvalidQuestion)
	}
	if len(q.Options) != OptionCount {
		return fmt.Errorf("%w: expected %d options, got %d", ErrInvalidQuestion, OptionCount, len(q.Options))
	}
	for i, opt := range q.Options {
		if opt.Letter != Letters[i] {
			return fmt.Errorf("%w: option %d has letter %q", ErrInvalidQuestion, i+1, opt.Letter)
		}
		if strings.TrimSpace(opt.Text) == "" {
			return fmt.Errorf("%w: option %s is empty", ErrInvalidQuestion, opt.Letter)
		}
	}
	if !q.Correct.Valid() {
		return fmt.Errorf("%w: correct answer %q is not one of A-D", ErrInvalidQuestion, q.Correct)
	}
	return nil
}

// IsCorrect reports whether letter is this question's correct answer.
func (q Question) IsCorrect(letter Letter) bool {
	return q.Correct.Valid() && letter == q.Correct
}

// CustomQuiz is a creator-authored question bank.
type CustomQuiz struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	CreatorID       string    `json:"creatorId"`
	QuestionCount   int       `json:"questionCount"`
	TimePerQuestion TimeLimit `json:"timePerQuestion"`
	AccessCode      string    `json:"accessCode,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// IsPrivate reports whether the quiz is gated by an access code.
func (q CustomQuiz) IsPrivate() bool {
	return q.AccessCode != ""
}

// Public strips the access code for viewers other than the creator.
func (q CustomQuiz) Public() CustomQuiz {
	q.AccessCode = ""
	return q
}

// Bank is a custom quiz together with its authored questions in position order.
type Bank struct {
	Quiz      CustomQuiz `json:"quiz"`
	Questions []Question `json:"questions"`
}

// AIGeneratedQuizID is the quiz id recorded for results of LLM-generated sessions.
const AIGeneratedQuizID = "ai-generated"

// QuizResult is the persisted outcome of one completed session.
type QuizResult struct {
	ID          string    `json:"id"`
	QuizID      string    `json:"quizId"`
	UserID      string    `json:"userId,omitempty"`
	DisplayName string    `json:"displayName"`
	Score       int       `json:"score"`
	Total       int       `json:"total"`
	TimeTaken   *int      `json:"timeTaken,omitempty"` // seconds
	CreatedAt   time.Time `json:"createdAt"`
}

// Validate enforces 0 <= score <= total.
func (r QuizResult) Validate() error {
	if r.QuizID == "" {
		return fmt.Errorf("%w: quiz id is required", ErrInvalidResult)
	}
	if r.Score < 0 || r.Total < 0 || r.Score > r.Total {
		return fmt.Errorf("%w: score %d of %d", ErrInvalidResult, r.Score, r.Total)
	}
	return nil
}

// NotSpecified is shown when a leaderboard row has no affiliation.
const NotSpecified = "Not specified"

// LeaderboardEntry is one ranked result.
type LeaderboardEntry struct {
	DisplayName string    `json:"displayName"`
	Score       int       `json:"score"`
	Total       int       `json:"total"`
	Percentage  int       `json:"percentage"`
	Affiliation string    `json:"affiliation"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Leaderboard captures the ordered results for a quiz.
type Leaderboard struct {
	QuizID    string             `json:"quizId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Account holds sign-in credentials.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Profile is the public face of an account.
type Profile struct {
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Affiliation string    `json:"affiliation"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Rating is one user's star rating for a custom quiz.
type Rating struct {
	QuizID    string    `json:"quizId"`
	UserID    string    `json:"userId"`
	Stars     int       `json:"stars"`
	CreatedAt time.Time `json:"createdAt"`
}

// SavedConfig is a quiz configuration stored for reuse.
type SavedConfig struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Config    QuizConfig `json:"config"`
	CreatedAt time.Time  `json:"createdAt"`
}

// QuizSummary is the browse view of a custom quiz.
type QuizSummary struct {
	Quiz          CustomQuiz `json:"quiz"`
	CreatorName   string     `json:"creatorName,omitempty"`
	Private       bool       `json:"private"`
	AverageRating float64    `json:"averageRating"`
}
