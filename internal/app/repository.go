package app

import (
	"context"
	"io"
	"time"

	"medquiz-service/internal/domain"
)

// SessionRepository abstracts where live sessions are kept (in-memory, Redis-marked, etc).
type SessionRepository interface {
	Put(session *LiveSession)
	Get(id string) (*LiveSession, bool)
	Delete(id string)
	List() []*LiveSession
}

// BankRepository serves custom quizzes with their questions (from cache/backing store).
type BankRepository interface {
	GetBank(ctx context.Context, quizID string) (domain.Bank, error)
	Invalidate(ctx context.Context, quizID string)
}

// QuizRepository persists custom quizzes and their authored questions.
type QuizRepository interface {
	CreateQuiz(ctx context.Context, quiz domain.CustomQuiz) error
	GetQuiz(ctx context.Context, quizID string) (domain.CustomQuiz, error)
	ListQuizzes(ctx context.Context) ([]domain.CustomQuiz, error)
	// UpsertQuestion writes one slot and returns it as stored; an existing slot keeps its ID.
	UpsertQuestion(ctx context.Context, q domain.Question) (domain.Question, error)
	UpsertQuestions(ctx context.Context, quizID string, qs []domain.Question) ([]domain.Question, error)
	ListQuestions(ctx context.Context, quizID string) ([]domain.Question, error)
}

// ResultRepository stores completed-session results.
type ResultRepository interface {
	InsertResult(ctx context.Context, r domain.QuizResult) (string, error)
	GetResult(ctx context.Context, id string) (domain.QuizResult, error)
	// ListResults returns results for a quiz in insertion order.
	ListResults(ctx context.Context, quizID string) ([]domain.QuizResult, error)
}

// LeaderboardCache is an optional short-lived cache of computed leaderboards.
type LeaderboardCache interface {
	GetLeaderboard(ctx context.Context, quizID string) (domain.Leaderboard, bool, error)
	SetLeaderboard(ctx context.Context, lb domain.Leaderboard) error
	InvalidateLeaderboard(ctx context.Context, quizID string) error
}

type ProfileRepository interface {
	UpsertProfile(ctx context.Context, p domain.Profile) error
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
	// ProfilesByIDs skips unknown ids.
	ProfilesByIDs(ctx context.Context, userIDs []string) (map[string]domain.Profile, error)
}

type AccountRepository interface {
	CreateAccount(ctx context.Context, a domain.Account) error
	AccountByEmail(ctx context.Context, email string) (domain.Account, error)
	AccountByID(ctx context.Context, id string) (domain.Account, error)
}

// TokenDenylist remembers revoked tokens until they would have expired anyway.
type TokenDenylist interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type RatingRepository interface {
	UpsertRating(ctx context.Context, r domain.Rating) error
	AverageRating(ctx context.Context, quizID string) (float64, error)
}

type ConfigRepository interface {
	SaveConfig(ctx context.Context, c domain.SavedConfig) error
	ListConfigs(ctx context.Context, userID string) ([]domain.SavedConfig, error)
}

// ImageStore writes uploaded images and returns their public URL.
type ImageStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

// QuestionGenerator produces questions and answers doubts for one user credential.
type QuestionGenerator interface {
	Generate(ctx context.Context, scope string, difficulty domain.Difficulty) (domain.Question, error)
	ResolveDoubt(ctx context.Context, q domain.Question, doubt string) (string, error)
}

// GeneratorFactory binds a user's API key to a generator. An empty key yields a
// generator that fails with a missing-credential failure.
type GeneratorFactory func(apiKey string) QuestionGenerator
