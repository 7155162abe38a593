package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"medquiz-service/internal/app"
	"medquiz-service/internal/domain"
	"medquiz-service/internal/infra/memory"
)

func question(pos int, correct domain.Letter) domain.Question {
	return domain.Question{
		ID:          fmt.Sprintf("q%d", pos),
		Position:    pos,
		Prompt:      fmt.Sprintf("Question %d about the cardiac cycle", pos),
		Options:     domain.NewOptions([4]string{"Systole", "Diastole", "Isovolumetric contraction", "Rapid filling"}),
		Correct:     correct,
		Explanation: "See Guyton chapter 9.",
		Subject:     "Physiology",
	}
}

func limit(t *testing.T, seconds int) domain.TimeLimit {
	t.Helper()
	l, err := domain.Seconds(seconds)
	if err != nil {
		t.Fatalf("time limit: %v", err)
	}
	return l
}

func count(t *testing.T, n int) domain.Count {
	t.Helper()
	c, err := domain.FixedCount(n)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return c
}

// fakeGenerator returns queued errors first, then numbered questions.
type fakeGenerator struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	doubts []string
}

func (g *fakeGenerator) Generate(_ context.Context, scope string, _ domain.Difficulty) (domain.Question, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return domain.Question{}, err
	}
	q := question(g.calls, domain.LetterA)
	q.ID = fmt.Sprintf("gen-%d", g.calls)
	q.Position = 0
	q.Subject = scope
	return q, nil
}

func (g *fakeGenerator) ResolveDoubt(_ context.Context, q domain.Question, doubt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.doubts = append(g.doubts, doubt)
	return "Because " + string(q.Correct) + " is right.", nil
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fixture struct {
	store    *memory.Store
	banks    *memory.BankRepository
	sessions *memory.SessionStore
	results  *app.ResultService
	service  *app.SessionService
	gens     map[string]*fakeGenerator
	mu       sync.Mutex
}

func newFixture(t *testing.T, opts ...app.SessionOption) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		sessions: memory.NewSessionStore(),
		gens:     make(map[string]*fakeGenerator),
	}
	f.banks = memory.NewBankRepository(f.store, time.Minute)
	f.results = app.NewResultService(f.store, f.store, nil, nil)
	noSleep := app.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: func(context.Context, time.Duration) error { return nil }}
	opts = append([]app.SessionOption{app.WithRetryPolicy(noSleep)}, opts...)
	f.service = app.NewSessionService(f.sessions, f.banks, f.results, f.generator, opts...)
	return f
}

// generator hands out one fake per API key so tests can script failures per key.
func (f *fixture) generator(key string) app.QuestionGenerator {
	return f.gen(key)
}

func (f *fixture) gen(key string) *fakeGenerator {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gens[key]
	if !ok {
		g = &fakeGenerator{}
		f.gens[key] = g
	}
	return g
}

func (f *fixture) seedBank(t *testing.T, quiz domain.CustomQuiz, questions ...domain.Question) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.CreateQuiz(ctx, quiz); err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	for _, q := range questions {
		q.QuizID = quiz.ID
		if _, err := f.store.UpsertQuestion(ctx, q); err != nil {
			t.Fatalf("upsert question: %v", err)
		}
	}
}

// waitUntil reads updates until one satisfies pred. The initial snapshot counts,
// so transitions that happened before subscribing are still observed.
func waitUntil(t *testing.T, ch <-chan app.Update, what string, pred func(app.Update) bool) app.Update {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				t.Fatalf("subscription closed while waiting for %s", what)
			}
			if pred(u) {
				return u
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func questionActive(index int) func(app.Update) bool {
	return func(u app.Update) bool {
		return u.View.State == app.StateActive && u.View.Index == index
	}
}

func sessionFailed(u app.Update) bool {
	return u.View.State == app.StateFailed
}

func generatedConfig(t *testing.T, n int) domain.QuizConfig {
	cfg := domain.QuizConfig{
		Subject:    "Physiology",
		Chapter:    "Cardiovascular",
		Difficulty: domain.DifficultyMedium,
	}
	if n > 0 {
		cfg.Count = count(t, n)
	}
	return cfg
}
