package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"medquiz-service/internal/app"
	"medquiz-service/internal/domain"
	"medquiz-service/internal/infra/memory"
)

func TestGeneratedSessionLoadsAnswersAndCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := app.Owner{UserID: "u1", DisplayName: "Asha"}

	view, err := f.service.StartGenerated(ctx, owner, generatedConfig(t, 2), "key-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if view.State != app.StateLoading || view.QuizID != domain.AIGeneratedQuizID || view.Scope != "Physiology - Cardiovascular" {
		t.Fatalf("unexpected initial view %+v", view)
	}

	ch, cancel, err := f.service.Subscribe(ctx, view.ID, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	for i := 1; i <= 2; i++ {
		loaded := waitUntil(t, ch, "question loaded", questionActive(i))
		if loaded.View.Question == nil {
			t.Fatalf("expected question %d loaded, got %+v", i, loaded.View)
		}
		answered, err := f.service.Answer(ctx, view.ID, "u1", "a")
		if err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
		if answered.State != app.StateAnswered || answered.Score != i {
			t.Fatalf("expected answered with score %d, got %+v", i, answered)
		}
		if view, err = f.service.Advance(ctx, view.ID, "u1"); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}

	if view.State != app.StateComplete || view.ResultID == "" {
		t.Fatalf("expected stored result, got %+v", view)
	}
	result, err := f.results.Get(ctx, view.ResultID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if result.QuizID != domain.AIGeneratedQuizID || result.Score != 2 || result.Total != 2 || result.DisplayName != "Asha" {
		t.Fatalf("unexpected result %+v", result)
	}
	if f.gen("key-1").Calls() != 2 {
		t.Fatalf("expected one generation per question, got %d", f.gen("key-1").Calls())
	}
}

func TestGeneratedSessionRetriesRateLimitThenSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rateLimited := domain.NewFailure(domain.FailureRateLimited, 429, errors.New("429"))
	f.gen("key-1").errs = []error{rateLimited, rateLimited}

	view, err := f.service.StartGenerated(ctx, app.Owner{}, generatedConfig(t, 1), "key-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ch, cancel, _ := f.service.Subscribe(ctx, view.ID, "")
	defer cancel()

	loaded := waitUntil(t, ch, "question loaded", questionActive(1))
	if loaded.View.Failure != nil {
		t.Fatalf("expected active without failure, got %+v", loaded.View)
	}
	if f.gen("key-1").Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", f.gen("key-1").Calls())
	}
}

func TestGeneratedSessionSurfacesFailureAndRetriesWithNewKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	invalid := domain.NewFailure(domain.FailureInvalidCredential, 401, errors.New("401"))
	f.gen("bad-key").errs = []error{invalid}

	view, err := f.service.StartGenerated(ctx, app.Owner{UserID: "u1"}, generatedConfig(t, 0), "bad-key")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ch, cancel, _ := f.service.Subscribe(ctx, view.ID, "u1")
	defer cancel()

	failed := waitUntil(t, ch, "generation failed", sessionFailed)
	if failed.View.Failure == nil || failed.View.Failure.Kind != domain.FailureInvalidCredential {
		t.Fatalf("expected invalid credential failure, got %+v", failed)
	}
	if f.gen("bad-key").Calls() != 1 {
		t.Fatalf("credential errors are not retried automatically, got %d calls", f.gen("bad-key").Calls())
	}

	if _, err := f.service.Retry(ctx, view.ID, "u1", "good-key"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	loaded := waitUntil(t, ch, "question loaded", questionActive(1))
	if loaded.View.Failure != nil || f.gen("good-key").Calls() != 1 {
		t.Fatalf("expected question 1 from the new key, got %+v", loaded.View)
	}
}

func TestRateLimitExhaustionFailsAfterThreeCalls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rateLimited := domain.NewFailure(domain.FailureRateLimited, 429, errors.New("429"))
	f.gen("key").errs = []error{rateLimited, rateLimited, rateLimited}

	view, _ := f.service.StartGenerated(ctx, app.Owner{}, generatedConfig(t, 3), "key")
	ch, cancel, _ := f.service.Subscribe(ctx, view.ID, "")
	defer cancel()

	failed := waitUntil(t, ch, "generation failed", sessionFailed)
	if failed.View.Failure == nil || failed.View.Failure.Kind != domain.FailureRateLimited {
		t.Fatalf("expected rate-limited failure, got %+v", failed.View)
	}
	// two backoffs and the final failure
	if failed.View.Failure.Failures != 3 {
		t.Fatalf("expected 3 recorded failures, got %d", failed.View.Failure.Failures)
	}
	if f.gen("key").Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", f.gen("key").Calls())
	}
}

func TestCustomSessionAccessAndCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	quiz := domain.CustomQuiz{ID: "quiz-1", Title: "Pharmacology", CreatorID: "creator", QuestionCount: 2, AccessCode: "AB12CD"}
	f.seedBank(t, quiz, question(2, domain.LetterB), question(1, domain.LetterA))

	if _, err := f.service.StartCustom(ctx, app.Owner{UserID: "u1"}, "quiz-1", "ab12cd", ""); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("expected access denied for wrong case, got %v", err)
	}
	if _, err := f.service.StartCustom(ctx, app.Owner{UserID: "u1"}, "missing", "", ""); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}

	view, err := f.service.StartCustom(ctx, app.Owner{UserID: "u1", DisplayName: "Ravi"}, "quiz-1", "AB12CD", "")
	if err != nil {
		t.Fatalf("start custom: %v", err)
	}
	if view.State != app.StateActive || view.Question.ID != "q1" || view.QuizID != "quiz-1" {
		t.Fatalf("expected question 1 active, got %+v", view)
	}
	if n, ok := view.Count.Fixed(); !ok || n != 2 {
		t.Fatalf("expected count 2, got %v", view.Count)
	}

	_, _ = f.service.Answer(ctx, view.ID, "u1", "A")
	_, _ = f.service.Advance(ctx, view.ID, "u1")
	_, _ = f.service.Answer(ctx, view.ID, "u1", "C")
	done, err := f.service.Advance(ctx, view.ID, "u1")
	if err != nil {
		t.Fatalf("final advance: %v", err)
	}
	if done.State != app.StateComplete || done.Score != 1 || done.ResultID == "" {
		t.Fatalf("unexpected final view %+v", done)
	}

	results, _ := f.store.ListResults(ctx, "quiz-1")
	if len(results) != 1 || results[0].Score != 1 || results[0].Total != 2 || results[0].TimeTaken == nil {
		t.Fatalf("unexpected stored results %+v", results)
	}
}

func TestCreatorBypassesAccessCode(t *testing.T) {
	f := newFixture(t)
	f.seedBank(t, domain.CustomQuiz{ID: "quiz-1", Title: "Anatomy", CreatorID: "creator", QuestionCount: 1, AccessCode: "ZZZZZZ"},
		question(1, domain.LetterA))
	if _, err := f.service.StartCustom(context.Background(), app.Owner{UserID: "creator"}, "quiz-1", "", ""); err != nil {
		t.Fatalf("creator start: %v", err)
	}
}

func TestCustomSessionRejectsIncompleteBank(t *testing.T) {
	f := newFixture(t)
	f.seedBank(t, domain.CustomQuiz{ID: "quiz-1", Title: "Anatomy", CreatorID: "creator", QuestionCount: 3},
		question(1, domain.LetterA), question(3, domain.LetterA))

	_, err := f.service.StartCustom(context.Background(), app.Owner{}, "quiz-1", "", "")
	if !errors.Is(err, domain.ErrQuizIncomplete) || err.Error() != "Question 2 is incomplete" {
		t.Fatalf("expected question 2 incomplete, got %v", err)
	}
}

func TestAnonymousSessionIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedBank(t, domain.CustomQuiz{ID: "quiz-1", Title: "Anatomy", CreatorID: "creator", QuestionCount: 1}, question(1, domain.LetterA))

	view, _ := f.service.StartCustom(ctx, app.Owner{}, "quiz-1", "", "")
	_, _ = f.service.Answer(ctx, view.ID, "", "A")
	done, err := f.service.Advance(ctx, view.ID, "")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if done.State != app.StateComplete || done.ResultID != "" {
		t.Fatalf("expected completion without result, got %+v", done)
	}
	if results, _ := f.store.ListResults(ctx, "quiz-1"); len(results) != 0 {
		t.Fatalf("anonymous results must not be stored, got %d", len(results))
	}
}

func TestSessionsAreScopedToOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedBank(t, domain.CustomQuiz{ID: "quiz-1", Title: "Anatomy", CreatorID: "creator", QuestionCount: 1}, question(1, domain.LetterA))
	view, _ := f.service.StartCustom(ctx, app.Owner{UserID: "u1"}, "quiz-1", "", "")

	if _, err := f.service.Get(ctx, view.ID, "u2"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session hidden from other users, got %v", err)
	}
	if _, err := f.service.Answer(ctx, view.ID, "u2", "A"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected answer rejected for other users, got %v", err)
	}
}

func TestAnswerRejectsUnknownLetter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedBank(t, domain.CustomQuiz{ID: "quiz-1", Title: "Anatomy", CreatorID: "creator", QuestionCount: 1}, question(1, domain.LetterA))
	view, _ := f.service.StartCustom(ctx, app.Owner{}, "quiz-1", "", "")

	if _, err := f.service.Answer(ctx, view.ID, "", "E"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestTimerExpiryIsBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.WithTickInterval(5*time.Millisecond))
	f.seedBank(t, domain.CustomQuiz{ID: "quiz-1", Title: "Anatomy", CreatorID: "creator", QuestionCount: 2, TimePerQuestion: limit(t, 2)},
		question(1, domain.LetterA), question(2, domain.LetterA))

	view, err := f.service.StartCustom(ctx, app.Owner{}, "quiz-1", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ch, cancel, _ := f.service.Subscribe(ctx, view.ID, "")
	defer cancel()

	expired := waitUntil(t, ch, "time expired", func(u app.Update) bool { return u.View.Locked })
	if expired.View.Index != 1 || *expired.View.Remaining != 0 {
		t.Fatalf("expected question 1 locked, got %+v", expired.View)
	}
	locked, _ := f.service.Answer(ctx, view.ID, "", "A")
	if locked.Score != 0 || locked.Selected != nil {
		t.Fatalf("late answer must be ignored, got %+v", locked)
	}
	next, err := f.service.Advance(ctx, view.ID, "")
	if err != nil {
		t.Fatalf("advance after expiry: %v", err)
	}
	if next.Index != 2 || next.Locked {
		t.Fatalf("expected unlocked question 2, got %+v", next)
	}
}

func TestResolveDoubtNeedsResolvedQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedBank(t, domain.CustomQuiz{ID: "quiz-1", Title: "Anatomy", CreatorID: "creator", QuestionCount: 1}, question(1, domain.LetterB))
	view, _ := f.service.StartCustom(ctx, app.Owner{}, "quiz-1", "", "key")

	if _, err := f.service.ResolveDoubt(ctx, view.ID, "", "why B?"); !errors.Is(err, domain.ErrNotAnswered) {
		t.Fatalf("expected not answered, got %v", err)
	}
	_, _ = f.service.Answer(ctx, view.ID, "", "A")
	answer, err := f.service.ResolveDoubt(ctx, view.ID, "", "why B?")
	if err != nil {
		t.Fatalf("resolve doubt: %v", err)
	}
	if answer != "Because B is right." || len(f.gen("key").doubts) != 1 {
		t.Fatalf("unexpected doubt answer %q", answer)
	}
}

func TestRestartAndDiscard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedBank(t, domain.CustomQuiz{ID: "quiz-1", Title: "Anatomy", CreatorID: "creator", QuestionCount: 1}, question(1, domain.LetterA))
	view, _ := f.service.StartCustom(ctx, app.Owner{UserID: "u1"}, "quiz-1", "", "")
	_, _ = f.service.Answer(ctx, view.ID, "u1", "A")
	_, _ = f.service.Advance(ctx, view.ID, "u1")

	restarted, err := f.service.Restart(ctx, view.ID, "u1")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if restarted.State != app.StateActive || restarted.Score != 0 || restarted.ResultID != "" {
		t.Fatalf("expected fresh session, got %+v", restarted)
	}

	ch, _, _ := f.service.Subscribe(ctx, view.ID, "u1")
	<-ch // initial snapshot
	if err := f.service.Discard(ctx, view.ID, "u1"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected subscription closed on discard")
	}
	if _, err := f.service.Get(ctx, view.ID, "u1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected discarded session gone, got %v", err)
	}
}

func TestReapIdleDiscardsStaleSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, app.WithClock(func() time.Time { return now }))
	f.seedBank(t, domain.CustomQuiz{ID: "quiz-1", Title: "Anatomy", CreatorID: "creator", QuestionCount: 1}, question(1, domain.LetterA))
	view, _ := f.service.StartCustom(ctx, app.Owner{}, "quiz-1", "", "")

	if n := f.service.ReapIdle(time.Hour); n != 0 {
		t.Fatalf("fresh session reaped")
	}
	now = now.Add(2 * time.Hour)
	if n := f.service.ReapIdle(time.Hour); n != 1 {
		t.Fatalf("expected one reaped session, got %d", n)
	}
	if _, err := f.service.Get(ctx, view.ID, ""); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected reaped session gone, got %v", err)
	}
}

func TestFinishRecordsUnboundedResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	view, _ := f.service.StartGenerated(ctx, app.Owner{UserID: "u1", DisplayName: "Asha"}, generatedConfig(t, 0), "key")
	ch, cancel, _ := f.service.Subscribe(ctx, view.ID, "u1")
	defer cancel()

	waitUntil(t, ch, "question loaded", questionActive(1))
	_, _ = f.service.Answer(ctx, view.ID, "u1", "A")

	done, err := f.service.Finish(ctx, view.ID, "u1")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.State != app.StateComplete || done.Resolved != 1 || done.ResultID == "" {
		t.Fatalf("unexpected finished view %+v", done)
	}
}

// gatedResults holds InsertResult until the test releases it.
type gatedResults struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedResults) InsertResult(ctx context.Context, r domain.QuizResult) (string, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Store.InsertResult(ctx, r)
}

func TestRestartDuringResultSaveKeepsAttemptsApart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gated := &gatedResults{Store: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	f.results = app.NewResultService(gated, f.store, nil, nil)
	f.service = app.NewSessionService(f.sessions, f.banks, f.results, f.generator)

	view, err := f.service.StartGenerated(ctx, app.Owner{UserID: "u1", DisplayName: "Asha"}, generatedConfig(t, 1), "key-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ch, cancel, err := f.service.Subscribe(ctx, view.ID, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	waitUntil(t, ch, "question loaded", questionActive(1))
	if _, err := f.service.Answer(ctx, view.ID, "u1", "A"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	type outcome struct {
		view app.View
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := f.service.Advance(ctx, view.ID, "u1")
		done <- outcome{v, err}
	}()

	select {
	case <-gated.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("result save never started")
	}
	restarted, err := f.service.Restart(ctx, view.ID, "u1")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if restarted.ResultID != "" || restarted.Score != 0 {
		t.Fatalf("expected a fresh attempt, got %+v", restarted)
	}
	close(gated.release)

	var finished outcome
	select {
	case finished = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("advance never returned")
	}
	if finished.err != nil {
		t.Fatalf("advance: %v", finished.err)
	}
	if finished.view.State != app.StateComplete || finished.view.Score != 1 || finished.view.ResultID == "" {
		t.Fatalf("expected the completed attempt with its result, got %+v", finished.view)
	}
	if _, err := f.results.Get(ctx, finished.view.ResultID); err != nil {
		t.Fatalf("completed attempt should still be stored: %v", err)
	}

	current, err := f.service.Get(ctx, view.ID, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.ResultID != "" || current.Warning != "" || current.State == app.StateComplete {
		t.Fatalf("restarted attempt picked up the previous result: %+v", current)
	}
}
