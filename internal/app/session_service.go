package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"medquiz-service/internal/domain"
)

// Owner identifies who runs a session. An empty UserID is an anonymous session.
type Owner struct {
	UserID      string
	DisplayName string
}

// Update is pushed to subscribers after every transition.
type Update struct {
	Event Event `json:"event"`
	View  View  `json:"view"`
}

// SessionObserver is told when live sessions come and go.
type SessionObserver interface {
	SessionOpened()
	SessionClosed()
}

// LiveSession wraps the state machine with the timer, generation and fan-out that drive it.
type LiveSession struct {
	id      string
	owner   Owner
	started time.Time

	mu          sync.Mutex
	machine     *Session
	generator   QuestionGenerator
	subscribers map[chan Update]struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	stopTicker  context.CancelFunc
	stopGen     context.CancelFunc
	genEpoch    uint64
	generating  bool
	resultID    string
	warning     string
	touched     time.Time
	closed      bool
}

func (l *LiveSession) ID() string   { return l.id }
func (l *LiveSession) Owner() Owner { return l.owner }

// SessionService contains the quiz-taking use cases.
type SessionService struct {
	sessions   SessionRepository
	banks      BankRepository
	results    *ResultService
	generators GeneratorFactory
	retry      RetryPolicy
	tick       time.Duration
	now        func() time.Time
	log        *zap.Logger
	observer   SessionObserver
}

type SessionOption func(*SessionService)

func WithLogger(log *zap.Logger) SessionOption {
	return func(s *SessionService) { s.log = log }
}

// WithTickInterval shortens the one-second countdown step, for tests.
func WithTickInterval(d time.Duration) SessionOption {
	return func(s *SessionService) { s.tick = d }
}

func WithRetryPolicy(p RetryPolicy) SessionOption {
	return func(s *SessionService) { s.retry = p }
}

func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionService) { s.now = now }
}

func WithSessionObserver(o SessionObserver) SessionOption {
	return func(s *SessionService) { s.observer = o }
}

func NewSessionService(store SessionRepository, banks BankRepository, results *ResultService, generators GeneratorFactory, opts ...SessionOption) *SessionService {
	s := &SessionService{
		sessions:   store,
		banks:      banks,
		results:    results,
		generators: generators,
		retry:      DefaultRetryPolicy(),
		tick:       time.Second,
		now:        time.Now,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartGenerated opens a session whose questions come from the LLM, one per index.
func (s *SessionService) StartGenerated(_ context.Context, owner Owner, cfg domain.QuizConfig, apiKey string) (View, error) {
	if err := cfg.Validate(); err != nil {
		return View{}, err
	}
	machine, events := NewSession(uuid.NewString(), Generated{Scope: cfg.Scope(), Difficulty: cfg.Difficulty}, cfg)
	live := s.open(machine, owner, apiKey)

	live.mu.Lock()
	defer live.mu.Unlock()
	s.handleLocked(live, events)
	return s.viewLocked(live), nil
}

// StartCustom opens a session over an authored bank after the access check.
func (s *SessionService) StartCustom(ctx context.Context, owner Owner, quizID, accessCode, apiKey string) (View, error) {
	bank, err := s.banks.GetBank(ctx, quizID)
	if err != nil {
		return View{}, err
	}
	if owner.UserID != bank.Quiz.CreatorID && CheckAccess(bank.Quiz, accessCode) != Granted {
		return View{}, domain.ErrAccessDenied
	}
	questions, err := PlayableQuestions(bank)
	if err != nil {
		return View{}, err
	}
	count, err := domain.FixedCount(len(questions))
	if err != nil {
		return View{}, fmt.Errorf("%w: quiz has no questions", domain.ErrQuizIncomplete)
	}
	cfg := domain.QuizConfig{
		Subject:    bank.Quiz.Title,
		Chapter:    domain.CompleteSubject,
		Difficulty: domain.DifficultyMedium,
		Count:      count,
		TimeLimit:  bank.Quiz.TimePerQuestion,
	}
	machine, events := NewSession(uuid.NewString(), Preloaded{QuizID: quizID, Questions: questions}, cfg)
	live := s.open(machine, owner, apiKey)

	live.mu.Lock()
	defer live.mu.Unlock()
	s.handleLocked(live, events)
	return s.viewLocked(live), nil
}

// PlayableQuestions orders a bank by position and requires every declared slot.
func PlayableQuestions(bank domain.Bank) ([]domain.Question, error) {
	byPosition := make(map[int]domain.Question, len(bank.Questions))
	for _, q := range bank.Questions {
		byPosition[q.Position] = q
	}
	out := make([]domain.Question, 0, bank.Quiz.QuestionCount)
	for pos := 1; pos <= bank.Quiz.QuestionCount; pos++ {
		q, ok := byPosition[pos]
		if !ok || q.Validate() != nil {
			return nil, &domain.IncompleteQuestionError{Position: pos}
		}
		if q.Explanation == "" {
			q.Explanation = domain.NoExplanation
		}
		if q.Subject == "" {
			q.Subject = bank.Quiz.Title
		}
		out = append(out, q)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *SessionService) Get(_ context.Context, id, userID string) (View, error) {
	live, err := s.lookup(id, userID)
	if err != nil {
		return View{}, err
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	live.touched = s.now()
	return s.viewLocked(live), nil
}

// Answer records the user's choice. Repeated or late answers leave the session unchanged.
func (s *SessionService) Answer(_ context.Context, id, userID, choice string) (View, error) {
	letter, ok := domain.ParseLetter(choice)
	if !ok {
		return View{}, fmt.Errorf("%w: answer must be one of A-D", domain.ErrInvalidInput)
	}
	live, err := s.lookup(id, userID)
	if err != nil {
		return View{}, err
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	live.touched = s.now()
	s.handleLocked(live, live.machine.Select(letter))
	return s.viewLocked(live), nil
}

// Advance moves to the next question or completes the quiz.
func (s *SessionService) Advance(ctx context.Context, id, userID string) (View, error) {
	return s.finishWith(ctx, id, userID, (*Session).Advance)
}

// Finish ends an unbounded session.
func (s *SessionService) Finish(ctx context.Context, id, userID string) (View, error) {
	return s.finishWith(ctx, id, userID, (*Session).Finish)
}

func (s *SessionService) finishWith(ctx context.Context, id, userID string, move func(*Session) ([]Event, error)) (View, error) {
	live, err := s.lookup(id, userID)
	if err != nil {
		return View{}, err
	}

	live.mu.Lock()
	live.touched = s.now()
	events, err := move(live.machine)
	if err != nil {
		live.mu.Unlock()
		return View{}, err
	}
	s.handleLocked(live, events)
	completed := hasEvent(events, EventQuizCompleted)
	var result domain.QuizResult
	if completed {
		result = s.resultLocked(live)
	}
	epoch := live.machine.Epoch()
	view := s.viewLocked(live)
	live.mu.Unlock()

	if !completed {
		return view, nil
	}
	return s.record(ctx, live, epoch, result, view), nil
}

// Retry re-requests a question after a surfaced failure. A non-empty apiKey replaces
// the session's credential first.
func (s *SessionService) Retry(_ context.Context, id, userID, apiKey string) (View, error) {
	live, err := s.lookup(id, userID)
	if err != nil {
		return View{}, err
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	live.touched = s.now()
	if apiKey != "" {
		live.generator = s.generators(apiKey)
	}
	events, err := live.machine.Retry()
	if err != nil {
		return View{}, err
	}
	s.handleLocked(live, events)
	return s.viewLocked(live), nil
}

// Restart begins the same quiz again from question 1.
func (s *SessionService) Restart(_ context.Context, id, userID string) (View, error) {
	live, err := s.lookup(id, userID)
	if err != nil {
		return View{}, err
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	now := s.now()
	live.touched = now
	live.started = now
	live.resultID = ""
	live.warning = ""
	s.handleLocked(live, live.machine.Restart())
	return s.viewLocked(live), nil
}

// ResolveDoubt asks the generator about the current, already resolved question.
func (s *SessionService) ResolveDoubt(ctx context.Context, id, userID, doubt string) (string, error) {
	live, err := s.lookup(id, userID)
	if err != nil {
		return "", err
	}
	live.mu.Lock()
	live.touched = s.now()
	q, ok := live.machine.Current()
	resolved := live.machine.State() == StateAnswered || live.machine.Locked() || live.machine.State() == StateComplete
	gen := live.generator
	live.mu.Unlock()

	if !ok {
		return "", domain.ErrQuestionNotFound
	}
	if !resolved {
		return "", domain.ErrNotAnswered
	}
	return gen.ResolveDoubt(ctx, q, doubt)
}

// Subscribe returns a channel of session updates starting with a snapshot.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *SessionService) Subscribe(_ context.Context, id, userID string) (<-chan Update, func(), error) {
	live, err := s.lookup(id, userID)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan Update, 8)

	live.mu.Lock()
	if live.closed {
		live.mu.Unlock()
		return nil, nil, domain.ErrSessionNotFound
	}
	live.subscribers[ch] = struct{}{}
	ch <- Update{Event: Event{Kind: EventSnapshot, Index: live.machine.Index(), Score: live.machine.Score()}, View: s.viewLocked(live)}
	live.mu.Unlock()

	cancel := func() {
		live.mu.Lock()
		if _, ok := live.subscribers[ch]; ok {
			delete(live.subscribers, ch)
			close(ch)
		}
		live.mu.Unlock()
	}
	return ch, cancel, nil
}

// Discard drops a session; in-flight generation results are ignored afterwards.
func (s *SessionService) Discard(_ context.Context, id, userID string) error {
	live, err := s.lookup(id, userID)
	if err != nil {
		return err
	}
	s.close(live)
	return nil
}

// ReapIdle discards sessions untouched for longer than maxIdle.
func (s *SessionService) ReapIdle(maxIdle time.Duration) int {
	now := s.now()
	reaped := 0
	for _, live := range s.sessions.List() {
		live.mu.Lock()
		idle := now.Sub(live.touched) > maxIdle
		live.mu.Unlock()
		if idle {
			s.close(live)
			reaped++
		}
	}
	return reaped
}

// RunReaper calls ReapIdle every interval until ctx is done.
func (s *SessionService) RunReaper(ctx context.Context, every, maxIdle time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.ReapIdle(maxIdle); n > 0 {
				s.log.Info("reaped idle sessions", zap.Int("count", n))
			}
		}
	}
}

func (s *SessionService) open(machine *Session, owner Owner, apiKey string) *LiveSession {
	ctx, cancel := context.WithCancel(context.Background())
	now := s.now()
	live := &LiveSession{
		id:          machine.ID(),
		owner:       owner,
		started:     now,
		touched:     now,
		machine:     machine,
		generator:   s.generators(apiKey),
		subscribers: make(map[chan Update]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	s.sessions.Put(live)
	if s.observer != nil {
		s.observer.SessionOpened()
	}
	return live
}

func (s *SessionService) close(live *LiveSession) {
	s.sessions.Delete(live.id)

	live.mu.Lock()
	if live.closed {
		live.mu.Unlock()
		return
	}
	live.closed = true
	live.cancel()
	for ch := range live.subscribers {
		delete(live.subscribers, ch)
		close(ch)
	}
	live.mu.Unlock()

	if s.observer != nil {
		s.observer.SessionClosed()
	}
}

func (s *SessionService) lookup(id, userID string) (*LiveSession, error) {
	live, ok := s.sessions.Get(id)
	if !ok || live.owner.UserID != userID {
		return nil, domain.ErrSessionNotFound
	}
	return live, nil
}

// handleLocked reacts to machine events: timers, generation and fan-out.
func (s *SessionService) handleLocked(live *LiveSession, events []Event) {
	for _, ev := range events {
		switch ev.Kind {
		case EventQuestionLoaded:
			s.startTickerLocked(live)
		case EventAnswerRecorded, EventTimeExpired, EventQuizCompleted, EventRestarted, EventGenerationFailed:
			s.stopTickerLocked(live)
		}
		s.broadcastLocked(live, ev)
	}
	if live.machine.State() == StateLoading {
		s.generateLocked(live)
	}
}

func (s *SessionService) generateLocked(live *LiveSession) {
	src, ok := live.machine.Source().(Generated)
	if !ok || live.closed {
		return
	}
	epoch := live.machine.Epoch()
	if live.generating && live.genEpoch == epoch {
		return
	}
	if live.stopGen != nil {
		live.stopGen()
	}
	ctx, cancel := context.WithCancel(live.ctx)
	live.stopGen = cancel
	live.genEpoch = epoch
	live.generating = true
	go s.generate(ctx, live, epoch, src, live.generator)
}

func (s *SessionService) generate(ctx context.Context, live *LiveSession, epoch uint64, src Generated, gen QuestionGenerator) {
	var q domain.Question
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		q, err = gen.Generate(ctx, src.Scope, src.Difficulty)
		return err
	}, domain.IsRateLimited, func(attempt int, delay time.Duration, err error) {
		s.log.Info("question generation rate limited",
			zap.String("session", live.id), zap.Int("attempt", attempt), zap.Duration("retry_in", delay))
		live.mu.Lock()
		defer live.mu.Unlock()
		s.handleLocked(live, live.machine.Backoff(epoch, domain.AsFailure(err), attempt, delay))
	})

	live.mu.Lock()
	defer live.mu.Unlock()
	if live.genEpoch == epoch {
		live.generating = false
	}
	if live.closed || ctx.Err() != nil {
		return
	}
	if err != nil {
		s.log.Warn("question generation failed", zap.String("session", live.id), zap.Error(err))
		s.handleLocked(live, live.machine.Fail(epoch, domain.AsFailure(err)))
		return
	}
	s.handleLocked(live, live.machine.Deliver(epoch, q))
}

func (s *SessionService) startTickerLocked(live *LiveSession) {
	s.stopTickerLocked(live)
	if _, timed := live.machine.Config().TimeLimit.Fixed(); !timed || live.closed {
		return
	}
	ctx, cancel := context.WithCancel(live.ctx)
	live.stopTicker = cancel
	epoch := live.machine.Epoch()

	go func() {
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			live.mu.Lock()
			if ctx.Err() != nil || live.machine.Epoch() != epoch {
				live.mu.Unlock()
				return
			}
			s.handleLocked(live, live.machine.Tick())
			live.mu.Unlock()
		}
	}()
}

func (s *SessionService) stopTickerLocked(live *LiveSession) {
	if live.stopTicker != nil {
		live.stopTicker()
		live.stopTicker = nil
	}
}

func (s *SessionService) resultLocked(live *LiveSession) domain.QuizResult {
	m := live.machine
	score, drifted := Reconcile(m.Score(), m.Answers(), m.Questions())
	if drifted {
		s.log.Warn("tracked score disagreed with recount",
			zap.String("session", live.id), zap.Int("tracked", m.Score()), zap.Int("recounted", score))
	}
	elapsed := int(s.now().Sub(live.started).Seconds())
	return domain.QuizResult{
		QuizID:      m.View().QuizID,
		UserID:      live.owner.UserID,
		DisplayName: live.owner.DisplayName,
		Score:       score,
		Total:       m.Resolved(),
		TimeTaken:   &elapsed,
	}
}

// record persists a completed result for signed-in owners. Failures become a warning.
// The outcome is attached to the live session only while it is still on the completed
// attempt; after a restart or discard the caller still gets the completed view.
func (s *SessionService) record(ctx context.Context, live *LiveSession, epoch uint64, result domain.QuizResult, completed View) View {
	if live.owner.UserID == "" || s.results == nil {
		return completed
	}

	id, err := s.results.Persist(ctx, result)
	if err != nil {
		s.log.Error("persist quiz result failed",
			zap.String("session", live.id), zap.String("quiz", result.QuizID), zap.Error(err))
		completed.Warning = "Your result could not be saved."
	} else {
		completed.ResultID = id
	}

	live.mu.Lock()
	defer live.mu.Unlock()
	if live.closed || live.machine.Epoch() != epoch {
		s.log.Debug("session moved on before its result was recorded",
			zap.String("session", live.id), zap.String("result", id))
		return completed
	}
	live.resultID = completed.ResultID
	live.warning = completed.Warning
	s.broadcastLocked(live, Event{Kind: EventResultRecorded, Index: live.machine.Index(), Score: result.Score})
	return s.viewLocked(live)
}

func (s *SessionService) viewLocked(live *LiveSession) View {
	v := live.machine.View()
	v.ResultID = live.resultID
	v.Warning = live.warning
	return v
}

func (s *SessionService) broadcastLocked(live *LiveSession, ev Event) {
	if len(live.subscribers) == 0 {
		return
	}
	update := Update{Event: ev, View: s.viewLocked(live)}
	for ch := range live.subscribers {
		select {
		case ch <- update:
		default:
			// buffer full: drop the oldest queued update
			select {
			case <-ch:
			default:
			}
			ch <- update
		}
	}
}

func hasEvent(events []Event, kind EventKind) bool {
	for _, ev := range events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}
