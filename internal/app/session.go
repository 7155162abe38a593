package app

import (
	"errors"
	"fmt"
	"time"

	"medquiz-service/internal/domain"
)

// State is the lifecycle position of a quiz session.
type State string

const (
	StateLoading  State = "loading"
	StateActive   State = "active"
	StateAnswered State = "answered"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// Source tells a session where its questions come from.
type Source interface {
	isSource()
}

// Generated sources ask the question generator for one question at a time.
type Generated struct {
	Scope      string
	Difficulty domain.Difficulty
}

// Preloaded sources serve an authored bank in order.
type Preloaded struct {
	QuizID    string
	Questions []domain.Question
}

func (Generated) isSource() {}
func (Preloaded) isSource() {}

// EventKind names a session transition.
type EventKind string

const (
	EventQuestionLoaded     EventKind = "question-loaded"
	EventAnswerRecorded     EventKind = "answer-recorded"
	EventTimerTicked        EventKind = "timer-ticked"
	EventTimeExpired        EventKind = "time-expired"
	EventQuizCompleted      EventKind = "quiz-completed"
	EventGenerationFailed   EventKind = "generation-failed"
	EventGenerationRetrying EventKind = "generation-retrying"
	EventRestarted          EventKind = "restarted"
	EventResultRecorded     EventKind = "result-recorded"
	EventSnapshot           EventKind = "snapshot"
)

// Event describes one transition. Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind          `json:"kind"`
	Index     int                `json:"index"`
	Correct   *bool              `json:"correct,omitempty"`
	Remaining int                `json:"remaining,omitempty"`
	Score     int                `json:"score"`
	Failure   domain.FailureKind `json:"failure,omitempty"`
	Attempt   int                `json:"attempt,omitempty"`
	RetryIn   time.Duration      `json:"retryIn,omitempty"`
}

// Session is the pure quiz state machine. It holds no locks and starts no goroutines;
// callers serialize access and drive the clock through Tick.
type Session struct {
	id        string
	config    domain.QuizConfig
	source    Source
	state     State
	questions []domain.Question
	index     int
	answers   map[int]domain.Letter
	score     int
	remaining int
	locked    bool
	failures  int
	lastErr   error
	epoch     uint64
	total     int
}

// NewSession starts at question 1. Preloaded sessions load it immediately.
func NewSession(id string, source Source, cfg domain.QuizConfig) (*Session, []Event) {
	s := &Session{
		id:      id,
		config:  cfg,
		source:  source,
		state:   StateLoading,
		index:   1,
		answers: make(map[int]domain.Letter),
	}
	if p, ok := source.(Preloaded); ok {
		s.questions = append([]domain.Question(nil), p.Questions...)
		return s, s.loadPreloaded()
	}
	return s, nil
}

func (s *Session) ID() string                { return s.id }
func (s *Session) Config() domain.QuizConfig { return s.config }
func (s *Session) Source() Source            { return s.source }
func (s *Session) State() State              { return s.state }
func (s *Session) Index() int                { return s.index }
func (s *Session) Score() int                { return s.score }
func (s *Session) Epoch() uint64             { return s.epoch }
func (s *Session) Locked() bool              { return s.locked }
func (s *Session) Failures() int             { return s.failures }

// Answers returns a copy of the answer map keyed by 1-based index.
func (s *Session) Answers() map[int]domain.Letter {
	out := make(map[int]domain.Letter, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// Questions returns the questions served so far (all of them for preloaded sessions).
func (s *Session) Questions() []domain.Question {
	return append([]domain.Question(nil), s.questions...)
}

// Current returns the question at the current index once it has loaded.
func (s *Session) Current() (domain.Question, bool) {
	if s.state == StateLoading || s.index < 1 || s.index > len(s.questions) {
		return domain.Question{}, false
	}
	return s.questions[s.index-1], true
}

// Resolved counts questions that were answered or ran out of time.
func (s *Session) Resolved() int {
	switch {
	case s.state == StateComplete:
		return s.total
	case s.state == StateAnswered, s.locked:
		return s.index
	}
	return s.index - 1
}

// Deliver installs a generated question for the current index.
func (s *Session) Deliver(epoch uint64, q domain.Question) []Event {
	if s.state != StateLoading || epoch != s.epoch {
		return nil
	}
	if _, ok := s.source.(Generated); !ok {
		return nil
	}
	s.questions = append(s.questions[:s.index-1], q)
	s.failures = 0
	s.lastErr = nil
	return s.activate()
}

// Backoff records a rate-limited attempt that will be retried automatically.
func (s *Session) Backoff(epoch uint64, err error, attempt int, delay time.Duration) []Event {
	if s.state != StateLoading || epoch != s.epoch {
		return nil
	}
	s.failures++
	s.lastErr = err
	return []Event{{
		Kind:    EventGenerationRetrying,
		Index:   s.index,
		Score:   s.score,
		Failure: failureKind(err),
		Attempt: attempt,
		RetryIn: delay,
	}}
}

// Fail moves a loading session to Failed.
func (s *Session) Fail(epoch uint64, err error) []Event {
	if s.state != StateLoading || epoch != s.epoch {
		return nil
	}
	s.state = StateFailed
	s.failures++
	s.lastErr = err
	return []Event{{Kind: EventGenerationFailed, Index: s.index, Score: s.score, Failure: failureKind(err)}}
}

// Retry re-enters Loading after a failure.
func (s *Session) Retry() ([]Event, error) {
	if s.state != StateFailed {
		return nil, domain.ErrNotRetryable
	}
	if _, ok := s.source.(Preloaded); ok {
		return nil, domain.ErrNotRetryable
	}
	s.state = StateLoading
	s.failures = 0
	s.lastErr = nil
	s.epoch++
	return nil, nil
}

// Select records the first answer for the current question. Later selections,
// selections after time expiry and invalid letters are ignored.
func (s *Session) Select(letter domain.Letter) []Event {
	if s.state != StateActive || s.locked || !letter.Valid() {
		return nil
	}
	if _, ok := s.config.TimeLimit.Fixed(); ok && s.remaining <= 0 {
		return nil
	}
	if _, answered := s.answers[s.index]; answered {
		return nil
	}
	q, ok := s.Current()
	if !ok {
		return nil
	}
	s.answers[s.index] = letter
	correct := q.IsCorrect(letter)
	if correct {
		s.score++
	}
	s.state = StateAnswered
	return []Event{{Kind: EventAnswerRecorded, Index: s.index, Correct: &correct, Score: s.score}}
}

// Tick advances the countdown by one second. Expiry locks the question but never advances.
func (s *Session) Tick() []Event {
	if _, ok := s.config.TimeLimit.Fixed(); !ok {
		return nil
	}
	if s.state != StateActive || s.locked || s.remaining <= 0 {
		return nil
	}
	s.remaining--
	events := []Event{{Kind: EventTimerTicked, Index: s.index, Remaining: s.remaining, Score: s.score}}
	if s.remaining == 0 {
		s.locked = true
		events = append(events, Event{Kind: EventTimeExpired, Index: s.index, Score: s.score})
	}
	return events
}

// Advance moves past an answered or expired question.
func (s *Session) Advance() ([]Event, error) {
	switch {
	case s.state == StateComplete:
		return nil, domain.ErrSessionComplete
	case s.state == StateAnswered, s.state == StateActive && s.locked:
	default:
		return nil, domain.ErrNotAnswered
	}

	if n, ok := s.config.Count.Fixed(); ok && s.index >= n {
		return s.complete(), nil
	}

	s.index++
	s.locked = false
	s.remaining = 0
	s.epoch++
	s.state = StateLoading
	if _, ok := s.source.(Preloaded); ok {
		return s.loadPreloaded(), nil
	}
	return nil, nil
}

// Finish ends an unbounded session on request. Fixed-count sessions complete only through Advance.
func (s *Session) Finish() ([]Event, error) {
	if s.state == StateComplete {
		return nil, domain.ErrSessionComplete
	}
	if _, ok := s.config.Count.Fixed(); ok {
		return nil, fmt.Errorf("%w: fixed-count quizzes finish after the last question", domain.ErrInvalidInput)
	}
	return s.complete(), nil
}

// Restart returns to question 1 with a clean score.
func (s *Session) Restart() []Event {
	s.index = 1
	s.score = 0
	s.answers = make(map[int]domain.Letter)
	s.locked = false
	s.remaining = 0
	s.failures = 0
	s.lastErr = nil
	s.total = 0
	s.epoch++
	s.state = StateLoading

	events := []Event{{Kind: EventRestarted, Index: 1}}
	if _, ok := s.source.(Preloaded); ok {
		events = append(events, s.loadPreloaded()...)
	} else {
		s.questions = nil
	}
	return events
}

func (s *Session) complete() []Event {
	s.total = s.Resolved()
	s.state = StateComplete
	s.locked = false
	s.remaining = 0
	return []Event{{Kind: EventQuizCompleted, Index: s.index, Score: s.score}}
}

func (s *Session) loadPreloaded() []Event {
	if s.index > len(s.questions) {
		s.state = StateFailed
		s.lastErr = domain.ErrBankExhausted
		return []Event{{Kind: EventGenerationFailed, Index: s.index, Score: s.score}}
	}
	return s.activate()
}

func (s *Session) activate() []Event {
	s.state = StateActive
	s.locked = false
	if limit, ok := s.config.TimeLimit.Fixed(); ok {
		s.remaining = limit
	} else {
		s.remaining = 0
	}
	return []Event{{Kind: EventQuestionLoaded, Index: s.index, Remaining: s.remaining, Score: s.score}}
}

func failureKind(err error) domain.FailureKind {
	var f *domain.Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
