package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a quiz session is unknown or was discarded.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrQuizNotFound indicates the custom quiz could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a question slot has not been authored.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrResultNotFound indicates an unknown result id.
	ErrResultNotFound = errors.New("result not found")
	// ErrProfileNotFound is returned when a user has no profile row.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrAccountNotFound is returned when no account matches an e-mail or id.
	ErrAccountNotFound = errors.New("account not found")

	ErrAccessDenied       = errors.New("access code does not match")
	ErrForbidden          = errors.New("only the quiz creator can do this")
	ErrUnauthenticated    = errors.New("sign in required")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")

	ErrInvalidConfig   = errors.New("invalid quiz configuration")
	ErrInvalidQuestion = errors.New("invalid question")
	ErrInvalidResult   = errors.New("invalid quiz result")
	ErrInvalidRating   = errors.New("rating must be between 1 and 5")
	ErrInvalidInput    = errors.New("invalid input")

	// ErrQuizIncomplete is returned when a bank holds fewer questions than declared.
	ErrQuizIncomplete = errors.New("quiz has unanswered question slots")
	// ErrNotAnswered is returned when advancing before the current question is answered or expired.
	ErrNotAnswered = errors.New("current question has not been answered")
	// ErrSessionComplete is returned for moves on a finished session.
	ErrSessionComplete = errors.New("quiz session already complete")
	// ErrBankExhausted is returned when a preloaded session runs past its questions.
	ErrBankExhausted = errors.New("question bank exhausted")
	// ErrNotRetryable is returned when retrying a session that has not failed.
	ErrNotRetryable = errors.New("quiz session is not in a failed state")
)

// IncompleteQuestionError names the first question slot missing required fields.
type IncompleteQuestionError struct {
	Position int
}

func (e *IncompleteQuestionError) Error() string {
	return fmt.Sprintf("Question %d is incomplete", e.Position)
}

func (e *IncompleteQuestionError) Is(target error) bool {
	return target == ErrQuizIncomplete
}

// FailureKind classifies errors from the external question generator.
type FailureKind string

const (
	FailureMissingCredential FailureKind = "missing-credential"
	FailureInvalidCredential FailureKind = "invalid-credential"
	FailureRateLimited       FailureKind = "rate-limited"
	FailureMalformedResponse FailureKind = "malformed-response"
	FailureNetwork           FailureKind = "network"
)

// Failure is a classified external-call error.
type Failure struct {
	Kind   FailureKind
	Status int // HTTP status when the server answered
	Err    error
}

func (f *Failure) Error() string {
	switch {
	case f.Err != nil && f.Status != 0:
		return fmt.Sprintf("%s (status %d): %v", f.Kind, f.Status, f.Err)
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	case f.Status != 0:
		return fmt.Sprintf("%s (status %d)", f.Kind, f.Status)
	}
	return string(f.Kind)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure wraps err with a failure kind.
func NewFailure(kind FailureKind, status int, err error) *Failure {
	return &Failure{Kind: kind, Status: status, Err: err}
}

// IsRateLimited reports whether err is a rate-limited failure.
func IsRateLimited(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == FailureRateLimited
}

// AsFailure returns err as a *Failure, classifying unknown errors as network failures.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: FailureNetwork, Err: err}
}
