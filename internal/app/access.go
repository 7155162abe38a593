package app

import (
	"context"

	"medquiz-service/internal/domain"
)

// Decision is the outcome of an access-code check.
type Decision int

const (
	Denied Decision = iota
	Granted
)

func (d Decision) String() string {
	if d == Granted {
		return "granted"
	}
	return "denied"
}

// CheckAccess grants public quizzes outright; private quizzes need the exact code,
// compared byte for byte with no trimming or case folding.
func CheckAccess(quiz domain.CustomQuiz, supplied string) Decision {
	if !quiz.IsPrivate() {
		return Granted
	}
	if supplied == quiz.AccessCode {
		return Granted
	}
	return Denied
}

// AccessGate checks codes against the cached bank.
type AccessGate struct {
	banks BankRepository
}

func NewAccessGate(banks BankRepository) *AccessGate {
	return &AccessGate{banks: banks}
}

// Verify returns the public view of the quiz when access is granted.
func (g *AccessGate) Verify(ctx context.Context, quizID, supplied string) (domain.CustomQuiz, error) {
	bank, err := g.banks.GetBank(ctx, quizID)
	if err != nil {
		return domain.CustomQuiz{}, err
	}
	if CheckAccess(bank.Quiz, supplied) != Granted {
		return domain.CustomQuiz{}, domain.ErrAccessDenied
	}
	return bank.Quiz.Public(), nil
}
