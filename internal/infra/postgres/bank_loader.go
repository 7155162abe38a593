package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"medquiz-service/internal/domain"
)

// BankLoader reads a custom quiz and its questions straight from Postgres.
type BankLoader struct {
	pool *pgxpool.Pool
}

func NewBankLoader(pool *pgxpool.Pool) *BankLoader {
	return &BankLoader{pool: pool}
}

func (l *BankLoader) LoadBank(ctx context.Context, quizID string) (domain.Bank, error) {
	if !validID(quizID) {
		return domain.Bank{}, domain.ErrQuizNotFound
	}

	var (
		quiz        domain.CustomQuiz
		description *string
		accessCode  *string
		timeLimit   string
	)
	err := l.pool.QueryRow(ctx, `
		SELECT id::text, title, description, creator_id::text, question_count,
		       time_per_question, access_code, created_at, updated_at
		FROM custom_quizzes WHERE id = $1`, quizID).
		Scan(&quiz.ID, &quiz.Title, &description, &quiz.CreatorID, &quiz.QuestionCount,
			&timeLimit, &accessCode, &quiz.CreatedAt, &quiz.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bank{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Bank{}, fmt.Errorf("load quiz: %w", err)
	}
	if description != nil {
		quiz.Description = *description
	}
	if accessCode != nil {
		quiz.AccessCode = *accessCode
	}
	if quiz.TimePerQuestion, err = domain.ParseTimeLimit(timeLimit); err != nil {
		return domain.Bank{}, fmt.Errorf("load quiz: %w", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id::text, position, prompt, option_a, option_b, option_c, option_d,
		       correct_answer, COALESCE(explanation, ''), COALESCE(image_url, '')
		FROM quiz_questions WHERE quiz_id = $1 ORDER BY position`, quizID)
	if err != nil {
		return domain.Bank{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	bank := domain.Bank{Quiz: quiz}
	for rows.Next() {
		var (
			q       domain.Question
			options [4]string
			correct string
		)
		if err := rows.Scan(&q.ID, &q.Position, &q.Prompt, &options[0], &options[1], &options[2], &options[3],
			&correct, &q.Explanation, &q.ImageURL); err != nil {
			return domain.Bank{}, fmt.Errorf("scan question: %w", err)
		}
		q.QuizID = quiz.ID
		q.Options = domain.NewOptions(options)
		q.Correct = domain.Letter(correct)
		bank.Questions = append(bank.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.Bank{}, fmt.Errorf("load questions: %w", err)
	}
	return bank, nil
}
