package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"medquiz-service/internal/domain"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// OpenDB connects bun to Postgres through pgdriver.
func OpenDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// Store implements the persistent repositories on top of bun.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateQuiz(ctx context.Context, quiz domain.CustomQuiz) error {
	row := newQuizRow(quiz)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}
	return nil
}

func (s *Store) GetQuiz(ctx context.Context, quizID string) (domain.CustomQuiz, error) {
	if !validID(quizID) {
		return domain.CustomQuiz{}, domain.ErrQuizNotFound
	}
	var row quizRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", quizID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CustomQuiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.CustomQuiz{}, fmt.Errorf("select quiz: %w", err)
	}
	return row.toDomain()
}

func (s *Store) ListQuizzes(ctx context.Context) ([]domain.CustomQuiz, error) {
	var rows []quizRow
	if err := s.db.NewSelect().Model(&rows).Order("created_at DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	out := make([]domain.CustomQuiz, 0, len(rows))
	for _, row := range rows {
		quiz, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, quiz)
	}
	return out, nil
}

func (s *Store) UpsertQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	if !validID(q.QuizID) {
		return domain.Question{}, domain.ErrQuizNotFound
	}
	stored, err := s.upsertQuestions(ctx, s.db, []domain.Question{q})
	if err != nil {
		return domain.Question{}, err
	}
	return stored[0], nil
}

func (s *Store) UpsertQuestions(ctx context.Context, quizID string, qs []domain.Question) ([]domain.Question, error) {
	if !validID(quizID) {
		return nil, domain.ErrQuizNotFound
	}
	if len(qs) == 0 {
		return nil, nil
	}
	in := make([]domain.Question, 0, len(qs))
	for _, q := range qs {
		q.QuizID = quizID
		in = append(in, q)
	}
	var stored []domain.Question
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		stored, err = s.upsertQuestions(ctx, tx, in)
		return err
	})
	return stored, err
}

type questionSlot struct {
	ID       string `bun:"id"`
	Position int    `bun:"position"`
}

// upsertQuestions keeps the slot's original id; the last write wins on (quiz_id, position).
// The returned questions carry the ids actually stored.
func (s *Store) upsertQuestions(ctx context.Context, db bun.IDB, qs []domain.Question) ([]domain.Question, error) {
	rows := make([]questionRow, 0, len(qs))
	for _, q := range qs {
		rows = append(rows, newQuestionRow(q))
	}
	var slots []questionSlot
	err := db.NewInsert().
		Model(&rows).
		On("CONFLICT (quiz_id, position) DO UPDATE").
		Set("prompt = EXCLUDED.prompt").
		Set("option_a = EXCLUDED.option_a").
		Set("option_b = EXCLUDED.option_b").
		Set("option_c = EXCLUDED.option_c").
		Set("option_d = EXCLUDED.option_d").
		Set("correct_answer = EXCLUDED.correct_answer").
		Set("explanation = EXCLUDED.explanation").
		Set("image_url = EXCLUDED.image_url").
		Returning("id, position").
		Scan(ctx, &slots)
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == foreignKeyViolation {
		return nil, domain.ErrQuizNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("upsert questions: %w", err)
	}

	ids := make(map[int]string, len(slots))
	for _, slot := range slots {
		ids[slot.Position] = slot.ID
	}
	stored := make([]domain.Question, 0, len(qs))
	for _, q := range qs {
		if id, ok := ids[q.Position]; ok {
			q.ID = id
		}
		stored = append(stored, q)
	}
	return stored, nil
}

func (s *Store) ListQuestions(ctx context.Context, quizID string) ([]domain.Question, error) {
	if !validID(quizID) {
		return nil, nil
	}
	var rows []questionRow
	if err := s.db.NewSelect().Model(&rows).Where("quiz_id = ?", quizID).Order("position ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	out := make([]domain.Question, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *Store) InsertResult(ctx context.Context, r domain.QuizResult) (string, error) {
	row := resultRow{
		ID:             r.ID,
		QuizID:         r.QuizID,
		UserID:         r.UserID,
		DisplayName:    r.DisplayName,
		Score:          r.Score,
		TotalQuestions: r.Total,
		TimeTaken:      r.TimeTaken,
		CreatedAt:      r.CreatedAt,
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return "", fmt.Errorf("insert result: %w", err)
	}
	return row.ID, nil
}

func (s *Store) GetResult(ctx context.Context, id string) (domain.QuizResult, error) {
	if !validID(id) {
		return domain.QuizResult{}, domain.ErrResultNotFound
	}
	var row resultRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QuizResult{}, domain.ErrResultNotFound
	}
	if err != nil {
		return domain.QuizResult{}, fmt.Errorf("select result: %w", err)
	}
	return row.toDomain(), nil
}

// ListResults returns results in insertion order.
func (s *Store) ListResults(ctx context.Context, quizID string) ([]domain.QuizResult, error) {
	var rows []resultRow
	if err := s.db.NewSelect().Model(&rows).Where("quiz_id = ?", quizID).Order("seq ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	out := make([]domain.QuizResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p domain.Profile) error {
	row := profileRow{UserID: p.UserID, Name: p.Name, Affiliation: p.Affiliation, AvatarURL: p.AvatarURL, UpdatedAt: p.UpdatedAt}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (user_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("affiliation = EXCLUDED.affiliation").
		Set("avatar_url = EXCLUDED.avatar_url").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	if !validID(userID) {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	var row profileRow
	err := s.db.NewSelect().Model(&row).Where("user_id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("select profile: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ProfilesByIDs(ctx context.Context, userIDs []string) (map[string]domain.Profile, error) {
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if validID(id) {
			ids = append(ids, id)
		}
	}
	out := make(map[string]domain.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []profileRow
	if err := s.db.NewSelect().Model(&rows).Where("user_id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("select profiles: %w", err)
	}
	for _, row := range rows {
		out[row.UserID] = row.toDomain()
	}
	return out, nil
}

func (s *Store) CreateAccount(ctx context.Context, a domain.Account) error {
	row := accountRow{ID: a.ID, Email: a.Email, PasswordHash: a.PasswordHash, CreatedAt: a.CreatedAt}
	_, err := s.db.NewInsert().Model(&row).Exec(ctx)
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation {
		return domain.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (domain.Account, error) {
	return s.account(ctx, "email = ?", email)
}

func (s *Store) AccountByID(ctx context.Context, id string) (domain.Account, error) {
	if !validID(id) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return s.account(ctx, "id = ?", id)
}

func (s *Store) account(ctx context.Context, where string, arg interface{}) (domain.Account, error) {
	var row accountRow
	err := s.db.NewSelect().Model(&row).Where(where, arg).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("select account: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpsertRating(ctx context.Context, r domain.Rating) error {
	if !validID(r.QuizID) {
		return domain.ErrQuizNotFound
	}
	row := ratingRow{QuizID: r.QuizID, UserID: r.UserID, Rating: r.Stars, CreatedAt: r.CreatedAt}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (quiz_id, user_id) DO UPDATE").
		Set("rating = EXCLUDED.rating").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert rating: %w", err)
	}
	return nil
}

// AverageRating is rounded to one decimal by get_quiz_avg_rating; 0 when unrated.
func (s *Store) AverageRating(ctx context.Context, quizID string) (float64, error) {
	if !validID(quizID) {
		return 0, nil
	}
	var avg float64
	if err := s.db.QueryRowContext(ctx, "SELECT get_quiz_avg_rating(?)", quizID).Scan(&avg); err != nil {
		return 0, fmt.Errorf("average rating: %w", err)
	}
	return avg, nil
}

func (s *Store) SaveConfig(ctx context.Context, c domain.SavedConfig) error {
	row := newConfigRow(c)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert config: %w", err)
	}
	return nil
}

func (s *Store) ListConfigs(ctx context.Context, userID string) ([]domain.SavedConfig, error) {
	if !validID(userID) {
		return nil, nil
	}
	var rows []configRow
	if err := s.db.NewSelect().Model(&rows).Where("user_id = ?", userID).Order("created_at DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	out := make([]domain.SavedConfig, 0, len(rows))
	for _, row := range rows {
		cfg, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// validID screens ids before they reach UUID columns, where a malformed value is a query error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
