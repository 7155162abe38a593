package memory

import (
	"context"
	"sort"
	"sync"

	"medquiz-service/internal/domain"
)

// Store keeps every persistent record in process memory. It backs the server
// when no Postgres URL is configured and doubles as the bank loader.
type Store struct {
	mu        sync.RWMutex
	quizzes   map[string]domain.CustomQuiz
	questions map[string]map[int]domain.Question
	results   []domain.QuizResult
	profiles  map[string]domain.Profile
	accounts  map[string]domain.Account
	ratings   map[string]map[string]domain.Rating
	configs   []domain.SavedConfig
}

func NewStore() *Store {
	return &Store{
		quizzes:   make(map[string]domain.CustomQuiz),
		questions: make(map[string]map[int]domain.Question),
		profiles:  make(map[string]domain.Profile),
		accounts:  make(map[string]domain.Account),
		ratings:   make(map[string]map[string]domain.Rating),
	}
}

func (s *Store) CreateQuiz(_ context.Context, quiz domain.CustomQuiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[quiz.ID] = quiz
	return nil
}

func (s *Store) GetQuiz(_ context.Context, quizID string) (domain.CustomQuiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.CustomQuiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

// ListQuizzes returns quizzes newest first.
func (s *Store) ListQuizzes(_ context.Context) ([]domain.CustomQuiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CustomQuiz, 0, len(s.quizzes))
	for _, q := range s.quizzes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpsertQuestion(_ context.Context, q domain.Question) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(q)
}

func (s *Store) UpsertQuestions(_ context.Context, quizID string, qs []domain.Question) ([]domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[quizID]; !ok {
		return nil, domain.ErrQuizNotFound
	}
	stored := make([]domain.Question, 0, len(qs))
	for _, q := range qs {
		q.QuizID = quizID
		saved, err := s.upsertLocked(q)
		if err != nil {
			return nil, err
		}
		stored = append(stored, saved)
	}
	return stored, nil
}

func (s *Store) upsertLocked(q domain.Question) (domain.Question, error) {
	if _, ok := s.quizzes[q.QuizID]; !ok {
		return domain.Question{}, domain.ErrQuizNotFound
	}
	slots, ok := s.questions[q.QuizID]
	if !ok {
		slots = make(map[int]domain.Question)
		s.questions[q.QuizID] = slots
	}
	if existing, ok := slots[q.Position]; ok {
		q.ID = existing.ID
	}
	slots[q.Position] = q
	return q, nil
}

// ListQuestions returns the authored questions ordered by position.
func (s *Store) ListQuestions(_ context.Context, quizID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questionsLocked(quizID), nil
}

func (s *Store) questionsLocked(quizID string) []domain.Question {
	slots := s.questions[quizID]
	out := make([]domain.Question, 0, len(slots))
	for _, q := range slots {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (s *Store) LoadBank(_ context.Context, quizID string) (domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Bank{}, domain.ErrQuizNotFound
	}
	return domain.Bank{Quiz: quiz, Questions: s.questionsLocked(quizID)}, nil
}

func (s *Store) InsertResult(_ context.Context, r domain.QuizResult) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return r.ID, nil
}

func (s *Store) GetResult(_ context.Context, id string) (domain.QuizResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.results {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.QuizResult{}, domain.ErrResultNotFound
}

func (s *Store) ListResults(_ context.Context, quizID string) ([]domain.QuizResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.QuizResult
	for _, r := range s.results {
		if r.QuizID == quizID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) UpsertProfile(_ context.Context, p domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}

func (s *Store) GetProfile(_ context.Context, userID string) (domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	return p, nil
}

func (s *Store) ProfilesByIDs(_ context.Context, userIDs []string) (map[string]domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Profile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) CreateAccount(_ context.Context, a domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Email == a.Email {
			return domain.ErrEmailTaken
		}
	}
	s.accounts[a.ID] = a
	return nil
}

func (s *Store) AccountByEmail(_ context.Context, email string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return domain.Account{}, domain.ErrAccountNotFound
}

func (s *Store) AccountByID(_ context.Context, id string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return a, nil
}

func (s *Store) UpsertRating(_ context.Context, r domain.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.ratings[r.QuizID]
	if !ok {
		byUser = make(map[string]domain.Rating)
		s.ratings[r.QuizID] = byUser
	}
	byUser[r.UserID] = r
	return nil
}

// AverageRating is 0 for a quiz nobody rated.
func (s *Store) AverageRating(_ context.Context, quizID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byUser := s.ratings[quizID]
	if len(byUser) == 0 {
		return 0, nil
	}
	total := 0
	for _, r := range byUser {
		total += r.Stars
	}
	return float64(total) / float64(len(byUser)), nil
}

func (s *Store) SaveConfig(_ context.Context, c domain.SavedConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, c)
	return nil
}

// ListConfigs returns the user's configurations newest first.
func (s *Store) ListConfigs(_ context.Context, userID string) ([]domain.SavedConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SavedConfig
	for i := len(s.configs) - 1; i >= 0; i-- {
		if s.configs[i].UserID == userID {
			out = append(out, s.configs[i])
		}
	}
	return out, nil
}
