package app

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"medquiz-service/internal/domain"
)

// Reconcile recounts the score from the answer map. The recount wins over the
// tracked value; drifted reports whether the two disagreed.
func Reconcile(tracked int, answers map[int]domain.Letter, questions []domain.Question) (score int, drifted bool) {
	for index, letter := range answers {
		if index < 1 || index > len(questions) {
			continue
		}
		if questions[index-1].IsCorrect(letter) {
			score++
		}
	}
	return score, score != tracked
}

// ResultService persists results and builds leaderboards.
type ResultService struct {
	results  ResultRepository
	profiles ProfileRepository
	cache    LeaderboardCache
	now      func() time.Time
	log      *zap.Logger
}

// NewResultService accepts a nil cache.
func NewResultService(results ResultRepository, profiles ProfileRepository, cache LeaderboardCache, log *zap.Logger) *ResultService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ResultService{results: results, profiles: profiles, cache: cache, now: time.Now, log: log}
}

// Persist validates and inserts one result, returning its id.
func (s *ResultService) Persist(ctx context.Context, r domain.QuizResult) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if strings.TrimSpace(r.DisplayName) == "" {
		r.DisplayName = "Anonymous"
	}
	id, err := s.results.InsertResult(ctx, r)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		if err := s.cache.InvalidateLeaderboard(ctx, r.QuizID); err != nil {
			s.log.Warn("invalidate leaderboard cache", zap.String("quiz", r.QuizID), zap.Error(err))
		}
	}
	return id, nil
}

func (s *ResultService) Get(ctx context.Context, id string) (domain.QuizResult, error) {
	return s.results.GetResult(ctx, id)
}

// Leaderboard ranks all results for a quiz by score, keeping fetch order on ties.
func (s *ResultService) Leaderboard(ctx context.Context, quizID string) (domain.Leaderboard, error) {
	if s.cache != nil {
		if lb, ok, err := s.cache.GetLeaderboard(ctx, quizID); err == nil && ok {
			return lb, nil
		} else if err != nil {
			s.log.Warn("read leaderboard cache", zap.String("quiz", quizID), zap.Error(err))
		}
	}

	results, err := s.results.ListResults(ctx, quizID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	userIDs := lo.Uniq(lo.FilterMap(results, func(r domain.QuizResult, _ int) (string, bool) {
		return r.UserID, r.UserID != ""
	}))
	profiles := map[string]domain.Profile{}
	if len(userIDs) > 0 {
		profiles, err = s.profiles.ProfilesByIDs(ctx, userIDs)
		if err != nil {
			return domain.Leaderboard{}, err
		}
	}

	entries := lo.Map(results, func(r domain.QuizResult, _ int) domain.LeaderboardEntry {
		affiliation := strings.TrimSpace(profiles[r.UserID].Affiliation)
		if affiliation == "" {
			affiliation = domain.NotSpecified
		}
		return domain.LeaderboardEntry{
			DisplayName: r.DisplayName,
			Score:       r.Score,
			Total:       r.Total,
			Percentage:  Percentage(r.Score, r.Total),
			Affiliation: affiliation,
			CreatedAt:   r.CreatedAt,
		}
	})

	lb := domain.Leaderboard{QuizID: quizID, Entries: entries, UpdatedAt: s.now()}
	if s.cache != nil {
		if err := s.cache.SetLeaderboard(ctx, lb); err != nil {
			s.log.Warn("write leaderboard cache", zap.String("quiz", quizID), zap.Error(err))
		}
	}
	return lb, nil
}

// Percentage is round(100*score/total), 0 when total is 0.
func Percentage(score, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(score) / float64(total)))
}
