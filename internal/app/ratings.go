package app

import (
	"context"
	"fmt"
	"time"

	"medquiz-service/internal/domain"
)

// RatingService records star ratings on custom quizzes.
type RatingService struct {
	quizzes QuizRepository
	ratings RatingRepository
	now     func() time.Time
}

func NewRatingService(quizzes QuizRepository, ratings RatingRepository) *RatingService {
	return &RatingService{quizzes: quizzes, ratings: ratings, now: time.Now}
}

// Rate stores one rating per user and quiz; a repeat replaces the earlier stars.
func (s *RatingService) Rate(ctx context.Context, userID, quizID string, stars int) (float64, error) {
	if stars < 1 || stars > 5 {
		return 0, fmt.Errorf("%w: stars must be 1..5, got %d", domain.ErrInvalidRating, stars)
	}
	if _, err := s.quizzes.GetQuiz(ctx, quizID); err != nil {
		return 0, err
	}
	rating := domain.Rating{QuizID: quizID, UserID: userID, Stars: stars, CreatedAt: s.now()}
	if err := s.ratings.UpsertRating(ctx, rating); err != nil {
		return 0, err
	}
	return s.ratings.AverageRating(ctx, quizID)
}

func (s *RatingService) Average(ctx context.Context, quizID string) (float64, error) {
	return s.ratings.AverageRating(ctx, quizID)
}
