package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"medquiz-service/internal/domain"
)

// LeaderboardCache keeps computed leaderboards as JSON strings for a short TTL.
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLeaderboardCache(client *redis.Client, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{client: client, ttl: ttl}
}

func (c *LeaderboardCache) GetLeaderboard(ctx context.Context, quizID string) (domain.Leaderboard, bool, error) {
	raw, err := c.client.Get(ctx, leaderboardKey(quizID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Leaderboard{}, false, nil
	}
	if err != nil {
		return domain.Leaderboard{}, false, err
	}
	var lb domain.Leaderboard
	if err := json.Unmarshal(raw, &lb); err != nil {
		return domain.Leaderboard{}, false, err
	}
	return lb, true, nil
}

func (c *LeaderboardCache) SetLeaderboard(ctx context.Context, lb domain.Leaderboard) error {
	raw, err := json.Marshal(lb)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, leaderboardKey(lb.QuizID), raw, c.ttl).Err()
}

func (c *LeaderboardCache) InvalidateLeaderboard(ctx context.Context, quizID string) error {
	return c.client.Del(ctx, leaderboardKey(quizID)).Err()
}

func leaderboardKey(quizID string) string {
	return "medquiz:leaderboard:" + quizID
}
