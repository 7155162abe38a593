package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"medquiz-service/internal/domain"
)

// ConfigService keeps a user's saved generator configurations.
type ConfigService struct {
	configs ConfigRepository
	now     func() time.Time
}

func NewConfigService(configs ConfigRepository) *ConfigService {
	return &ConfigService{configs: configs, now: time.Now}
}

func (s *ConfigService) Save(ctx context.Context, userID string, cfg domain.QuizConfig) (domain.SavedConfig, error) {
	if err := cfg.Validate(); err != nil {
		return domain.SavedConfig{}, err
	}
	saved := domain.SavedConfig{ID: uuid.NewString(), UserID: userID, Config: cfg, CreatedAt: s.now()}
	if err := s.configs.SaveConfig(ctx, saved); err != nil {
		return domain.SavedConfig{}, err
	}
	return saved, nil
}

// List returns the user's configurations, newest first.
func (s *ConfigService) List(ctx context.Context, userID string) ([]domain.SavedConfig, error) {
	return s.configs.ListConfigs(ctx, userID)
}
