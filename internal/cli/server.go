package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"medquiz-service/internal/app"
	"medquiz-service/internal/config"
	"medquiz-service/internal/infra/memory"
	"medquiz-service/internal/infra/postgres"
	redisinfra "medquiz-service/internal/infra/redis"
	"medquiz-service/internal/infra/storage"
	"medquiz-service/internal/llm"
	"medquiz-service/internal/logger"
	"medquiz-service/internal/metrics"
	transport "medquiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// store is satisfied by both the Postgres and the in-memory store.
type store interface {
	app.QuizRepository
	app.ResultRepository
	app.ProfileRepository
	app.AccountRepository
	app.RatingRepository
	app.ConfigRepository
}

type bankLoader interface {
	memory.BankLoader
	redisinfra.BankLoader
}

type backends struct {
	store       store
	loader      bankLoader
	banks       app.BankRepository
	sessions    app.SessionRepository
	denylist    app.TokenDenylist
	leaderboard app.LeaderboardCache
	images      app.ImageStore
	uploadsDir  string
	closers     []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	m := metrics.New()
	baseLLM := llm.New(llmConfig(cfg), llm.NoCredential, llm.WithObserver(m))
	generators := func(apiKey string) app.QuestionGenerator {
		return baseLLM.WithCredential(llm.NewCredential(apiKey))
	}

	retry := app.DefaultRetryPolicy()
	if cfg.Session.RetryMax > 0 {
		retry.MaxAttempts = cfg.Session.RetryMax
	}
	retry.BaseDelay = config.TTLDuration(cfg.Session.RetryBase, retry.BaseDelay)

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		if secret, err = randomSecret(); err != nil {
			return err
		}
		log.Warn("auth.jwt_secret not set; tokens will not survive a restart")
	}

	results := app.NewResultService(b.store, b.store, b.leaderboard, log)
	sessions := app.NewSessionService(b.sessions, b.banks, results, generators,
		app.WithLogger(log),
		app.WithRetryPolicy(retry),
		app.WithTickInterval(config.TTLDuration(cfg.Session.TickInterval, time.Second)),
		app.WithSessionObserver(m),
	)
	svc := transport.Services{
		Sessions: sessions,
		Results:  results,
		Editor:   app.NewEditorService(b.store, b.banks, b.store, b.store, b.images, log),
		Access:   app.NewAccessGate(b.banks),
		Accounts: app.NewAccountService(b.store, b.store, b.denylist, b.images, secret,
			config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour), app.WithAccountLogger(log)),
		Ratings: app.NewRatingService(b.store, b.store),
		Configs: app.NewConfigService(b.store),
	}

	limiter := transport.NewRateLimiter(orFloat(cfg.Server.RateLimit, 20), orInt(cfg.Server.RateBurst, 40))
	router := transport.NewRouter(svc, transport.RouterOptions{
		Log:         log,
		Metrics:     m,
		Limiter:     limiter,
		AllowOrigin: cfg.Server.AllowOrigin,
		UploadsDir:  b.uploadsDir,
	})

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}
	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 60*time.Second),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting medquiz service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sessions.RunReaper(gctx, time.Minute, config.TTLDuration(cfg.Session.IdleTimeout, 2*time.Hour))
	})
	g.Go(func() error {
		return limiter.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openBackends picks Postgres and Redis when configured and falls back to memory otherwise.
func openBackends(ctx context.Context, cfg config.Config, log *zap.Logger) (*backends, error) {
	b := &backends{}
	ok := false
	defer func() {
		if !ok {
			b.close()
		}
	}()

	if cfg.Postgres.URL != "" {
		db := postgres.OpenDB(cfg.Postgres.URL)
		b.closers = append(b.closers, func() { _ = db.Close() })
		if err := pingDB(ctx, db); err != nil {
			return nil, err
		}
		if err := migrateDB(ctx, db, log); err != nil {
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect pgx pool: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		b.store = postgres.NewStore(db)
		b.loader = postgres.NewBankLoader(pool)
	} else {
		log.Warn("postgres not configured; data is kept in memory")
		mem := memory.NewStore()
		b.store, b.loader = mem, mem
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		b.banks = redisinfra.NewBankRepository(client, b.loader, quizTTL, log)
		b.sessions = redisinfra.NewSessionStore(client, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
		b.denylist = redisinfra.NewDenylist(client)
		b.leaderboard = redisinfra.NewLeaderboardCache(client, config.TTLDuration(cfg.Quiz.LeaderboardTTL, 30*time.Second))
	} else {
		b.banks = memory.NewBankRepository(b.loader, quizTTL)
		b.sessions = memory.NewSessionStore()
		b.denylist = memory.NewDenylist()
	}

	if err := openImages(ctx, cfg.Storage, b); err != nil {
		return nil, err
	}
	ok = true
	return b, nil
}

func openImages(ctx context.Context, cfg config.StorageConfig, b *backends) error {
	if cfg.Driver == "minio" {
		store, err := storage.NewMinIO(storage.MinIOConfig{
			Endpoint:      cfg.MinIO.Endpoint,
			AccessKey:     cfg.MinIO.AccessKey,
			SecretKey:     cfg.MinIO.SecretKey,
			Bucket:        cfg.MinIO.Bucket,
			UseSSL:        cfg.MinIO.UseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return err
		}
		b.images = store
		return nil
	}
	local := storage.NewLocal(cfg.LocalDir, cfg.PublicBaseURL)
	b.images = local
	b.uploadsDir = local.Dir()
	return nil
}

func pingDB(ctx context.Context, db *bun.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func orFloat(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func orInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
