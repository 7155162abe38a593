package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun/migrate"
	"golang.org/x/crypto/bcrypt"
	"medquiz-service/internal/app"
	"medquiz-service/internal/domain"
	"medquiz-service/internal/infra/memory"
	"medquiz-service/internal/infra/postgres"
	pgmigrations "medquiz-service/internal/infra/postgres/migrations"
	infraredis "medquiz-service/internal/infra/redis"
)

func TestCustomQuizEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := postgres.OpenDB(pgURL)
	defer db.Close()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := postgres.NewStore(db)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	banks := infraredis.NewBankRepository(redisClient, postgres.NewBankLoader(pool), 5*time.Minute, nil)
	results := app.NewResultService(store, store, infraredis.NewLeaderboardCache(redisClient, time.Minute), nil)
	accounts := app.NewAccountService(store, store, infraredis.NewDenylist(redisClient), nil, "integration", time.Hour,
		app.WithBcryptCost(bcrypt.MinCost))
	editor := app.NewEditorService(store, banks, store, store, nil, nil)
	sessions := app.NewSessionService(infraredis.NewSessionStore(redisClient, 5*time.Minute), banks, results,
		func(string) app.QuestionGenerator { return nil })

	creator, err := accounts.SignUp(ctx, app.SignUpInput{Email: "iyer@example.com", Password: "longenough", Name: "Dr. Iyer", Affiliation: "AIIMS"})
	if err != nil {
		t.Fatalf("sign up creator: %v", err)
	}
	if _, err := accounts.SignUp(ctx, app.SignUpInput{Email: "IYER@example.com", Password: "longenough", Name: "Dup"}); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected duplicate email rejected, got %v", err)
	}
	taker, err := accounts.SignUp(ctx, app.SignUpInput{Email: "ravi@example.com", Password: "longenough", Name: "Ravi"})
	if err != nil {
		t.Fatalf("sign up taker: %v", err)
	}

	limit, _ := domain.Seconds(45)
	quiz, code, err := editor.CreateQuiz(ctx, creator.UserID, app.QuizInput{Title: "Renal", QuestionCount: 2, TimePerQuestion: limit, Private: true})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	inputs := []app.QuestionInput{
		{Position: 2, Prompt: "Main site of Na reabsorption?", Options: [4]string{"DCT", "PCT", "Loop", "CD"}, Correct: "B"},
		{Position: 1, Prompt: "Where is renin secreted?", Options: [4]string{"JG cells", "Macula densa", "PCT", "CD"}, Correct: "A", Explanation: "Juxtaglomerular cells."},
	}
	authored, err := editor.SaveAll(ctx, creator.UserID, quiz.ID, inputs)
	if err != nil {
		t.Fatalf("save all: %v", err)
	}
	// overwrite slot 1; the slot keeps its row
	inputs[1].Prompt = "Which cells secrete renin?"
	rewritten, err := editor.UpsertQuestion(ctx, creator.UserID, quiz.ID, inputs[1])
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rewritten.ID != authored[0].ID {
		t.Fatalf("upsert returned %q, slot 1 is stored as %q", rewritten.ID, authored[0].ID)
	}

	bank, err := banks.GetBank(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("get bank: %v", err)
	}
	if len(bank.Questions) != 2 || bank.Questions[0].Prompt != "Which cells secrete renin?" || bank.Questions[0].ID != rewritten.ID || bank.Questions[1].Correct != domain.LetterB {
		t.Fatalf("unexpected bank %+v", bank.Questions)
	}
	if s, ok := bank.Quiz.TimePerQuestion.Fixed(); !ok || s != 45 || bank.Quiz.AccessCode != code {
		t.Fatalf("quiz fields lost: %+v", bank.Quiz)
	}

	owner := accounts.Owner(ctx, taker.UserID)
	if _, err := sessions.StartCustom(ctx, owner, quiz.ID, strings.ToLower(code), ""); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	view, err := sessions.StartCustom(ctx, owner, quiz.ID, code, "")
	if err != nil {
		t.Fatalf("start custom: %v", err)
	}
	_, _ = sessions.Answer(ctx, view.ID, taker.UserID, "A")
	_, _ = sessions.Advance(ctx, view.ID, taker.UserID)
	_, _ = sessions.Answer(ctx, view.ID, taker.UserID, "D")
	done, err := sessions.Advance(ctx, view.ID, taker.UserID)
	if err != nil {
		t.Fatalf("final advance: %v", err)
	}
	if done.State != app.StateComplete || done.Score != 1 || done.ResultID == "" || done.Warning != "" {
		t.Fatalf("unexpected final view %+v", done)
	}

	stored, err := results.Get(ctx, done.ResultID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if stored.DisplayName != "Ravi" || stored.Total != 2 || stored.TimeTaken == nil {
		t.Fatalf("unexpected stored result %+v", stored)
	}
	if _, err := results.Persist(ctx, domain.QuizResult{QuizID: quiz.ID, DisplayName: "Guest", Score: 2, Total: 2}); err != nil {
		t.Fatalf("persist anonymous: %v", err)
	}

	lb, err := results.Leaderboard(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 2 || lb.Entries[0].DisplayName != "Guest" || lb.Entries[1].Affiliation != domain.NotSpecified {
		t.Fatalf("unexpected leaderboard %+v", lb.Entries)
	}

	ratings := app.NewRatingService(store, store)
	_, _ = ratings.Rate(ctx, taker.UserID, quiz.ID, 5)
	avg, err := ratings.Rate(ctx, creator.UserID, quiz.ID, 4)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if avg != 4.5 {
		t.Fatalf("expected average 4.5, got %v", avg)
	}

	summaries, err := editor.Browse(ctx)
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if len(summaries) != 1 || summaries[0].CreatorName != "Dr. Iyer" || summaries[0].Quiz.AccessCode != "" {
		t.Fatalf("unexpected browse %+v", summaries)
	}

	configs := app.NewConfigService(store)
	count, _ := domain.FixedCount(20)
	if _, err := configs.Save(ctx, taker.UserID, domain.QuizConfig{Subject: "Pathology", Chapter: domain.CompleteSubject, Difficulty: domain.DifficultyHard, Count: count}); err != nil {
		t.Fatalf("save config: %v", err)
	}
	saved, err := configs.List(ctx, taker.UserID)
	if err != nil || len(saved) != 1 {
		t.Fatalf("list configs: %v %+v", err, saved)
	}
	if n, ok := saved[0].Config.Count.Fixed(); !ok || n != 20 {
		t.Fatalf("count lost: %+v", saved[0].Config)
	}
	if _, ok := saved[0].Config.TimeLimit.Fixed(); ok {
		t.Fatalf("expected no time limit, got %v", saved[0].Config.TimeLimit)
	}
}

func TestGeneratedResultsUseFreeTextQuizID(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()

	db := postgres.OpenDB(pgURL)
	defer db.Close()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := postgres.NewStore(db)
	results := app.NewResultService(store, store, nil, nil)

	for i, score := range []int{3, 5, 3} {
		if _, err := results.Persist(ctx, domain.QuizResult{QuizID: domain.AIGeneratedQuizID, DisplayName: fmt.Sprintf("user-%d", i), Score: score, Total: 5}); err != nil {
			t.Fatalf("persist: %v", err)
		}
	}
	lb, err := results.Leaderboard(ctx, domain.AIGeneratedQuizID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	got := []string{lb.Entries[0].DisplayName, lb.Entries[1].DisplayName, lb.Entries[2].DisplayName}
	if got[0] != "user-1" || got[1] != "user-0" || got[2] != "user-2" {
		t.Fatalf("expected stable order by score, got %v", got)
	}

	if _, err := store.GetQuiz(ctx, "not-a-uuid"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found for malformed id, got %v", err)
	}
	if _, err := store.GetResult(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, domain.ErrResultNotFound) {
		t.Fatalf("expected result not found, got %v", err)
	}
	if _, err := store.UpsertQuestion(ctx, domain.Question{
		ID: "11111111-1111-1111-1111-111111111111", QuizID: "22222222-2222-2222-2222-222222222222", Position: 1,
		Prompt: "orphan", Options: domain.NewOptions([4]string{"a", "b", "c", "d"}), Correct: domain.LetterA,
	}); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected missing quiz for orphan question, got %v", err)
	}

	// memory and postgres agree on the leaderboard shape
	mem := memory.NewStore()
	memResults := app.NewResultService(mem, mem, nil, nil)
	for i, score := range []int{3, 5, 3} {
		_, _ = memResults.Persist(ctx, domain.QuizResult{QuizID: domain.AIGeneratedQuizID, DisplayName: fmt.Sprintf("user-%d", i), Score: score, Total: 5})
	}
	memLB, _ := memResults.Leaderboard(ctx, domain.AIGeneratedQuizID)
	for i := range memLB.Entries {
		if memLB.Entries[i].DisplayName != lb.Entries[i].DisplayName || memLB.Entries[i].Percentage != lb.Entries[i].Percentage {
			t.Fatalf("stores disagree at %d: %+v vs %+v", i, memLB.Entries[i], lb.Entries[i])
		}
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
