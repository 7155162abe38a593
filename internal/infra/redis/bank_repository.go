package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"medquiz-service/internal/domain"
)

const (
	bankQuizField     = "quiz"
	bankQuestionField = "q:"
)

// errStaleBank means the bank was invalidated while it was being loaded.
var errStaleBank = errors.New("question bank invalidated during load")

// BankLoader fetches a custom quiz and its questions from a backing store.
type BankLoader interface {
	LoadBank(ctx context.Context, quizID string) (domain.Bank, error)
}

// BankRepository caches question banks in Redis (hash per quiz) and falls back to a loader on cache miss.
// The quiz shell is stored as:  HSET medquiz:bank:{quizID} quiz {json}
// Each question is stored as:   HSET medquiz:bank:{quizID} q:{position} {json}
// Invalidate bumps medquiz:bankgen:{quizID}; a load is written back only if that
// counter is unchanged since the load began.
type BankRepository struct {
	client *redis.Client
	loader BankLoader
	ttl    time.Duration
	sf     singleflight.Group
	log    *zap.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewBankRepository(client *redis.Client, loader BankLoader, ttl time.Duration, log *zap.Logger) *BankRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &BankRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *BankRepository) GetBank(ctx context.Context, quizID string) (domain.Bank, error) {
	if bank, ok := r.cached(ctx, quizID); ok {
		return bank, nil
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if bank, ok := r.cached(ctx, quizID); ok {
			return bank, nil
		}

		gen, genErr := r.generation(ctx, quizID)
		bank, err := r.loader.LoadBank(ctx, quizID)
		if err != nil {
			return domain.Bank{}, err
		}
		if genErr != nil {
			r.log.Warn("read question bank generation", zap.String("quiz", quizID), zap.Error(genErr))
			return bank, nil
		}
		switch err := r.store(ctx, bank, gen); {
		case errors.Is(err, errStaleBank):
			r.log.Debug("skip caching stale question bank", zap.String("quiz", quizID))
		case err != nil:
			r.log.Warn("cache question bank", zap.String("quiz", quizID), zap.Error(err))
		}
		return bank, nil
	})
	if err != nil {
		return domain.Bank{}, err
	}
	return result.(domain.Bank), nil
}

// Invalidate drops the cached hash so the next read reloads the bank.
func (r *BankRepository) Invalidate(ctx context.Context, quizID string) {
	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, bankGenerationKey(quizID))
	pipe.Del(ctx, bankKey(quizID))
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("invalidate question bank", zap.String("quiz", quizID), zap.Error(err))
	}
	r.sf.Forget(quizID)
}

func (r *BankRepository) cached(ctx context.Context, quizID string) (domain.Bank, bool) {
	fields, err := r.client.HGetAll(ctx, bankKey(quizID)).Result()
	if err != nil || len(fields) == 0 {
		return domain.Bank{}, false
	}
	bank, err := decodeBank(fields)
	if err != nil {
		r.log.Warn("decode cached question bank", zap.String("quiz", quizID), zap.Error(err))
		return domain.Bank{}, false
	}
	return bank, true
}

func (r *BankRepository) generation(ctx context.Context, quizID string) (int64, error) {
	gen, err := r.client.Get(ctx, bankGenerationKey(quizID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// store writes the bank unless it was invalidated after generation gen was read.
func (r *BankRepository) store(ctx context.Context, bank domain.Bank, gen int64) error {
	key := bankKey(bank.Quiz.ID)
	genKey := bankGenerationKey(bank.Quiz.ID)
	quiz, err := json.Marshal(bank.Quiz)
	if err != nil {
		return err
	}
	values := []interface{}{bankQuizField, quiz}
	for _, q := range bank.Questions {
		raw, err := json.Marshal(q)
		if err != nil {
			return err
		}
		values = append(values, bankQuestionField+strconv.Itoa(q.Position), raw)
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleBank
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, values...)
			if ttl := r.ttlWithJitter(); ttl > 0 {
				pipe.Expire(ctx, key, ttl)
			}
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return errStaleBank
	}
	return err
}

func decodeBank(fields map[string]string) (domain.Bank, error) {
	var bank domain.Bank
	raw, ok := fields[bankQuizField]
	if !ok {
		return bank, fmt.Errorf("missing %q field", bankQuizField)
	}
	if err := json.Unmarshal([]byte(raw), &bank.Quiz); err != nil {
		return bank, fmt.Errorf("quiz: %w", err)
	}
	for field, value := range fields {
		if !strings.HasPrefix(field, bankQuestionField) {
			continue
		}
		var q domain.Question
		if err := json.Unmarshal([]byte(value), &q); err != nil {
			return bank, fmt.Errorf("%s: %w", field, err)
		}
		bank.Questions = append(bank.Questions, q)
	}
	sort.Slice(bank.Questions, func(i, j int) bool { return bank.Questions[i].Position < bank.Questions[j].Position })
	return bank, nil
}

func bankKey(quizID string) string {
	return "medquiz:bank:" + quizID
}

func bankGenerationKey(quizID string) string {
	return "medquiz:bankgen:" + quizID
}

func (r *BankRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
