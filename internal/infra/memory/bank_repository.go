package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"medquiz-service/internal/domain"
)

// BankLoader fetches a custom quiz and its questions from a backing store.
type BankLoader interface {
	LoadBank(ctx context.Context, quizID string) (domain.Bank, error)
}

// BankRepository caches question banks with TTL to avoid repeated DB hits.
type BankRepository struct {
	loader BankLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedBank

	// generations is bumped by Invalidate; a load started under an older
	// generation is returned to its callers but never cached.
	generations map[string]uint64
}

type cachedBank struct {
	bank      domain.Bank
	expiresAt time.Time
}

func NewBankRepository(loader BankLoader, ttl time.Duration) *BankRepository {
	return &BankRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedBank),

		generations: make(map[string]uint64),
	}
}

func (r *BankRepository) GetBank(ctx context.Context, quizID string) (domain.Bank, error) {
	if bank, ok := r.cached(quizID); ok {
		return bank, nil
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		if bank, ok := r.cached(quizID); ok {
			return bank, nil
		}

		r.mu.RLock()
		gen := r.generations[quizID]
		r.mu.RUnlock()

		bank, err := r.loader.LoadBank(ctx, quizID)
		if err != nil {
			return domain.Bank{}, err
		}

		r.mu.Lock()
		if r.generations[quizID] == gen {
			r.cache[quizID] = cachedBank{
				bank:      bank,
				expiresAt: r.clock().Add(r.ttlWithJitter()),
			}
		}
		r.mu.Unlock()
		return bank, nil
	})
	if err != nil {
		return domain.Bank{}, err
	}
	return result.(domain.Bank), nil
}

// Invalidate drops the cached bank so the next read reloads it.
func (r *BankRepository) Invalidate(_ context.Context, quizID string) {
	r.mu.Lock()
	delete(r.cache, quizID)
	r.generations[quizID]++
	r.mu.Unlock()
	r.sf.Forget(quizID)
}

func (r *BankRepository) cached(quizID string) (domain.Bank, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[quizID]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.Bank{}, false
	}
	return entry.bank, true
}

// ttlWithJitter must be called with mu held for writing.
func (r *BankRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
