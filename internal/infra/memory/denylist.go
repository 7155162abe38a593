package memory

import (
	"context"
	"sync"
	"time"
)

// Denylist keeps revoked token ids in memory until they expire.
type Denylist struct {
	mu      sync.Mutex
	clock   func() time.Time
	revoked map[string]time.Time
}

func NewDenylist() *Denylist {
	return &Denylist{clock: time.Now, revoked: make(map[string]time.Time)}
}

func (d *Denylist) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revoked[tokenID] = d.clock().Add(ttl)
	return nil
}

func (d *Denylist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	expires, ok := d.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if !expires.After(d.clock()) {
		delete(d.revoked, tokenID)
		return false, nil
	}
	return true, nil
}
