package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry is an in-process Registry backed by a map of token to
// retention deadline. Suitable for single-instance deployments and
// tests; use RedisRegistry when more than one instance shares sessions.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]time.Time

	// lastPrune guards against scanning the whole map on every write.
	lastPrune time.Time
}

const pruneInterval = time.Minute

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		entries:   make(map[string]time.Time),
		lastPrune: time.Now(),
	}
}

// Revoke marks the token as revoked until its retention deadline.
func (r *MemoryRegistry) Revoke(_ context.Context, token string, ttl time.Duration) error {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[token] = now.Add(ttl)

	if now.Sub(r.lastPrune) > pruneInterval {
		for t, deadline := range r.entries {
			if now.After(deadline) {
				delete(r.entries, t)
			}
		}
		r.lastPrune = now
	}
	return nil
}

// IsRevoked reports whether the token is currently revoked. Entries
// past their retention deadline read as not revoked even if pruning has
// not caught up yet.
func (r *MemoryRegistry) IsRevoked(_ context.Context, token string) (bool, error) {
	r.mu.RLock()
	deadline, ok := r.entries[token]
	r.mu.RUnlock()

	if !ok {
		return false, nil
	}
	return time.Now().Before(deadline), nil
}

// Len reports the number of retained entries, including any that are
// expired but not yet pruned.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
