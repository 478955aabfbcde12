// Package noncestore provides the TTL-bounded "seen nonce" set used for
// replay protection. TryReserve has first-writer-wins semantics: exactly one
// caller per nonce observes true within the TTL window.
package noncestore

import (
	"context"
	"sync"
	"time"
)

// Store is the reservation contract. Implementations fail closed: a store
// error yields (false, err) and the caller must treat it as an internal
// failure rather than a replay.
type Store interface {
	// TryReserve atomically records the nonce with its repository binding.
	// Returns true iff the nonce was absent and is now reserved for ttl.
	TryReserve(ctx context.Context, nonce, repoID string, ttl time.Duration) (bool, error)
	// IsReserved reports whether the nonce currently holds a reservation.
	IsReserved(ctx context.Context, nonce string) (bool, error)
	// Close releases any resources.
	Close()
}

// MemoryStore is an in-process Store for tests and local runs. A background
// sweeper evicts expired reservations.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	cancel  context.CancelFunc
}

// NewMemoryStore creates a memory store with a cleanup goroutine.
func NewMemoryStore() *MemoryStore {
	ctx, cancel := context.WithCancel(context.Background())
	ms := &MemoryStore{
		entries: make(map[string]time.Time),
		cancel:  cancel,
	}
	go ms.sweep(ctx)
	return ms
}

func (ms *MemoryStore) TryReserve(_ context.Context, nonce, _ string, ttl time.Duration) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	if expiry, ok := ms.entries[nonce]; ok && now.Before(expiry) {
		return false, nil
	}
	ms.entries[nonce] = now.Add(ttl)
	return true, nil
}

func (ms *MemoryStore) IsReserved(_ context.Context, nonce string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	expiry, ok := ms.entries[nonce]
	return ok && time.Now().Before(expiry), nil
}

func (ms *MemoryStore) Close() {
	ms.cancel()
}

func (ms *MemoryStore) sweep(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ms.mu.Lock()
			now := time.Now()
			for nonce, expiry := range ms.entries {
				if now.After(expiry) {
					delete(ms.entries, nonce)
				}
			}
			ms.mu.Unlock()
		}
	}
}
