package results

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local runs, honoring the
// same idempotency contract as the DynamoDB store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]*TestResultRecord // tuple key → records, append order
	seen    map[string]time.Time           // run key → marker expiry
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]*TestResultRecord),
		seen:    make(map[string]time.Time),
	}
}

func (ms *MemoryStore) Put(_ context.Context, rec *TestResultRecord) (PutOutcome, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rk := runKey(rec.Owner, rec.Repo, rec.RunID)
	now := time.Now()
	if expiry, ok := ms.seen[rk]; ok && now.Before(expiry) {
		return Duplicate, nil
	}
	ms.seen[rk] = now.Add(runMarkerTTL)

	cp := *rec
	key := resultKey(rec.Owner, rec.Repo, rec.Platform, rec.Branch)
	ms.records[key] = append(ms.records[key], &cp)
	return Accepted, nil
}

func (ms *MemoryStore) GetLatest(_ context.Context, owner, repo, platform, branch string) (*TestResultRecord, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var best *TestResultRecord
	for _, rec := range ms.records[resultKey(owner, repo, platform, branch)] {
		if best == nil || rec.Timestamp.After(best.Timestamp) {
			best = rec
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}
