package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fpang/card-restore/internal/domain"
)

// MemoryStore keeps batches in process memory.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	batches map[string]memoryEntry
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

var _ BatchStore = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore. ttl <= 0 selects DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, batches: make(map[string]memoryEntry)}
}

// PutBatch implements BatchStore. The batch is copied so later changes by
// the caller do not leak into the store.
func (s *MemoryStore) PutBatch(_ context.Context, batch *domain.BatchResult) error {
	if batch == nil || batch.BatchID == "" {
		return fmt.Errorf("batch id is required")
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, e := range s.batches {
		if now.After(e.expiresAt) {
			delete(s.batches, id)
		}
	}
	s.batches[batch.BatchID] = memoryEntry{data: data, expiresAt: now.Add(s.ttl)}
	return nil
}

// GetBatch implements BatchStore.
func (s *MemoryStore) GetBatch(_ context.Context, batchID string) (*domain.BatchResult, error) {
	s.mu.RLock()
	e, ok := s.batches[batchID]
	s.mu.RUnlock()
	if !ok || s.now().After(e.expiresAt) {
		return nil, nil
	}

	var out domain.BatchResult
	if err := json.Unmarshal(e.data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal batch %s: %w", batchID, err)
	}
	return &out, nil
}
