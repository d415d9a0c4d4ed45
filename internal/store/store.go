// Package store persists completed batch results so they can be fetched
// again by batch ID. Saving is best-effort: the pipeline logs failures and
// still returns the result to the caller.
//
// Three backends implement BatchStore: an in-process MemoryStore, a
// single-table DynamoStore (PK = BATCH#{batchId}, SK = RESULT) and a
// RedisStore holding JSON values. Every backend expires records after the
// configured TTL.
package store

import (
	"context"
	"time"

	"github.com/fpang/card-restore/internal/domain"
)

// DefaultTTL is the retention for stored batch results. It matches the
// lifetime of the ephemeral generation URLs referenced by the results.
const DefaultTTL = 24 * time.Hour

// BatchStore saves and loads batch results. Implementations are safe for
// concurrent use.
type BatchStore interface {
	// PutBatch creates or replaces the record for batch.BatchID.
	PutBatch(ctx context.Context, batch *domain.BatchResult) error

	// GetBatch returns the stored batch, or nil, nil if it does not exist
	// or has expired.
	GetBatch(ctx context.Context, batchID string) (*domain.BatchResult, error)
}
