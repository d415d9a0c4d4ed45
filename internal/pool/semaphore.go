// Package pool provides the concurrency primitives the restoration pipeline
// is built from: named counting semaphores that gate shared resources, a
// fixed-size worker pool for CPU-bound work, and typed futures for tasks
// that are started early and joined later.
package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Semaphore is a named counting resource with usage counters.
type Semaphore struct {
	name  string
	size  int64
	w     *semaphore.Weighted
	inUse atomic.Int64
	peak  atomic.Int64
}

// NewSemaphore creates a semaphore with size slots. Sizes below 1 are
// treated as 1.
func NewSemaphore(name string, size int) *Semaphore {
	if size < 1 {
		size = 1
	}
	return &Semaphore{
		name: name,
		size: int64(size),
		w:    semaphore.NewWeighted(int64(size)),
	}
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// func must be called exactly once; calling it again is a no-op.
func (s *Semaphore) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	if err := s.w.Acquire(ctx, 1); err != nil {
		return func() {}, fmt.Errorf("acquire %s slot: %w", s.name, err)
	}

	n := s.inUse.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if wait := time.Since(start); wait > 100*time.Millisecond {
		log.Debug().
			Str("pool", s.name).
			Dur("queue_wait", wait).
			Int64("in_use", n).
			Msg("Pool slot acquired after waiting")
	}

	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			s.inUse.Add(-1)
			s.w.Release(1)
		}
	}, nil
}

// Name returns the pool name used in logs.
func (s *Semaphore) Name() string { return s.name }

// Size returns the number of slots.
func (s *Semaphore) Size() int { return int(s.size) }

// InUse returns the number of currently held slots.
func (s *Semaphore) InUse() int { return int(s.inUse.Load()) }

// Peak returns the highest number of slots held at once.
func (s *Semaphore) Peak() int { return int(s.peak.Load()) }
