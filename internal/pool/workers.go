package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned when submitting to a closed worker pool.
var ErrClosed = errors.New("worker pool closed")

// Workers runs submitted funcs on a fixed set of goroutines. The task queue
// is bounded so producers block instead of buffering unbounded work.
type Workers struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorkers starts n goroutines reading from a queue of depth queue.
func NewWorkers(n, queue int) *Workers {
	if n < 1 {
		n = 1
	}
	if queue < 0 {
		queue = 0
	}
	w := &Workers{tasks: make(chan func(), queue)}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for fn := range w.tasks {
				fn()
			}
		}()
	}
	log.Debug().Int("workers", n).Int("queue", queue).Msg("Worker pool started")
	return w
}

// Submit enqueues fn, blocking until there is room or ctx is done.
func (w *Workers) Submit(ctx context.Context, fn func()) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.tasks <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for queued tasks to finish.
func (w *Workers) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.tasks)
	w.mu.Unlock()
	w.wg.Wait()
}

// Run executes fn on w and waits for its result. A nil pool runs fn on the
// calling goroutine. Panics inside fn are returned as errors.
func Run[T any](ctx context.Context, w *Workers, fn func() (T, error)) (T, error) {
	if w == nil {
		return safeCall(fn)
	}

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	err := w.Submit(ctx, func() {
		v, err := safeCall(fn)
		done <- outcome{v, err}
	})
	if err != nil {
		var zero T
		return zero, err
	}

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func safeCall[T any](fn func() (T, error)) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic in pooled task")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
