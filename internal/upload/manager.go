package upload

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/card-restore/internal/domain"
	"github.com/fpang/card-restore/internal/pool"
)

// Manager bounds uploads with the upload semaphore and encodes payloads on
// the CPU worker pool.
type Manager struct {
	store   AssetStore
	sem     *pool.Semaphore
	workers *pool.Workers
}

// NewManager creates a Manager over store.
func NewManager(store AssetStore, sem *pool.Semaphore, workers *pool.Workers) *Manager {
	return &Manager{store: store, sem: sem, workers: workers}
}

// Upload publishes data and returns its URL, or "" on any failure. The
// data URI is only built once an upload slot is held.
func (m *Manager) Upload(ctx context.Context, data []byte) string {
	if len(data) == 0 {
		return ""
	}

	queued := time.Now()
	release, err := m.sem.Acquire(ctx)
	if err != nil {
		m.logFailure(err, "acquire", len(data), 0)
		return ""
	}
	defer release()

	start := time.Now()
	obj, err := pool.Run(ctx, m.workers, func() (Object, error) {
		// The asset service always receives a JPEG-labelled data URI.
		return Object{
			Data:        data,
			ContentType: http.DetectContentType(data),
			DataURI:     "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
		}, nil
	})
	if err != nil {
		m.logFailure(err, "encode", len(data), time.Since(start))
		return ""
	}

	url, err := m.store.Put(ctx, obj)
	if err != nil {
		m.logFailure(err, "put", len(data), time.Since(start))
		return ""
	}

	log.Debug().
		Str("url", url).
		Int("size", len(data)).
		Dur("queue_wait", start.Sub(queued)).
		Dur("duration", time.Since(start)).
		Msg("Upload complete")
	return url
}

func (m *Manager) logFailure(err error, stage string, size int, elapsed time.Duration) {
	err = domain.NewStageError(domain.FailureUpload, "upload."+stage, err)
	log.Warn().
		Err(err).
		Str("kind", domain.KindOf(err).String()).
		Int("size", size).
		Dur("duration", elapsed).
		Msg("Upload failed")
}

// Start begins an upload in the background. The future always resolves
// with a nil error; a failed upload yields "".
func (m *Manager) Start(ctx context.Context, data []byte) *pool.Future[string] {
	return pool.Go(func() (string, error) {
		return m.Upload(ctx, data), nil
	})
}
