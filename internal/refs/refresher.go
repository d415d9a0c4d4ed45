package refs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultSchedule runs the refresh daily at midnight.
const DefaultSchedule = "0 0 * * *"

// Fetcher downloads an image by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Uploader publishes bytes and returns the new URL, or "" on failure.
type Uploader interface {
	Upload(ctx context.Context, data []byte) string
}

// Refresher re-publishes the local reference copies.
type Refresher struct {
	pool     *Pool
	dir      string
	fetcher  Fetcher
	uploader Uploader
}

// NewRefresher creates a Refresher that keeps ref_<i>.png files under dir.
func NewRefresher(pool *Pool, dir string, fetcher Fetcher, uploader Uploader) *Refresher {
	return &Refresher{pool: pool, dir: dir, fetcher: fetcher, uploader: uploader}
}

// LocalPath returns the local copy of reference i.
func (r *Refresher) LocalPath(i int) string {
	return filepath.Join(r.dir, fmt.Sprintf("ref_%d.png", i))
}

// EnsureLocal downloads every reference missing from the local directory
// using the current snapshot URLs. Failures are logged and skipped.
func (r *Refresher) EnsureLocal(ctx context.Context) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create reference dir: %w", err)
	}

	for i, url := range r.pool.URLs() {
		path := r.LocalPath(i)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("Cannot stat reference image")
			continue
		}

		log.Info().Int("index", i).Str("url", url).Msg("Local reference image missing, downloading")
		data, err := r.fetcher.Fetch(ctx, url)
		if err != nil {
			log.Error().Err(err).Int("index", i).Str("url", url).Msg("Reference image download failed")
			continue
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to write reference image")
		}
	}
	return nil
}

// Refresh ensures local copies, uploads each one and swaps in the new
// snapshot. An index whose file is missing or whose upload fails keeps its
// previous URL.
func (r *Refresher) Refresh(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	if err := r.EnsureLocal(ctx); err != nil {
		return r.pool.Current(), err
	}

	old := r.pool.URLs()
	urls := make([]string, len(old))
	fresh := make([]bool, len(old))

	// A failed index keeps its previous URL and never cancels its siblings,
	// so every goroutine returns nil and Wait only joins them.
	var g errgroup.Group
	for i := range old {
		g.Go(func() error {
			urls[i] = old[i]
			data, err := os.ReadFile(r.LocalPath(i))
			if err != nil {
				log.Error().Err(err).Int("index", i).Msg("Local reference image unavailable, keeping previous URL")
				return nil
			}
			if u := r.uploader.Upload(ctx, data); u != "" {
				urls[i] = u
				fresh[i] = true
				return nil
			}
			log.Error().Int("index", i).Msg("Reference upload failed, keeping previous URL")
			return nil
		})
	}
	g.Wait()

	refreshed := 0
	for _, ok := range fresh {
		if ok {
			refreshed++
		}
	}

	snap := &Snapshot{URLs: urls, UpdatedAt: time.Now()}
	r.pool.Swap(snap)

	ev := log.Info()
	if refreshed < len(urls) {
		ev = log.Warn()
	}
	ev.Int("refreshed", refreshed).
		Int("total", len(urls)).
		Dur("duration", time.Since(start)).
		Strs("urls", urls).
		Msg("Reference pool refreshed")
	return snap, nil
}

// Schedule registers Refresh on a cron spec and starts the scheduler. Call
// Stop on the returned cron to shut it down.
func (r *Refresher) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := r.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduled reference refresh failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	c.Start()
	log.Info().Str("schedule", spec).Msg("Reference refresh scheduled")
	return c, nil
}
