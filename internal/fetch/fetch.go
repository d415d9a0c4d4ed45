// Package fetch downloads images over HTTP.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/card-restore/internal/domain"
)

// Defaults for NewDownloader.
const (
	DefaultTimeout  = 60 * time.Second
	DefaultMaxBytes = 50 << 20
)

// Downloader fetches image bytes by URL.
type Downloader struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewDownloader creates a Downloader. Zero values select the defaults.
func NewDownloader(timeout time.Duration, maxBytes int64) *Downloader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Downloader{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
	}
}

// Fetch downloads url. Every failure is a download StageError wrapping
// domain.ErrDownloadFailed.
func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	data, err := d.fetch(ctx, url)
	if err != nil {
		return nil, domain.NewStageError(domain.FailureDownload, "download", fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err))
	}
	return data, nil
}

func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", url, err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", d.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	log.Debug().
		Str("url", url).
		Int("size", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Downloaded image")
	return data, nil
}
