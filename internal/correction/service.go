// Package correction wraps the external perspective-correction model. The
// Stage bounds calls with the GPU pool and keeps decode and encode work on
// the CPU worker pool.
package correction

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/card-restore/internal/imaging"
)

// Service corrects one decoded card photo. Implementations may return an
// image of any size; the Stage resizes it to the canonical surface.
type Service interface {
	Correct(ctx context.Context, img image.Image) (image.Image, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, img image.Image) (image.Image, error)

func (f ServiceFunc) Correct(ctx context.Context, img image.Image) (image.Image, error) {
	return f(ctx, img)
}

// Passthrough returns its input unchanged. Used when no model server is
// configured.
var Passthrough = ServiceFunc(func(_ context.Context, img image.Image) (image.Image, error) {
	return img, nil
})

// maxResponseBytes caps the corrected image body.
const maxResponseBytes = 64 << 20

// HTTPService posts the photo as JPEG to a model server and decodes the
// corrected image from the response body.
type HTTPService struct {
	url        string
	httpClient *http.Client
}

// NewHTTPService creates a client for the model server at url.
func NewHTTPService(url string, timeout time.Duration) *HTTPService {
	return &HTTPService{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Correct implements Service.
func (s *HTTPService) Correct(ctx context.Context, img image.Image) (image.Image, error) {
	body, err := imaging.EncodeJPEG(img, imaging.JPEGQuality)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("correction request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read correction response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("correction service returned status %d: %s", resp.StatusCode, truncateString(string(respBody), 200))
	}

	out, _, err := imaging.Decode(respBody)
	if err != nil {
		return nil, fmt.Errorf("decode corrected image: %w", err)
	}

	log.Debug().
		Int("request_bytes", len(body)).
		Int("response_bytes", len(respBody)).
		Dur("duration", time.Since(start)).
		Msg("Correction service call complete")
	return out, nil
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
