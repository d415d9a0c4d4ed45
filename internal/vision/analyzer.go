// Package vision runs the two vision-model calls made for every corrected
// card: a free-text layout description that steers layout-guided
// generation, and a solid-background classification.
package vision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/card-restore/internal/assets"
	"github.com/fpang/card-restore/internal/domain"
	"github.com/fpang/card-restore/internal/imaging"
	"github.com/fpang/card-restore/internal/jsonutil"
	"github.com/fpang/card-restore/internal/pool"
)

// Describer answers a text prompt about one JPEG image.
type Describer interface {
	Describe(ctx context.Context, prompt string, jpeg []byte) (string, error)
}

// DescriberFunc adapts a function to Describer.
type DescriberFunc func(ctx context.Context, prompt string, jpeg []byte) (string, error)

func (f DescriberFunc) Describe(ctx context.Context, prompt string, jpeg []byte) (string, error) {
	return f(ctx, prompt, jpeg)
}

// Analyzer issues vision calls bounded by the shared API semaphore.
type Analyzer struct {
	describer Describer
	api       *pool.Semaphore
	workers   *pool.Workers
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(d Describer, api *pool.Semaphore, workers *pool.Workers) *Analyzer {
	return &Analyzer{describer: d, api: api, workers: workers}
}

// Thumbnail downsizes the corrected image for vision calls. When the image
// cannot be downsized the original bytes are used.
func (a *Analyzer) Thumbnail(ctx context.Context, corrected []byte) []byte {
	small, err := pool.Run(ctx, a.workers, func() ([]byte, error) {
		return imaging.Thumbnail(corrected, imaging.ThumbnailMaxDimension, imaging.ThumbnailQuality)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Thumbnail failed, sending full-size image to vision model")
		return corrected
	}
	return small
}

// DescribeLayout returns the layout description of the card in thumb.
func (a *Analyzer) DescribeLayout(ctx context.Context, thumb []byte) (string, error) {
	text, err := a.call(ctx, "layout", assets.LayoutDescribePrompt, thumb)
	if err != nil {
		return "", domain.NewStageError(domain.FailureVision, "describe_layout", err)
	}
	return strings.TrimSpace(text), nil
}

// ClassifyBackground asks whether the card background is a solid color.
// Callers substitute domain.DefaultBackground on error.
func (a *Analyzer) ClassifyBackground(ctx context.Context, thumb []byte) (domain.BackgroundInfo, error) {
	text, err := a.call(ctx, "background", assets.BackgroundCheckPrompt, thumb)
	if err != nil {
		return domain.BackgroundInfo{}, domain.NewStageError(domain.FailureBackground, "classify_background", err)
	}
	bg, err := ParseBackground(text)
	if err != nil {
		return domain.BackgroundInfo{}, domain.NewStageError(domain.FailureBackground, "classify_background", err)
	}
	return bg, nil
}

func (a *Analyzer) call(ctx context.Context, kind, prompt string, img []byte) (string, error) {
	queued := time.Now()
	release, err := a.api.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	start := time.Now()
	text, err := pool.Run(ctx, nil, func() (string, error) {
		return a.describer.Describe(ctx, prompt, img)
	})
	if err != nil {
		log.Warn().Err(err).Str("call", kind).Msg("Vision call failed")
		return "", err
	}

	log.Info().
		Str("call", kind).
		Dur("queue_wait", start.Sub(queued)).
		Dur("duration", time.Since(start)).
		Int("response_length", len(text)).
		Msg("Vision call complete")
	return text, nil
}

type backgroundReply struct {
	IsSolid  *bool   `json:"is_solid"`
	HexColor *string `json:"hex_color"`
}

// ParseBackground parses a classification reply: bare JSON, fenced JSON or
// JSON embedded in prose. A null hex_color becomes "".
func ParseBackground(text string) (domain.BackgroundInfo, error) {
	reply, err := jsonutil.ParseJSON[backgroundReply](text)
	if err != nil {
		return domain.BackgroundInfo{}, err
	}
	if reply.IsSolid == nil {
		return domain.BackgroundInfo{}, fmt.Errorf("background reply has no is_solid field")
	}
	bg := domain.BackgroundInfo{IsSolid: *reply.IsSolid}
	if reply.HexColor != nil {
		bg.HexColor = strings.TrimSpace(*reply.HexColor)
	}
	return bg, nil
}
