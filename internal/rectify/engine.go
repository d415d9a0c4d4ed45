// Package rectify crops generated card renditions back onto the canonical
// surface. The red-frame geometric crop runs first when the strategy asked
// the model to draw a frame; otherwise, or when no frame is found, the
// correction model is re-run on the generated image.
package rectify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/card-restore/internal/domain"
	"github.com/fpang/card-restore/internal/imaging"
	"github.com/fpang/card-restore/internal/pool"
)

// Corrector re-runs perspective correction on encoded image bytes.
type Corrector interface {
	Correct(ctx context.Context, raw []byte) ([]byte, error)
}

// FrameCropFunc is the geometric tier. It reports false when the image
// carries no usable frame.
type FrameCropFunc func(data []byte) ([]byte, bool)

// Engine is the two-tier rectifier.
type Engine struct {
	corrector Corrector
	workers   *pool.Workers
	frameCrop FrameCropFunc
}

// NewEngine creates an Engine using imaging.FrameCropBytes as tier 1.
func NewEngine(corrector Corrector, workers *pool.Workers) *Engine {
	return &Engine{
		corrector: corrector,
		workers:   workers,
		frameCrop: imaging.FrameCropBytes,
	}
}

// Rectify returns the cropped rendition of generated. With frameFirst the
// geometric crop is tried before the correction model. The result is never
// nil for non-empty input: when both tiers fail the generated bytes are
// returned unchanged.
func (e *Engine) Rectify(ctx context.Context, generated []byte, frameFirst bool) []byte {
	start := time.Now()

	if frameFirst {
		out, err := e.tryFrame(ctx, generated)
		if err == nil {
			log.Debug().Str("tier", "frame").Dur("duration", time.Since(start)).Msg("Rectified generated image")
			return out
		}
		log.Debug().
			Err(err).
			Str("kind", domain.KindOf(err).String()).
			Msg("Frame crop missed, falling back to model crop")
	}

	out, err := e.corrector.Correct(ctx, generated)
	if err != nil || len(out) == 0 {
		log.Warn().Err(err).Msg("Model crop failed, keeping generated image")
		return generated
	}
	log.Debug().Str("tier", "model").Dur("duration", time.Since(start)).Msg("Rectified generated image")
	return out
}

// tryFrame runs the geometric tier on the worker pool. A miss is reported
// as a frame_miss StageError wrapping domain.ErrNoFrame.
func (e *Engine) tryFrame(ctx context.Context, data []byte) ([]byte, error) {
	type cropped struct {
		data []byte
		ok   bool
	}
	res, err := pool.Run(ctx, e.workers, func() (cropped, error) {
		out, ok := e.frameCrop(data)
		return cropped{out, ok}, nil
	})
	if err != nil {
		return nil, domain.NewStageError(domain.FailureFrameMiss, "rectify.frame", err)
	}
	if !res.ok {
		return nil, domain.NewStageError(domain.FailureFrameMiss, "rectify.frame", domain.ErrNoFrame)
	}
	return res.data, nil
}
