package correction

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/card-restore/internal/domain"
	"github.com/fpang/card-restore/internal/imaging"
	"github.com/fpang/card-restore/internal/pool"
)

// Stage runs the correction service on raw card photos and produces
// canonical JPEG bytes.
type Stage struct {
	service Service
	gpu     *pool.Semaphore
	workers *pool.Workers
}

// NewStage binds svc to the GPU semaphore and CPU worker pool.
func NewStage(svc Service, gpu *pool.Semaphore, workers *pool.Workers) *Stage {
	return &Stage{service: svc, gpu: gpu, workers: workers}
}

// Correct normalizes raw, runs the correction service and returns the
// result at the canonical size as JPEG. Every failure is returned as a
// *domain.StageError of kind FailureCorrection.
func (s *Stage) Correct(ctx context.Context, raw []byte) ([]byte, error) {
	return s.CorrectInput(ctx, imaging.BytesInput{Data: raw})
}

// CorrectInput is Correct for any image input variant.
func (s *Stage) CorrectInput(ctx context.Context, in imaging.Input) ([]byte, error) {
	start := time.Now()
	out, err := s.correct(ctx, in)
	if err != nil {
		log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("Correction failed")
		return nil, domain.NewStageError(domain.FailureCorrection, "correct", fmt.Errorf("%w: %w", domain.ErrCorrectionFailed, err))
	}
	log.Debug().
		Int("output_bytes", len(out)).
		Dur("duration", time.Since(start)).
		Msg("Correction complete")
	return out, nil
}

func (s *Stage) correct(ctx context.Context, in imaging.Input) ([]byte, error) {
	release, err := s.gpu.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	img, err := pool.Run(ctx, s.workers, func() (image.Image, error) {
		return imaging.Normalize(in)
	})
	if err != nil {
		return nil, err
	}

	corrected, err := pool.Run(ctx, nil, func() (image.Image, error) {
		return s.service.Correct(ctx, img)
	})
	if err != nil {
		return nil, err
	}
	if corrected == nil {
		return nil, fmt.Errorf("correction service returned no image")
	}

	return pool.Run(ctx, s.workers, func() ([]byte, error) {
		return imaging.ToCanonical(corrected)
	})
}
