package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/card-restore/internal/domain"
	"github.com/fpang/card-restore/internal/metrics"
	"github.com/fpang/card-restore/internal/pool"
	"github.com/fpang/card-restore/internal/strategy"
)

// dispatcher runs every strategy for one corrected card.
type dispatcher struct {
	strategies []strategy.Strategy
	generator  strategy.Generator
	rectifier  Rectifier
	uploader   Uploader
	fetcher    Fetcher
	refs       ReferenceSource
	api        *pool.Semaphore
	layoutWait time.Duration
	size       string
	metrics    *metrics.Emitter
}

// run launches strategies that do not need the layout description
// immediately, then waits for the description (bounded by layoutWait) and
// launches the rest. Results come back in strategy-table order with failed
// strategies omitted.
func (d *dispatcher) run(ctx context.Context, filename, card string, layout *pool.Future[string]) []domain.GenerationResult {
	results := make([]*domain.GenerationResult, len(d.strategies))
	// Strategy keys are unique within a table.
	pos := make(map[string]int, len(d.strategies))
	for i, s := range d.strategies {
		pos[s.Key] = i
	}

	var wg sync.WaitGroup
	launch := func(s strategy.Strategy, desc string) {
		i := pos[s.Key]
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.runStrategy(ctx, filename, s, card, desc)
		}()
	}

	independent, dependent := strategy.Split(d.strategies)
	for _, s := range independent {
		launch(s, "")
	}
	if len(dependent) > 0 {
		desc := d.awaitLayout(ctx, filename, layout)
		for _, s := range dependent {
			launch(s, desc)
		}
	}
	wg.Wait()

	out := make([]domain.GenerationResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (d *dispatcher) awaitLayout(ctx context.Context, filename string, layout *pool.Future[string]) string {
	start := time.Now()
	wctx, cancel := context.WithTimeout(ctx, d.layoutWait)
	defer cancel()

	desc, err := layout.Await(wctx)
	if err != nil {
		log.Warn().
			Err(err).
			Str("filename", filename).
			Dur("waited", time.Since(start)).
			Msg("Layout description unavailable, continuing without it")
		return ""
	}
	return desc
}

// runStrategy generates, downloads, rectifies and uploads one strategy's
// image. Any failure or panic yields nil for this strategy only.
func (d *dispatcher) runStrategy(ctx context.Context, filename string, s strategy.Strategy, card, desc string) (result *domain.GenerationResult) {
	logger := log.With().Str("filename", filename).Str("strategy", s.Key).Logger()
	rec := d.metrics.New().Dimension("Operation", "strategy").Dimension("Strategy", s.Key)
	defer rec.Flush()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Strategy panicked")
			rec.Count("StrategyFailed")
			result = nil
		}
	}()

	start := time.Now()
	req := strategy.NewRequest(s, desc, card, d.refs.URLs(), d.size)
	ephemeral, err := d.generate(ctx, logger, req)
	rec.Since("GenerateMs", start)
	if err != nil {
		logger.Warn().Err(domain.NewStageError(domain.FailureGeneration, "generate", err)).Msg("Generation failed")
		rec.Count("StrategyFailed")
		return nil
	}

	dlStart := time.Now()
	raw, err := d.fetcher.Fetch(ctx, ephemeral)
	rec.Since("DownloadMs", dlStart)
	if err != nil {
		logger.Warn().Err(err).Str("url", ephemeral).Msg("Generated image download failed")
		rec.Count("StrategyFailed")
		return nil
	}

	rawUpload := d.uploader.Start(ctx, raw)

	rectStart := time.Now()
	crop := d.rectifier.Rectify(ctx, raw, s.FrameCrop)
	rec.Since("RectifyMs", rectStart)

	upStart := time.Now()
	cropURL := d.uploader.Upload(ctx, crop)
	genURL, _ := rawUpload.Await(ctx)
	rec.Since("UploadMs", upStart)

	if genURL == "" {
		logger.Warn().Msg("Generated image upload failed, reporting the temporary URL")
		genURL = ephemeral
	}
	if cropURL == "" {
		logger.Warn().Msg("Cropped image upload failed")
	}

	rec.Count("StrategySuccess")
	logger.Info().
		Int("raw_size", len(raw)).
		Int("crop_size", len(crop)).
		Dur("duration", time.Since(start)).
		Msg("Strategy complete")

	return &domain.GenerationResult{
		StrategyName: s.Name,
		CropImageURL: cropURL,
		GenImageURL:  genURL,
	}
}

func (d *dispatcher) generate(ctx context.Context, logger zerolog.Logger, req strategy.GenerateRequest) (string, error) {
	queued := time.Now()
	release, err := d.api.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	start := time.Now()
	url, err := d.generator.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", fmt.Errorf("generator returned no image url")
	}
	logger.Debug().
		Int("images", len(req.Images)).
		Dur("queue_wait", start.Sub(queued)).
		Dur("duration", time.Since(start)).
		Msg("Image generated")
	return url, nil
}
