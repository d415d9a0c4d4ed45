// Package pipeline coordinates the restoration of business-card photos:
// admission, correction, vision analysis, multi-strategy generation,
// rectification, uploads and aggregation into per-item results.
//
// Items are independent. Within an item the corrected-image upload, the
// vision calls and the generation strategies run concurrently; strategies
// that need the layout description wait for it (or for LayoutWait) while
// the others start as soon as correction completes.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/card-restore/internal/domain"
	"github.com/fpang/card-restore/internal/imaging"
	"github.com/fpang/card-restore/internal/jobs"
	"github.com/fpang/card-restore/internal/metrics"
	"github.com/fpang/card-restore/internal/pool"
	"github.com/fpang/card-restore/internal/store"
	"github.com/fpang/card-restore/internal/strategy"
)

// Corrector produces the canonical corrected JPEG for a raw photo.
type Corrector interface {
	Correct(ctx context.Context, raw []byte) ([]byte, error)
}

// Analyzer runs the vision calls for a corrected card.
type Analyzer interface {
	Thumbnail(ctx context.Context, corrected []byte) []byte
	DescribeLayout(ctx context.Context, thumb []byte) (string, error)
	ClassifyBackground(ctx context.Context, thumb []byte) (domain.BackgroundInfo, error)
}

// Rectifier crops a generated image to the card surface.
type Rectifier interface {
	Rectify(ctx context.Context, generated []byte, frameFirst bool) []byte
}

// Uploader publishes bytes and returns a URL, or "" on failure.
type Uploader interface {
	Upload(ctx context.Context, data []byte) string
	Start(ctx context.Context, data []byte) *pool.Future[string]
}

// Fetcher downloads bytes by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ReferenceSource supplies the current reference image URLs.
type ReferenceSource interface {
	URLs() []string
}

// Deps are the collaborators of a Processor. Store and Metrics are optional.
type Deps struct {
	Corrector Corrector
	Analyzer  Analyzer
	Generator strategy.Generator
	Rectifier Rectifier
	Uploader  Uploader
	Fetcher   Fetcher
	Refs      ReferenceSource
	Store     store.BatchStore
	Metrics   *metrics.Emitter
}

// Options tune a Processor. Zero values select the defaults.
type Options struct {
	// Admission bounds how many items are past the read-into-memory point.
	Admission int
	// API is the semaphore shared by every generative and vision call.
	API *pool.Semaphore
	// Workers runs CPU-bound encoding work.
	Workers *pool.Workers
	// LayoutWait bounds how long layout-guided strategies wait for the
	// layout description before running without one.
	LayoutWait time.Duration
	// Size is the requested generation size.
	Size string
	// Strategies overrides the strategy table.
	Strategies []strategy.Strategy
	// OnItem, when set, is called from the item's goroutine as each batch
	// item finishes.
	OnItem func(domain.ItemResult)
}

// Defaults for Options.
const (
	DefaultAdmission  = 15
	DefaultAPI        = 50
	DefaultLayoutWait = 30 * time.Second
	DefaultSize       = "3000x1824"
)

// Processor runs items through the pipeline.
type Processor struct {
	deps      Deps
	admission *pool.Semaphore
	workers   *pool.Workers
	dispatch  *dispatcher
	onItem    func(domain.ItemResult)
}

// New creates a Processor.
func New(deps Deps, opts Options) *Processor {
	if opts.Admission <= 0 {
		opts.Admission = DefaultAdmission
	}
	if opts.API == nil {
		opts.API = pool.NewSemaphore("api", DefaultAPI)
	}
	if opts.LayoutWait <= 0 {
		opts.LayoutWait = DefaultLayoutWait
	}
	if opts.Size == "" {
		opts.Size = DefaultSize
	}
	if opts.Strategies == nil {
		opts.Strategies = strategy.All()
	}

	return &Processor{
		deps:      deps,
		admission: pool.NewSemaphore("admission", opts.Admission),
		workers:   opts.Workers,
		onItem:    opts.OnItem,
		dispatch: &dispatcher{
			strategies: opts.Strategies,
			generator:  deps.Generator,
			rectifier:  deps.Rectifier,
			uploader:   deps.Uploader,
			fetcher:    deps.Fetcher,
			refs:       deps.Refs,
			api:        opts.API,
			layoutWait: opts.LayoutWait,
			size:       opts.Size,
			metrics:    deps.Metrics,
		},
	}
}

// admit blocks until an admission slot is free. Release on every exit path.
func (p *Processor) admit(ctx context.Context) (func(), error) {
	return p.admission.Acquire(ctx)
}

// AdmissionPeak reports the highest number of items admitted at once.
func (p *Processor) AdmissionPeak() int {
	return p.admission.Peak()
}

// Process runs one in-memory item through the pipeline. originalURL is
// reported as the item's original image URL.
func (p *Processor) Process(ctx context.Context, item domain.WorkItem, originalURL string) domain.ItemResult {
	start := time.Now()
	rec := p.deps.Metrics.New().Dimension("Operation", "item")
	defer rec.Flush()

	res := domain.ItemResult{Filename: item.Source, OriginalImageURL: originalURL}
	logger := log.With().Str("filename", item.Source).Int("size", len(item.Data)).Logger()
	logger.Info().Msg("Item started")

	corrected, err := pool.Run(ctx, nil, func() ([]byte, error) {
		return p.deps.Corrector.Correct(ctx, item.Data)
	})
	rec.Since("CorrectMs", start)
	if err != nil {
		if !domain.IsFatal(err) {
			// Panics and untyped errors from the corrector still end the item.
			err = domain.NewStageError(domain.FailureCorrection, "correct", err)
		}
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Correction failed")
		rec.Count("ItemFailed")
		res.Status = domain.StatusFailedCorrection
		res.Error = err.Error()
		return res
	}

	correctedUpload := p.deps.Uploader.Start(ctx, corrected)

	thumb := pool.Go(func() ([]byte, error) {
		return p.deps.Analyzer.Thumbnail(ctx, corrected), nil
	})
	layout := pool.Go(func() (string, error) {
		t, err := thumb.Await(ctx)
		if err != nil {
			return "", err
		}
		return p.deps.Analyzer.DescribeLayout(ctx, t)
	})
	background := pool.Go(func() (domain.BackgroundInfo, error) {
		t, err := thumb.Await(ctx)
		if err != nil {
			return domain.BackgroundInfo{}, err
		}
		return p.deps.Analyzer.ClassifyBackground(ctx, t)
	})

	card, err := pool.Run(ctx, p.workers, func() (string, error) {
		return imaging.DataURI(corrected), nil
	})
	generations := []domain.GenerationResult{}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode corrected image, skipping generation")
	} else {
		generations = p.dispatch.run(ctx, item.Source, card, layout)
	}

	bg, err := background.Await(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Background classification failed, using default")
		bg = domain.DefaultBackground()
	}

	correctedURL, _ := correctedUpload.Await(ctx)
	if correctedURL == "" {
		logger.Warn().Msg("Corrected image upload failed")
	}

	res.Status = domain.StatusSuccess
	res.CorrectedImageURL = correctedURL
	res.BackgroundInfo = &bg
	res.Generations = generations

	rec.Since("TotalMs", start).
		Count("ItemSuccess").
		Metric("Generations", float64(len(generations)), metrics.UnitCount)
	logger.Info().
		Int("generations", len(generations)).
		Bool("solid_background", bg.IsSolid).
		Dur("duration", time.Since(start)).
		Msg("Item complete")
	return res
}

// ProcessURLs downloads and restores each URL. Items are named url_<index>;
// a failed download reports the URL itself as the filename.
func (p *Processor) ProcessURLs(ctx context.Context, urls []string) domain.BatchResult {
	results := make([]domain.ItemResult, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.processURL(ctx, i, u)
			p.itemDone(results[i])
		}()
	}
	wg.Wait()
	return p.finish(ctx, "url", results)
}

func (p *Processor) processURL(ctx context.Context, idx int, url string) domain.ItemResult {
	release, err := p.admit(ctx)
	if err != nil {
		return domain.ItemResult{Filename: url, Status: domain.StatusFailedDownload, Error: err.Error()}
	}
	defer release()

	data, err := p.deps.Fetcher.Fetch(ctx, url)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("Download failed")
		return domain.ItemResult{Filename: url, Status: domain.StatusFailedDownload, Error: err.Error()}
	}
	item := domain.WorkItem{Source: fmt.Sprintf("url_%d", idx), Data: data}
	return p.Process(ctx, item, url)
}

// FileSource is an uploaded file that is opened only after admission.
type FileSource struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// ProcessFiles restores each file. The original upload starts as soon as the
// file is read and its URL is reported only for successful items.
func (p *Processor) ProcessFiles(ctx context.Context, files []FileSource) domain.BatchResult {
	results := make([]domain.ItemResult, len(files))
	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.processFile(ctx, f)
			p.itemDone(results[i])
		}()
	}
	wg.Wait()
	return p.finish(ctx, "file", results)
}

func (p *Processor) processFile(ctx context.Context, f FileSource) domain.ItemResult {
	release, err := p.admit(ctx)
	if err != nil {
		return domain.ItemResult{Filename: f.Name, Status: domain.StatusFailedDownload, Error: err.Error()}
	}
	defer release()

	data, err := readSource(f)
	if err != nil {
		log.Warn().Err(err).Str("filename", f.Name).Msg("Failed to read uploaded file")
		return domain.ItemResult{Filename: f.Name, Status: domain.StatusFailedDownload, Error: err.Error()}
	}

	originalUpload := p.deps.Uploader.Start(ctx, data)
	res := p.Process(ctx, domain.WorkItem{Source: f.Name, Data: data}, "")
	originalURL, _ := originalUpload.Await(ctx)
	if res.Succeeded() {
		res.OriginalImageURL = originalURL
	}
	return res
}

func readSource(f FileSource) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, domain.NewStageError(domain.FailureDownload, "read", fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err))
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, domain.NewStageError(domain.FailureDownload, "read", fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err))
	}
	if len(data) == 0 {
		return nil, domain.NewStageError(domain.FailureDownload, "read", fmt.Errorf("%w: empty file", domain.ErrDownloadFailed))
	}
	return data, nil
}

func (p *Processor) itemDone(res domain.ItemResult) {
	if p.onItem != nil {
		p.onItem(res)
	}
}

// finish assigns a batch ID, logs the summary and saves the batch
// best-effort.
func (p *Processor) finish(ctx context.Context, kind string, results []domain.ItemResult) domain.BatchResult {
	batch := domain.NewBatchResult(jobs.NewBatchID(), results)

	log.Info().
		Str("batch_id", batch.BatchID).
		Str("kind", kind).
		Int("total", batch.Total).
		Int("success", batch.Success).
		Int("admission_peak", p.admission.Peak()).
		Msg("Batch complete")

	p.deps.Metrics.New().
		Dimension("Operation", "batch").
		Metric("BatchItems", float64(batch.Total), metrics.UnitCount).
		Metric("BatchSuccess", float64(batch.Success), metrics.UnitCount).
		Property("batchId", batch.BatchID).
		Flush()

	if p.deps.Store != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := p.deps.Store.PutBatch(saveCtx, &batch); err != nil {
			log.Warn().Err(err).Str("batch_id", batch.BatchID).Msg("Failed to save batch result")
		}
	}
	return batch
}
