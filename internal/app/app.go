// Package app assembles the restoration service from a config.Config: pools,
// provider clients, the asset and batch stores, the reference pool and the
// pipeline processor. The serve, restore and Lambda entry points all start
// from Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/card-restore/internal/ark"
	"github.com/fpang/card-restore/internal/auth"
	"github.com/fpang/card-restore/internal/config"
	"github.com/fpang/card-restore/internal/correction"
	"github.com/fpang/card-restore/internal/domain"
	"github.com/fpang/card-restore/internal/fetch"
	"github.com/fpang/card-restore/internal/lambdaboot"
	"github.com/fpang/card-restore/internal/logging"
	"github.com/fpang/card-restore/internal/metrics"
	"github.com/fpang/card-restore/internal/pipeline"
	"github.com/fpang/card-restore/internal/pool"
	"github.com/fpang/card-restore/internal/rectify"
	"github.com/fpang/card-restore/internal/refs"
	"github.com/fpang/card-restore/internal/server"
	"github.com/fpang/card-restore/internal/store"
	"github.com/fpang/card-restore/internal/strategy"
	"github.com/fpang/card-restore/internal/upload"
	"github.com/fpang/card-restore/internal/vision"
)

// Options adjust Build for a particular entry point.
type Options struct {
	// Name labels the startup log.
	Name string
	// CommitHash and BuildTime identify the binary in the startup log.
	CommitHash string
	BuildTime  string
	// SSMParams lists the parameter paths secrets were read from, by label.
	SSMParams map[string]string
	// ValidateKeys probes each provider key before returning.
	ValidateKeys bool
	// OnItem is forwarded to the pipeline.
	OnItem func(domain.ItemResult)
	// AWS is used for the S3 and DynamoDB drivers. When nil and one of
	// them is selected, the default AWS config is loaded.
	AWS *aws.Config
}

// App is a fully wired service.
type App struct {
	Config    *config.Config
	Processor *pipeline.Processor
	Server    *server.Server
	Refs      *refs.Pool
	Refresher *refs.Refresher
	Batches   store.BatchStore
	Uploader  *upload.Manager

	workers *pool.Workers
	closers []func() error
}

// Build wires every component described by cfg. On error everything
// already started is released.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if opts.Name == "" {
		opts.Name = "card-restore"
	}
	a := &App{Config: cfg}
	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	initStart := time.Now()
	cfg := a.Config

	emitter := metrics.NewEmitter(cfg.Metrics.Namespace, cfg.Metrics.Enabled, os.Stdout)

	a.workers = pool.NewWorkers(cfg.Pools.CPUWorkers, cfg.Pools.API+cfg.Pools.Upload)
	a.closers = append(a.closers, func() error { a.workers.Close(); return nil })
	gpu := pool.NewSemaphore("gpu", cfg.Pools.GPU)
	api := pool.NewSemaphore("api", cfg.Pools.API)
	uploads := pool.NewSemaphore("upload", cfg.Pools.Upload)

	arkKey := cfg.Ark.APIKey
	if arkKey == "" {
		key, err := auth.GetAPIKey(auth.Ark)
		if err != nil {
			return &auth.ValidationError{Type: auth.ErrTypeNoKey, Message: "no Ark API key", Err: err}
		}
		arkKey = key
	}
	arkClient := ark.NewClient(arkKey,
		ark.WithBaseURL(cfg.Ark.BaseURL),
		ark.WithModels(cfg.Ark.GenModel, cfg.Ark.VisionModel),
		ark.WithTimeout(cfg.Timeouts.Generation),
	)
	if opts.ValidateKeys {
		if err := auth.ValidateAPIKey(ctx, auth.Ark.Name, arkClient.Ping, emitter); err != nil {
			return err
		}
	}

	describer, err := a.buildDescriber(ctx, arkClient, emitter, opts.ValidateKeys)
	if err != nil {
		return err
	}

	var service correction.Service = correction.Passthrough
	if cfg.Correction.URL != "" {
		service = correction.NewHTTPService(cfg.Correction.URL, cfg.Timeouts.Correction)
	}
	corrector := correction.NewStage(service, gpu, a.workers)

	awsCfg := opts.AWS
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		clients, err := lambdaboot.InitAWS(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
		}
		awsCfg = &clients.Config
		return clients.Config, nil
	}

	assets, err := buildAssetStore(cfg, loadAWS)
	if err != nil {
		return err
	}
	a.Uploader = upload.NewManager(assets, uploads, a.workers)

	a.Batches, err = a.buildBatchStore(ctx, cfg, loadAWS)
	if err != nil {
		return err
	}

	downloader := fetch.NewDownloader(cfg.Timeouts.Download, 0)
	a.Refs = refs.NewPool(cfg.ReferenceURLs(refs.DefaultURLs))
	a.Refresher = refs.NewRefresher(a.Refs, cfg.Refs.LocalDir, downloader, a.Uploader)

	size := cfg.Ark.Size
	if size == "" {
		size = ark.DefaultSize
	}
	a.Processor = pipeline.New(pipeline.Deps{
		Corrector: corrector,
		Analyzer:  vision.NewAnalyzer(describer, api, a.workers),
		Generator: strategy.ArkGenerator{Client: arkClient},
		Rectifier: rectify.NewEngine(corrector, a.workers),
		Uploader:  a.Uploader,
		Fetcher:   downloader,
		Refs:      a.Refs,
		Store:     a.Batches,
		Metrics:   emitter,
	}, pipeline.Options{
		Admission:  cfg.Pools.Admission,
		API:        api,
		Workers:    a.workers,
		LayoutWait: cfg.Timeouts.LayoutWait,
		Size:       size,
		OnItem:     opts.OnItem,
	})
	a.Server = server.New(a.Processor, a.Batches, cfg.Server.MaxUploadBytes)

	startupLog(opts, cfg, initStart).Log()
	return nil
}

func (a *App) buildDescriber(ctx context.Context, arkClient *ark.Client, emitter *metrics.Emitter, validate bool) (vision.Describer, error) {
	cfg := a.Config
	if cfg.Vision.Provider != "gemini" {
		return vision.ArkDescriber{Client: arkClient}, nil
	}

	key := cfg.Vision.GeminiAPIKey
	if key == "" {
		k, err := auth.GetAPIKey(auth.Gemini)
		if err != nil {
			return nil, &auth.ValidationError{Type: auth.ErrTypeNoKey, Message: "no Gemini API key", Err: err}
		}
		key = k
	}
	gemini, err := vision.NewGeminiDescriber(ctx, key, cfg.Vision.GeminiModel)
	if err != nil {
		return nil, err
	}
	if validate {
		if err := auth.ValidateAPIKey(ctx, auth.Gemini.Name, gemini.Ping, emitter); err != nil {
			return nil, err
		}
	}
	return gemini, nil
}

func buildAssetStore(cfg *config.Config, loadAWS func() (aws.Config, error)) (upload.AssetStore, error) {
	if cfg.Assets.Driver != "s3" {
		return upload.NewHTTPStore(cfg.Assets.UploadURL, cfg.Assets.URLPrefix, cfg.Timeouts.Upload), nil
	}
	awsCfg, err := loadAWS()
	if err != nil {
		return nil, err
	}
	s3cfg := cfg.Assets.S3
	client := lambdaboot.InitS3(awsCfg)
	st := upload.NewS3Store(client, s3cfg.Bucket, s3cfg.Prefix, s3cfg.PublicBase)
	if s3cfg.PublicBase == "" {
		st.WithPresignedURLs(s3.NewPresignClient(client), s3cfg.PresignExpiry)
	}
	return st, nil
}

func (a *App) buildBatchStore(ctx context.Context, cfg *config.Config, loadAWS func() (aws.Config, error)) (store.BatchStore, error) {
	switch cfg.Store.Driver {
	case "dynamodb":
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return lambdaboot.InitDynamoStore(awsCfg, cfg.Store.Table, cfg.Store.TTL), nil
	case "redis":
		r := cfg.Store.Redis
		rs, client, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
			TTL:      cfg.Store.TTL,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return rs, nil
	default:
		return store.NewMemoryStore(cfg.Store.TTL), nil
	}
}

// StartRefresh makes sure the local reference copies exist, runs one
// refresh and, when refs are enabled, schedules the periodic refresh. The
// initial refresh never fails startup. The returned cron is nil when no
// schedule was started.
func (a *App) StartRefresh(ctx context.Context) (*cron.Cron, error) {
	if !a.Config.Refs.Enabled {
		log.Info().Msg("Reference refresh disabled")
		return nil, nil
	}
	if err := a.Refresher.EnsureLocal(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to prepare local reference images")
	}
	if _, err := a.Refresher.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial reference refresh failed, keeping configured URLs")
	}
	return a.Refresher.Schedule(ctx, a.Config.Refs.Schedule)
}

// Close releases the worker pool and any store connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func startupLog(opts Options, cfg *config.Config, initStart time.Time) *logging.StartupLogger {
	correctionProvider := "passthrough"
	if cfg.Correction.URL != "" {
		correctionProvider = "http"
	}
	s := lambdaboot.StartupLog(opts.Name, initStart).
		CommitHash(opts.CommitHash).
		BuildTime(opts.BuildTime).
		Pool("admission", cfg.Pools.Admission).
		Pool("gpu", cfg.Pools.GPU).
		Pool("api", cfg.Pools.API).
		Pool("upload", cfg.Pools.Upload).
		Pool("cpu_workers", cfg.Pools.CPUWorkers).
		Provider("generation", "ark").
		Provider("vision", cfg.Vision.Provider).
		Provider("correction", correctionProvider).
		Resource("assets", cfg.Assets.Driver).
		Resource("batches", cfg.Store.Driver).
		Feature("refs_refresh", cfg.Refs.Enabled).
		Feature("metrics", cfg.Metrics.Enabled).
		Config("layout_wait", cfg.Timeouts.LayoutWait.String()).
		Config("size", cfg.Ark.Size)
	for label, path := range opts.SSMParams {
		s.SSMParam(label, path)
	}
	if cfg.Store.Driver == "dynamodb" {
		s.Resource("batch_table", cfg.Store.Table)
	}
	if cfg.Assets.Driver == "s3" {
		s.Resource("asset_bucket", cfg.Assets.S3.Bucket)
	}
	return s
}
