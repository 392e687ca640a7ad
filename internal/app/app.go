// Package app は設定から各コンポーネントを組み立て、起動と停止をまとめて扱います。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yourusername/notepilot/internal/config"
	"github.com/yourusername/notepilot/internal/jobs"
	"github.com/yourusername/notepilot/internal/llm"
	"github.com/yourusername/notepilot/internal/ocr"
	"github.com/yourusername/notepilot/internal/pdf"
	"github.com/yourusername/notepilot/internal/pipeline"
	"github.com/yourusername/notepilot/internal/storage"
	"github.com/yourusername/notepilot/internal/summary"
)

const (
	sweepInterval = time.Minute
	// drainTimeout は取り消したセッションの終了を待つ上限です。
	drainTimeout = 10 * time.Second
)

// ArtifactStore は成果物の保存と読み出しの両方を行います。
type ArtifactStore interface {
	pipeline.ArtifactWriter
	jobs.ArtifactReader
}

type worker interface {
	jobs.Dispatcher
	Start(ctx context.Context)
	Shutdown(ctx context.Context) error
}

type settings struct {
	intake     jobs.DocumentIntake
	rasterizer pipeline.Rasterizer
	extractor  pipeline.Extractor
	generator  summary.Generator
	artifacts  ArtifactStore
}

// Option は組み立てに使う部品を差し替えます。
type Option func(*settings)

// WithIntake は文書の受け入れ処理を差し替えます。
func WithIntake(in jobs.DocumentIntake) Option {
	return func(s *settings) { s.intake = in }
}

// WithRasterizer はページ画像化を差し替えます。
func WithRasterizer(r pipeline.Rasterizer) Option {
	return func(s *settings) { s.rasterizer = r }
}

// WithExtractor は文字認識を差し替えます。
func WithExtractor(e pipeline.Extractor) Option {
	return func(s *settings) { s.extractor = e }
}

// WithGenerator は生成エンジンを差し替えます。
func WithGenerator(g summary.Generator) Option {
	return func(s *settings) { s.generator = g }
}

// WithArtifacts は成果物の保存先を差し替えます。
func WithArtifacts(a ArtifactStore) Option {
	return func(s *settings) { s.artifacts = a }
}

// App は組み立て済みのサービスです。
type App struct {
	Config  *config.Config
	Manager *jobs.Manager
	logger  zerolog.Logger

	registry jobs.Registry
	worker   worker
	closers  []io.Closer
	stop     context.CancelFunc
}

// New は cfg に従って全コンポーネントを組み立てます。Start を呼ぶまでパイプラインは実行されません。
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	a := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	ttl := time.Duration(cfg.SessionTTLMinutes) * time.Minute
	switch cfg.QueueBackend {
	case config.QueueBackendRedis:
		opt, err := redis.ParseURL(cfg.QueueRedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		a.closers = append(a.closers, rdb)
		a.registry = jobs.NewRedisRegistry(rdb, ttl)
	default:
		a.registry = jobs.NewMemoryRegistry(ttl)
	}

	if s.intake == nil {
		s.intake, err = pdf.NewIntake(cfg.UploadDir, cfg.MaxFileSize, cfg.MaxPages)
		if err != nil {
			return nil, err
		}
	}
	if s.rasterizer == nil {
		switch cfg.Rasterizer {
		case config.RasterizerFitz:
			s.rasterizer = pdf.NewFitzRasterizer(cfg.RasterDPI, cfg.JPEGQuality)
		default:
			s.rasterizer = pdf.NewGhostscriptRasterizer(cfg.GhostscriptPath, cfg.RasterDPI, cfg.JPEGQuality)
		}
	}
	if s.extractor == nil {
		s.extractor = ocr.NewTesseract(cfg.TesseractPath, cfg.OCRLanguage, logger)
	}
	if s.generator == nil {
		gen, err := llm.NewVertexGenerator(ctx, cfg.GCPProject, cfg.VertexAIRegion, cfg.GenerationModel, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize generator: %w", err)
		}
		a.closers = append(a.closers, gen)
		s.generator = gen
	}
	if s.artifacts == nil {
		if cfg.GCSBucket != "" {
			gcs, err := storage.NewGCS(ctx, cfg.GCSBucket, cfg.GCSPrefix)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize GCS: %w", err)
			}
			a.closers = append(a.closers, gcs)
			s.artifacts = gcs
		} else {
			local, err := storage.NewLocal(cfg.OutputDir)
			if err != nil {
				return nil, err
			}
			s.artifacts = local
		}
	}

	transformer, err := summary.NewTransformer(s.generator, cfg.MaxChunkSize, logger)
	if err != nil {
		return nil, err
	}
	orchestrator, err := pipeline.New(pipeline.Options{
		Registry:         a.registry,
		Rasterizer:       s.rasterizer,
		Extractor:        s.extractor,
		Transformer:      transformer,
		Artifacts:        s.artifacts,
		ImagesDir:        cfg.ImagesDir,
		CleanupOnFailure: cfg.CleanupOnFailure,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	switch cfg.QueueBackend {
	case config.QueueBackendRedis:
		a.worker, err = jobs.NewAsynqDispatcher(cfg.QueueRedisURL, cfg.WorkerCount, orchestrator, logger)
	default:
		a.worker, err = jobs.NewPool(orchestrator, cfg.WorkerCount, cfg.QueueSize, logger)
	}
	if err != nil {
		return nil, err
	}

	a.Manager, err = jobs.NewManager(jobs.ManagerOptions{
		Registry:      a.registry,
		Dispatcher:    a.worker,
		Intake:        s.intake,
		Artifacts:     s.artifacts,
		ResultBaseURL: cfg.JobResultBaseURL,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Start はワーカーと（必要なら）期限切れセッションの掃除を開始します。
func (a *App) Start(ctx context.Context) {
	ctx, a.stop = context.WithCancel(ctx)
	a.worker.Start(ctx)
	if mem, ok := a.registry.(*jobs.MemoryRegistry); ok && a.Config.SessionTTLMinutes > 0 {
		go mem.RunSweeper(ctx, sweepInterval)
	}
	a.logger.Info().
		Str("queue_backend", a.Config.QueueBackend).
		Int("workers", a.Config.WorkerCount).
		Msg("pipeline workers started")
}

// Shutdown は新規受付を止め、実行中のセッションを待ってから外部クライアントを閉じます。
// ctx の期限までに終わらないセッションは取り消し、その終了を待ってからクライアントを閉じます。
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.worker != nil {
		err := a.worker.Shutdown(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("worker shutdown: %w", err))
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.logger.Warn().Err(err).Msg("cancelling in-flight sessions")
			if a.stop != nil {
				a.stop()
			}
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			if err := a.worker.Shutdown(drainCtx); err != nil {
				errs = append(errs, fmt.Errorf("worker drain: %w", err))
			}
			cancel()
		}
	}
	if a.stop != nil {
		a.stop()
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
