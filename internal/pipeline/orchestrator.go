// Package pipeline は1セッション分の処理（画像化 → OCR → 生成 → 保存）を順番に実行します。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/notepilot/internal/jobs"
)

// ステージごとのエラー。セッションの失敗メッセージの先頭になります。
var (
	ErrRasterize       = errors.New("failed to convert PDF to images")
	ErrExtract         = errors.New("failed to extract text")
	ErrNoTextExtracted = errors.New("no text could be extracted from the PDF")
	ErrGenerate        = errors.New("failed to generate notes")
	ErrSave            = errors.New("failed to save output")
)

// Rasterizer は文書をページ順の画像ファイルに変換します。
type Rasterizer interface {
	Rasterize(ctx context.Context, documentPath, outDir string) ([]string, error)
}

// Extractor は画像群から入力順にテキストを抽出します。認識結果が空でもエラーにはしません。
type Extractor interface {
	Extract(ctx context.Context, images []string) (string, error)
}

// Transformer は抽出テキストを指定フォーマットのノートへ変換します。
type Transformer interface {
	Transform(ctx context.Context, text, formatMode string) (string, error)
}

// ArtifactWriter は生成テキストをセッション単位で保存し、保存先を返します。
type ArtifactWriter interface {
	Save(ctx context.Context, sessionID, text string) (string, error)
}

// Options は Orchestrator の依存関係です。
type Options struct {
	Registry    jobs.Registry
	Rasterizer  Rasterizer
	Extractor   Extractor
	Transformer Transformer
	Artifacts   ArtifactWriter
	ImagesDir   string
	// CleanupOnFailure が true の場合、失敗時にもページ画像を削除します。
	CleanupOnFailure bool
	Logger           zerolog.Logger
}

// Orchestrator はセッションの状態遷移とステージの実行順序を管理します。
type Orchestrator struct {
	registry         jobs.Registry
	rasterizer       Rasterizer
	extractor        Extractor
	transformer      Transformer
	artifacts        ArtifactWriter
	imagesDir        string
	cleanupOnFailure bool
	logger           zerolog.Logger
}

var _ jobs.Runner = (*Orchestrator)(nil)

// New は Orchestrator を作成します。
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("registry is nil")
	case opts.Rasterizer == nil:
		return nil, errors.New("rasterizer is nil")
	case opts.Extractor == nil:
		return nil, errors.New("extractor is nil")
	case opts.Transformer == nil:
		return nil, errors.New("transformer is nil")
	case opts.Artifacts == nil:
		return nil, errors.New("artifacts is nil")
	case opts.ImagesDir == "":
		return nil, errors.New("imagesDir is required")
	}
	return &Orchestrator{
		registry:         opts.Registry,
		rasterizer:       opts.Rasterizer,
		extractor:        opts.Extractor,
		transformer:      opts.Transformer,
		artifacts:        opts.Artifacts,
		imagesDir:        opts.ImagesDir,
		cleanupOnFailure: opts.CleanupOnFailure,
		logger:           opts.Logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Run はセッションを終端状態まで進めます。最初に発生したエラーでセッションを失敗とし、再試行はしません。
func (o *Orchestrator) Run(ctx context.Context, task jobs.Task) {
	logger := o.logger.With().Str("session_id", task.SessionID).Logger()
	imagesDir := filepath.Join(o.imagesDir, task.SessionID)
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("pipeline panicked")
			o.fail(ctx, task.SessionID, fmt.Errorf("internal error: %v", r), logger)
		}
	}()

	logger.Info().Str("document", task.DocumentPath).Msg("pipeline started")

	resultPath, err := o.execute(ctx, task, imagesDir, logger)
	if err != nil {
		o.fail(ctx, task.SessionID, err, logger)
		if o.cleanupOnFailure {
			o.cleanup(imagesDir, logger)
		}
		return
	}

	logger.Info().
		Str("result_path", resultPath).
		Dur("elapsed", time.Since(started)).
		Msg("pipeline completed")
	o.cleanup(imagesDir, logger)
}

func (o *Orchestrator) execute(ctx context.Context, task jobs.Task, imagesDir string, logger zerolog.Logger) (string, error) {
	id := task.SessionID

	if err := o.advance(ctx, id, jobs.StatusConverting); err != nil {
		return "", err
	}
	images, err := o.rasterizer.Rasterize(ctx, task.DocumentPath, imagesDir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRasterize, err)
	}
	logger.Debug().Int("pages", len(images)).Msg("document rasterized")

	if err := o.advance(ctx, id, jobs.StatusExtracting); err != nil {
		return "", err
	}
	text, err := o.extractor.Extract(ctx, images)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtract, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoTextExtracted
	}
	logger.Debug().Int("characters", len([]rune(text))).Msg("text extracted")

	if err := o.advance(ctx, id, jobs.StatusGenerating); err != nil {
		return "", err
	}
	notes, err := o.transformer.Transform(ctx, text, task.FormatMode)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerate, err)
	}

	if err := o.advance(ctx, id, jobs.StatusSaving); err != nil {
		return "", err
	}
	resultPath, err := o.artifacts.Save(ctx, id, notes)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSave, err)
	}

	if err := o.registry.Transition(ctx, id, jobs.StatusCompleted, jobs.Update{ResultPath: resultPath}); err != nil {
		return "", err
	}
	return resultPath, nil
}

func (o *Orchestrator) advance(ctx context.Context, id string, next jobs.Status) error {
	if err := o.registry.Transition(ctx, id, next, jobs.Update{}); err != nil {
		return fmt.Errorf("failed to enter %s: %w", next, err)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, id string, cause error, logger zerolog.Logger) {
	logger.Error().Err(cause).Msg("pipeline failed")
	err := o.registry.Transition(context.WithoutCancel(ctx), id, jobs.StatusFailed, jobs.Update{
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to record session failure")
	}
}

func (o *Orchestrator) cleanup(dir string, logger zerolog.Logger) {
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("failed to remove page images")
	}
}
