package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yourusername/notepilot/internal/app"
	"github.com/yourusername/notepilot/internal/config"
	"github.com/yourusername/notepilot/internal/jobs"
)

const pollInterval = 500 * time.Millisecond

var (
	processFormat string
	processOut    string
)

var processCmd = &cobra.Command{
	Use:   "process <file.pdf>",
	Short: "Convert a single PDF into study notes",
	Long: `Process runs the full pipeline in this process and writes the generated
notes to --out (default: StudyMaterial.txt next to the input, "-" for stdout).

Formats: 1 = smart cheat sheet, 2 = detailed summary notes.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processFormat, "format", "f", jobs.DefaultFormatMode, "output format (1 or 2)")
	processCmd.Flags().StringVarP(&processOut, "out", "o", "", "output path")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig("notepilot-cli")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return processFile(ctx, cfg, logger, processRequest{
		input:  args[0],
		out:    processOut,
		format: processFormat,
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	})
}

type processRequest struct {
	input  string
	out    string
	format string
	stdout io.Writer // out が "-" のときのノートの出力先
	stderr io.Writer // 進捗表示の出力先
}

// processFile はプロセス内のワーカーで1文書を処理し、成果物を書き出します。
// stdout にはノート本文以外を書き込みません。
func processFile(ctx context.Context, cfg *config.Config, logger zerolog.Logger, req processRequest, opts ...app.Option) error {
	// 単発実行ではプロセス内のワーカーで処理する
	cfg.QueueBackend = config.QueueBackendMemory
	cfg.WorkerCount = 1
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}

	application, err := app.New(ctx, cfg, logger, opts...)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	application.Start(ctx)
	defer func() {
		if err := application.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("shutdown failed")
		}
	}()

	f, err := os.Open(req.input)
	if err != nil {
		return err
	}
	defer f.Close()

	sessionID, err := application.Manager.Submit(ctx, filepath.Base(req.input), f, req.format)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Writer = req.stderr
	s.Suffix = " " + describeStep(jobs.StatusQueued)
	s.Start()
	record, err := waitForSession(ctx, application.Manager, sessionID, func(r *jobs.Record) {
		s.Lock()
		s.Suffix = " " + describeStep(r.Status)
		s.Unlock()
	})
	s.Stop()
	if err != nil {
		return err
	}
	if record.Status == jobs.StatusFailed {
		return fmt.Errorf("processing failed: %s", record.ErrorMessage)
	}

	artifact, err := application.Manager.Download(ctx, sessionID, jobs.ArtifactKindText)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer artifact.Body.Close()

	out := outputPath(req.input, req.out)
	if err := writeArtifact(out, artifact.Body, req.stdout); err != nil {
		return err
	}
	if out != "-" {
		fmt.Fprintf(req.stderr, "Notes written to %s\n", out)
	}
	return nil
}

// waitForSession は終端状態になるまでレコードをポーリングします。
func waitForSession(ctx context.Context, m *jobs.Manager, sessionID string, onUpdate func(*jobs.Record)) (*jobs.Record, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last jobs.Status
	for {
		record, err := m.GetStatus(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if record.Status != last {
			last = record.Status
			onUpdate(record)
		}
		if record.Status.Terminal() {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func describeStep(status jobs.Status) string {
	switch status {
	case jobs.StatusQueued:
		return "Waiting in queue..."
	case jobs.StatusConverting:
		return "Converting PDF to images..."
	case jobs.StatusExtracting:
		return "Extracting text..."
	case jobs.StatusGenerating:
		return "Generating notes..."
	case jobs.StatusSaving:
		return "Saving output..."
	case jobs.StatusCompleted:
		return "Done"
	case jobs.StatusFailed:
		return "Failed"
	}
	return string(status)
}

func outputPath(input, out string) string {
	if out != "" {
		return out
	}
	return filepath.Join(filepath.Dir(input), jobs.ArtifactFilename)
}

func writeArtifact(path string, body io.Reader, stdout io.Writer) error {
	if path == "-" {
		_, err := io.Copy(stdout, body)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
