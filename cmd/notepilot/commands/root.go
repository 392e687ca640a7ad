package commands

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yourusername/notepilot/internal/config"
	"github.com/yourusername/notepilot/internal/logging"
)

var (
	verbose  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "notepilot",
	Short: "Turn lecture PDFs into study notes",
	Long: `notepilot rasterizes a PDF, recognizes its text with OCR and asks a
generative model to rewrite it as a cheat sheet or detailed summary notes.

Run "notepilot serve" for the HTTP API, or "notepilot process" to convert a
single file from the command line.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
}

// Execute はルートコマンドを実行します。
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig(service string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	logger := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: service,
	})
	return cfg, logger, nil
}
