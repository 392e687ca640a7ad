// Package ocr はページ画像からテキストを抽出します。
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultLanguage は既定の認識言語です。
const DefaultLanguage = "eng"

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Tesseract は tesseract コマンドで1枚ずつ文字認識を行います。
type Tesseract struct {
	path     string
	language string
	logger   zerolog.Logger
	run      commandRunner
}

// NewTesseract は Tesseract を作成します。
func NewTesseract(path, language string, logger zerolog.Logger) *Tesseract {
	if path == "" {
		path = "tesseract"
	}
	if language == "" {
		language = DefaultLanguage
	}
	return &Tesseract{
		path:     path,
		language: language,
		logger:   logger.With().Str("component", "ocr").Logger(),
		run:      runCommand,
	}
}

// Extract は各画像の認識結果を入力順に改行で連結し、前後の空白を除いて返します。
// 文字が1つも認識されなくてもエラーにはしません。
func (t *Tesseract) Extract(ctx context.Context, images []string) (string, error) {
	var full strings.Builder
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		out, err := t.run(ctx, t.path, ocrArgs(img, t.language)...)
		if err != nil {
			return "", fmt.Errorf("ocr %s: %w", filepath.Base(img), err)
		}
		t.logger.Debug().Int("page", i+1).Int("bytes", len(out)).Msg("page recognized")
		full.Write(out)
		full.WriteString("\n")
	}
	return strings.TrimSpace(full.String()), nil
}

func ocrArgs(image, language string) []string {
	return []string{image, "stdout", "--oem", "3", "--psm", "6", "-l", language}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.Bytes(), nil
}
