package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// DefaultMaxChunkSize は1チャンクあたりの既定の最大文字数です。
const DefaultMaxChunkSize = 15000

// Generator はプロンプトから文章を生成する外部エンジンです。再試行は行いません。
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Transformer はテキストをチャンクに分け、順番に Generator を呼び出します。
type Transformer struct {
	gen      Generator
	maxChunk int
	logger   zerolog.Logger
}

// NewTransformer は Transformer を作成します。maxChunk が 0 以下なら既定値を使います。
func NewTransformer(gen Generator, maxChunk int, logger zerolog.Logger) (*Transformer, error) {
	if gen == nil {
		return nil, errors.New("generator is nil")
	}
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunkSize
	}
	return &Transformer{
		gen:      gen,
		maxChunk: maxChunk,
		logger:   logger.With().Str("component", "transformer").Logger(),
	}, nil
}

// Transform はチャンクごとの生成結果を空行区切りで連結し、前後の空白を除いて返します。
// どれか1つでも失敗した場合は部分結果を返さずにエラーを返します。
func (t *Transformer) Transform(ctx context.Context, text, mode string) (string, error) {
	chunks := SplitChunks(text, t.maxChunk)
	t.logger.Debug().Int("chunks", len(chunks)).Str("format", mode).Msg("generating notes")

	var out strings.Builder
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		t.logger.Debug().Int("chunk", i+1).Int("of", len(chunks)).Msg("processing chunk")

		generated, err := t.gen.Generate(ctx, BuildPrompt(mode, chunk))
		if err != nil {
			return "", fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		out.WriteString(generated)
		out.WriteString("\n\n")
	}
	return strings.TrimSpace(out.String()), nil
}

// SplitChunks はテキストを先頭から size 文字（コードポイント）ごとに区切ります。
// 単語や書記素クラスタの境界は考慮しません。不正な UTF-8 のバイトは1文字として数え、そのまま残します。
func SplitChunks(text string, size int) []string {
	if size <= 0 {
		size = DefaultMaxChunkSize
	}
	if text == "" {
		return nil
	}
	chunks := make([]string, 0, (utf8.RuneCountInString(text)+size-1)/size)
	start, count := 0, 0
	for i := 0; i < len(text); {
		_, width := utf8.DecodeRuneInString(text[i:])
		i += width
		count++
		if count == size {
			chunks = append(chunks, text[start:i])
			start, count = i, 0
		}
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}
