// Package llm は Vertex AI の生成モデルをノート生成エンジンとして提供します。
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/rs/zerolog"
)

// DefaultModel は既定の生成モデル名です。
const DefaultModel = "gemini-1.5-flash"

// ErrEmptyResponse はモデルがテキストを返さなかった場合のエラーです。
var ErrEmptyResponse = errors.New("model returned no text")

// VertexGenerator は1回のプロンプトにつき1回 GenerateContent を呼び出します。再試行は行いません。
type VertexGenerator struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
	logger zerolog.Logger
}

// NewVertexGenerator は Vertex AI クライアントを作成します。Close で解放してください。
func NewVertexGenerator(ctx context.Context, projectID, region, model string, logger zerolog.Logger) (*VertexGenerator, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexGenerator: projectID and region cannot be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &VertexGenerator{
		client: client,
		model:  client.GenerativeModel(model),
		name:   model,
		logger: logger.With().Str("component", "vertex").Str("model", model).Logger(),
	}, nil
}

// Generate はプロンプトを送信し、応答のテキスト部分を連結して返します。
func (g *VertexGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%s: %w", g.name, err)
	}
	text, parts := responseText(resp)
	if parts == 0 {
		return "", ErrEmptyResponse
	}
	if parts > 1 {
		g.logger.Debug().Int("parts", parts).Msg("response contained multiple text parts")
	}
	return text, nil
}

// Close はクライアントを閉じます。
func (g *VertexGenerator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// responseText は最初の候補に含まれるテキスト部分を連結し、部分の数とともに返します。
func responseText(resp *genai.GenerateContentResponse) (string, int) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", 0
	}
	var sb strings.Builder
	parts := 0
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
			parts++
		}
	}
	return sb.String(), parts
}
