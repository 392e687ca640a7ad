package llm

import (
	"context"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/rs/zerolog"
)

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{
				genai.Text("## Quick Reference\n"),
				genai.Blob{MIMEType: "image/png", Data: []byte{1}},
				genai.Text("- **Ohm's law**: V = IR"),
			}}},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("ignored")}}},
		},
	}

	text, parts := responseText(resp)
	if parts != 2 {
		t.Fatalf("parts = %d, want 2", parts)
	}
	if want := "## Quick Reference\n- **Ohm's law**: V = IR"; text != want {
		t.Fatalf("text = %q, want %q", text, want)
	}
}

func TestResponseTextEmpty(t *testing.T) {
	for name, resp := range map[string]*genai.GenerateContentResponse{
		"nil":           nil,
		"no candidates": {},
		"no content":    {Candidates: []*genai.Candidate{{}}},
	} {
		if text, parts := responseText(resp); text != "" || parts != 0 {
			t.Errorf("%s: got (%q, %d)", name, text, parts)
		}
	}
}

func TestNewVertexGeneratorRequiresProject(t *testing.T) {
	if _, err := NewVertexGenerator(context.Background(), "", "us-central1", "", zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty project")
	}
}
