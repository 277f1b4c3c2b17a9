package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/kbforge/internal/core"
)

// GeminiEmbedder has no output-size parameter, so every model it serves
// returns its native size.
type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
}

// NewGeminiEmbedder dials the Gemini API. Extra options are applied after the
// API key (for example a custom endpoint).
func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, opts ...option.ClientOption) (*GeminiEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiEmbedder) Name() string { return "gemini" }

// NativeSizeOnly reports that EmbeddingRequest.Dimensions is never sent.
func (g *GeminiEmbedder) NativeSizeOnly() bool { return true }

// Embed batches all inputs in one BatchEmbedContents call.
func (g *GeminiEmbedder) Embed(ctx context.Context, req core.EmbeddingRequest) ([][]float32, error) {
	if len(req.Input) == 0 {
		return nil, nil
	}
	model := req.Model
	if model == "" {
		model = g.modelName
	}

	em := g.client.EmbeddingModel(model)

	batch := em.NewBatch()
	for _, t := range req.Input {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}

var (
	_ core.EmbeddingBackend  = (*GeminiEmbedder)(nil)
	_ core.NativeSizeBackend = (*GeminiEmbedder)(nil)
)
