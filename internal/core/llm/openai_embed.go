package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/markdave123-py/kbforge/internal/core"
)

// OpenAIEmbedder calls the OpenAI embeddings endpoint, or any server that
// speaks the same API when BaseURL is set.
type OpenAIEmbedder struct {
	client *openai.Client
}

func NewOpenAIEmbedder(apiKey, baseURL string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg)}
}

func (o *OpenAIEmbedder) Name() string { return "openai" }

// Embed sends all inputs in one request. Dimensions is left out of the body
// when zero.
func (o *OpenAIEmbedder) Embed(ctx context.Context, req core.EmbeddingRequest) ([][]float32, error) {
	if len(req.Input) == 0 {
		return nil, nil
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      req.Input,
		Model:      openai.EmbeddingModel(req.Model),
		Dimensions: req.Dimensions,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai embeddings: status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(req.Input) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(req.Input))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

var _ core.EmbeddingBackend = (*OpenAIEmbedder)(nil)
