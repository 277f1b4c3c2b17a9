package core

import "context"

// EmbeddingRequest is one call to an embedding backend. Dimensions == 0 means
// the parameter is omitted from the wire request.
type EmbeddingRequest struct {
	Model      string
	Input      []string
	Dimensions int
}

// EmbeddingBackend is the remote model API. Implementations return one vector
// per input, in input order.
type EmbeddingBackend interface {
	Embed(ctx context.Context, req EmbeddingRequest) ([][]float32, error)
	Name() string
}

// NativeSizeBackend is implemented by backends that cannot send
// EmbeddingRequest.Dimensions and always return the model's native size.
type NativeSizeBackend interface {
	NativeSizeOnly() bool
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}
