package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/markdave123-py/kbforge/internal/core"
)

func TestGeminiEmbedder_Embed(t *testing.T) {
	var body struct {
		Requests []struct {
			Model   string `json:"model"`
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"requests"`
	}
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[{"values":[1,0,0]},{"values":[0,1,0]}]}`))
	}))
	defer srv.Close()

	e, err := NewGeminiEmbedder(context.Background(), "test-key", "gemini-embedding-001", option.WithEndpoint(srv.URL))
	require.NoError(t, err)
	defer e.Close()

	vecs, err := e.Embed(context.Background(), core.EmbeddingRequest{
		Input:      []string{"opening hours", "refund policy"},
		Dimensions: 768,
	})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0, 0}, {0, 1, 0}}, vecs)

	assert.True(t, strings.HasSuffix(path, "models/gemini-embedding-001:batchEmbedContents"), path)
	require.Len(t, body.Requests, 2)
	assert.Equal(t, "refund policy", body.Requests[1].Content.Parts[0].Text)
	assert.True(t, e.NativeSizeOnly())
}

func TestGeminiEmbedder_EmptyInput(t *testing.T) {
	e, err := NewGeminiEmbedder(context.Background(), "test-key", "", option.WithEndpoint("http://127.0.0.1:1"))
	require.NoError(t, err)
	defer e.Close()

	vecs, err := e.Embed(context.Background(), core.EmbeddingRequest{})
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, "text-embedding-004", e.modelName)
}
