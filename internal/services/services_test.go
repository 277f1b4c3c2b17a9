package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbforge/internal/core"
	db "github.com/markdave123-py/kbforge/internal/core/database"
	"github.com/markdave123-py/kbforge/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/kbforge/internal/core/object-client"
	"github.com/markdave123-py/kbforge/internal/models"
)

type constEmbedder struct{}

func (constEmbedder) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (constEmbedder) Config() models.EmbeddingConfig {
	return models.EmbeddingConfig{Model: "const", Dimensions: 2}
}

func newDocumentService(t *testing.T) (*DocumentService, *objectclient.MemoryObjectClient) {
	t.Helper()
	store := db.NewMemoryClient()
	obj := objectclient.NewMemoryObjectClient()
	ing := ingestion_engine.NewDocumentIngestor(store, obj, ingestion_engine.NewTextExtractor(), nil, constEmbedder{}, nil)
	return NewDocumentService(store, obj, ing, nil), obj
}

func TestDocumentService_UploadGetDelete(t *testing.T) {
	svc, obj := newDocumentService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, "bot-1", `C:\Users\me\Shipping Policy.txt`, "text/plain", []byte("Free shipping over $50."), true)
	require.NoError(t, err)
	assert.Equal(t, "Shipping_Policy.txt", res.Document.FileName)
	assert.Equal(t, models.StatusReady, res.Document.Status)

	got, err := svc.Get(ctx, "bot-1", res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Document.ID, got.ID)

	chunks, err := svc.Chunks(ctx, "bot-1", res.Document.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Nil(t, chunks[0].Embedding)

	_, err = svc.Get(ctx, "bot-2", res.Document.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "bot-2", res.Document.ID), core.ErrNotFound)

	require.NoError(t, svc.Delete(ctx, "bot-1", res.Document.ID))
	assert.Equal(t, 0, obj.Len())
	_, err = svc.Get(ctx, "bot-1", res.Document.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDocumentService_RejectsUnsupportedType(t *testing.T) {
	svc, obj := newDocumentService(t)

	_, err := svc.Upload(context.Background(), "bot-1", "logo.png", "image/png", []byte{0x89, 'P', 'N', 'G'}, true)
	assert.ErrorIs(t, err, core.ErrUnsupportedType)
	assert.Equal(t, 0, obj.Len())
}

func TestCleanFileName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":          "report.pdf",
		"../../etc/passwd":    "passwd",
		`dir\sub\My File.txt`: "My_File.txt",
		"  notes.md ":         "notes.md",
		"":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanFileName(in), "cleanFileName(%q)", in)
	}
}

type stubRetriever struct {
	results []models.RetrievalResult
	err     error
	got     models.RetrievalQuery
}

func (s *stubRetriever) Retrieve(_ context.Context, q models.RetrievalQuery) ([]models.RetrievalResult, error) {
	s.got = q
	return s.results, s.err
}

type recordingLLM struct {
	system, user string
}

func (l *recordingLLM) Generate(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	l.system, l.user = systemPrompt, userPrompt
	return "answer", nil
}

func TestChatService_Grounded(t *testing.T) {
	r := &stubRetriever{results: []models.RetrievalResult{
		{FileName: "faq.txt", ChunkIndex: 2, Text: "We open at 9.", Similarity: 0.91},
	}}
	llm := &recordingLLM{}
	svc := NewChatService(r, llm, 0.7, 5, nil)

	ans, err := svc.Ask(context.Background(), "bot-1", " When do you open? ")
	require.NoError(t, err)
	assert.True(t, ans.Grounded)
	assert.Equal(t, "answer", ans.Answer)
	assert.Len(t, ans.Sources, 1)

	assert.Equal(t, models.RetrievalQuery{ChatbotID: "bot-1", Text: "When do you open?", Threshold: 0.7, Limit: 5}, r.got)
	assert.Contains(t, llm.user, "[faq.txt #2]\nWe open at 9.")
	assert.Contains(t, llm.user, "Question: When do you open?")
}

func TestChatService_RetrievalFailureDegrades(t *testing.T) {
	r := &stubRetriever{err: &core.RetrievalError{ChatbotID: "bot-1", Err: errors.New("connection refused")}}
	llm := &recordingLLM{}
	svc := NewChatService(r, llm, 0.7, 5, nil)

	ans, err := svc.Ask(context.Background(), "bot-1", "When do you open?")
	require.NoError(t, err)
	assert.False(t, ans.Grounded)
	assert.Empty(t, ans.Sources)
	assert.NotNil(t, ans.Sources)
	assert.Equal(t, ungroundedPrompt, llm.system)
}

func TestChatService_Errors(t *testing.T) {
	svc := NewChatService(&stubRetriever{}, nil, 0.7, 5, nil)
	_, err := svc.Ask(context.Background(), "bot-1", "hi")
	assert.ErrorIs(t, err, ErrNoLLM)

	svc = NewChatService(&stubRetriever{}, &recordingLLM{}, 0.7, 5, nil)
	_, err = svc.Ask(context.Background(), "bot-1", "   ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
