package retrieval

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbforge/internal/core"
	db "github.com/markdave123-py/kbforge/internal/core/database"
	"github.com/markdave123-py/kbforge/internal/core/embedding"
	"github.com/markdave123-py/kbforge/internal/models"
)

type stubEmbedder struct {
	vecs  map[string][]float32
	err   error
	calls int
}

func (s *stubEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vecs[text], nil
}

func (s *stubEmbedder) Config() models.EmbeddingConfig {
	return models.EmbeddingConfig{Model: "stub", Dimensions: 2}
}

// hashBackend is a deterministic bag-of-words embedder.
type hashBackend struct{}

func (hashBackend) Name() string { return "hash" }

func (hashBackend) Embed(_ context.Context, req core.EmbeddingRequest) ([][]float32, error) {
	out := make([][]float32, len(req.Input))
	for i, text := range req.Input {
		v := make([]float32, req.Dimensions)
		for _, w := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			v[int(h.Sum32())%len(v)]++
		}
		out[i] = v
	}
	return out, nil
}

func seed(t *testing.T, store *db.MemoryClient, chatbot string, embs map[int][]float32) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateDocument(ctx, &models.Document{
		ID: chatbot + "-doc", ChatbotID: chatbot, FileName: "kb.txt", Checksum: "x", Version: 1, Status: models.StatusProcessing,
	}))
	var chunks []models.DocumentChunk
	for i := 0; i < len(embs); i++ {
		chunks = append(chunks, models.DocumentChunk{
			ID: chatbot + "-c" + string(rune('0'+i)), DocumentID: chatbot + "-doc", ChatbotID: chatbot,
			ChunkIndex: i, Text: "chunk " + string(rune('0'+i)), Embedding: embs[i],
		})
	}
	require.NoError(t, store.InsertDocumentChunks(ctx, chunks))
	require.NoError(t, store.UpdateDocumentStatus(ctx, chatbot+"-doc", models.StatusReady, len(chunks), nil))
}

func TestRetrieve_ThresholdAboveBestMatch(t *testing.T) {
	store := db.NewMemoryClient()
	// cosine([1,0], [0.85, sqrt(1-0.85^2)]) == 0.85
	seed(t, store, "bot", map[int][]float32{0: {0.85, 0.5267826876}})
	emb := &stubEmbedder{vecs: map[string][]float32{"refund policy": {1, 0}}}
	r := New(store, emb)

	res, err := r.Retrieve(context.Background(), models.RetrievalQuery{ChatbotID: "bot", Text: "refund policy", Threshold: 0.9, Limit: 5})
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Empty(t, res)

	res, err = r.Retrieve(context.Background(), models.RetrievalQuery{ChatbotID: "bot", Text: "refund policy", Threshold: 0.8, Limit: 5})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.InDelta(t, 0.85, res[0].Similarity, 1e-6)
	assert.Equal(t, "kb.txt", res[0].FileName)
}

func TestRetrieve_DeterministicAndOrdered(t *testing.T) {
	store := db.NewMemoryClient()
	seed(t, store, "bot", map[int][]float32{
		0: {0, 1},
		1: {1, 0},
		2: {1, 1},
		3: {1, 0},
	})
	emb := &stubEmbedder{vecs: map[string][]float32{"q": {1, 0}}}
	r := New(store, emb, WithCache(nil))

	q := models.RetrievalQuery{ChatbotID: "bot", Text: "q", Threshold: 0.5, Limit: 5}
	first, err := r.Retrieve(context.Background(), q)
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first, 3)
	// ties keep insertion order
	assert.Equal(t, 1, first[0].ChunkIndex)
	assert.Equal(t, 3, first[1].ChunkIndex)
	assert.Equal(t, 2, first[2].ChunkIndex)

	q.Limit = 1
	top, err := r.Retrieve(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 1, top[0].ChunkIndex)
}

func TestRetrieve_TenantIsolation(t *testing.T) {
	store := db.NewMemoryClient()
	seed(t, store, "a", map[int][]float32{0: {1, 0}})
	seed(t, store, "b", map[int][]float32{0: {1, 0}})
	r := New(store, &stubEmbedder{vecs: map[string][]float32{"q": {1, 0}}})

	res, err := r.Retrieve(context.Background(), models.RetrievalQuery{ChatbotID: "a", Text: "q", Threshold: 0, Limit: 10})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a-doc", res[0].DocumentID)
}

type searchingStore struct {
	*db.MemoryClient
	searched bool
}

func (s *searchingStore) SearchChunks(context.Context, string, []float32, float64, int) ([]models.ScoredChunk, error) {
	s.searched = true
	return []models.ScoredChunk{{
		Chunk:      models.DocumentChunk{ID: "native", DocumentID: "d", ChunkIndex: 0, Text: "from index"},
		FileName:   "f.txt",
		Similarity: 0.95,
	}}, nil
}

func TestRetrieve_PrefersNativeSearch(t *testing.T) {
	store := &searchingStore{MemoryClient: db.NewMemoryClient()}
	r := New(store, &stubEmbedder{vecs: map[string][]float32{"q": {1, 0}}})

	res, err := r.Retrieve(context.Background(), models.RetrievalQuery{ChatbotID: "bot", Text: "q", Threshold: 0.7, Limit: 5})
	require.NoError(t, err)
	assert.True(t, store.searched)
	require.Len(t, res, 1)
	assert.Equal(t, "native", res[0].ChunkID)
}

func TestRetrieve_EmbeddingFailure(t *testing.T) {
	boom := &core.EmbeddingBackendError{Model: "stub", Err: errors.New("timeout")}
	r := New(db.NewMemoryClient(), &stubEmbedder{err: boom})

	_, err := r.Retrieve(context.Background(), models.RetrievalQuery{ChatbotID: "bot", Text: "q", Threshold: 0.7, Limit: 5})
	var re *core.RetrievalError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "bot", re.ChatbotID)
	assert.ErrorIs(t, err, core.ErrRetrievalBackend)
	assert.ErrorIs(t, err, core.ErrEmbeddingBackend)
}

func TestRetrieve_Validation(t *testing.T) {
	r := New(db.NewMemoryClient(), &stubEmbedder{})
	tests := []models.RetrievalQuery{
		{ChatbotID: "", Text: "q", Threshold: 0.5, Limit: 1},
		{ChatbotID: "bot", Text: "   ", Threshold: 0.5, Limit: 1},
		{ChatbotID: "bot", Text: "q", Threshold: 1.2, Limit: 1},
		{ChatbotID: "bot", Text: "q", Threshold: -0.1, Limit: 1},
		{ChatbotID: "bot", Text: "q", Threshold: 0.5, Limit: -1},
	}
	for _, q := range tests {
		_, err := r.Retrieve(context.Background(), q)
		assert.ErrorIs(t, err, core.ErrInvalidInput, "%+v", q)
	}
}

func TestRetrieve_CachesQueryEmbedding(t *testing.T) {
	store := db.NewMemoryClient()
	seed(t, store, "bot", map[int][]float32{0: {1, 0}})
	emb := &stubEmbedder{vecs: map[string][]float32{"q": {1, 0}}}
	r := New(store, emb)

	for i := 0; i < 3; i++ {
		_, err := r.Retrieve(context.Background(), models.RetrievalQuery{ChatbotID: "bot", Text: "q", Threshold: 0.5, Limit: 5})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, emb.calls)
}

func TestSelfCheck(t *testing.T) {
	gen, err := embedding.NewGenerator(hashBackend{}, embedding.Config{Model: "text-embedding-3-small", Dimensions: 512})
	require.NoError(t, err)
	r := New(db.NewMemoryClient(), gen)

	sim, err := r.SelfCheck(context.Background(), "مرحبا بكم في خدمة العملاء")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sim, 0.99)

	_, err = r.SelfCheck(context.Background(), " ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestRetrieve_EndToEndWithGenerator(t *testing.T) {
	gen, err := embedding.NewGenerator(hashBackend{}, embedding.Config{Model: "text-embedding-3-small", Dimensions: 512})
	require.NoError(t, err)

	ctx := context.Background()
	texts := []string{"refunds are issued within 14 days", "shipping takes three business days"}
	vecs, err := gen.CreateEmbeddings(ctx, texts)
	require.NoError(t, err)

	store := db.NewMemoryClient()
	seed(t, store, "bot", map[int][]float32{0: vecs[0], 1: vecs[1]})

	r := New(store, gen)
	res, err := r.Retrieve(ctx, models.RetrievalQuery{ChatbotID: "bot", Text: "refunds are issued within 14 days", Threshold: 0.7, Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, 0, res[0].ChunkIndex)
	assert.InDelta(t, 1.0, res[0].Similarity, 1e-6)
}

func TestRetrieve_DegradedStoreMatchesNothing(t *testing.T) {
	store := db.NewMemoryClient()
	seed(t, store, "bot", map[int][]float32{0: {0, 0}, 1: {0, 0}})
	gen, err := embedding.NewGenerator(nil, embedding.Config{Model: "text-embedding-3-small", Dimensions: 512})
	require.NoError(t, err)
	require.True(t, gen.Degraded())
	r := New(store, gen)

	res, err := r.Retrieve(context.Background(), models.RetrievalQuery{ChatbotID: "bot", Text: "anything", Threshold: 0, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestRetrieve_FallbackSkipsOtherDimensions(t *testing.T) {
	store := db.NewMemoryClient()
	seed(t, store, "bot", map[int][]float32{0: {1, 0, 0}, 1: {0, 1}})
	r := New(store, &stubEmbedder{vecs: map[string][]float32{"q": {1, 0}}})

	res, err := r.Retrieve(context.Background(), models.RetrievalQuery{ChatbotID: "bot", Text: "q", Threshold: 0, Limit: 5})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].ChunkIndex)
	assert.InDelta(t, 0, res[0].Similarity, 1e-9)
}
