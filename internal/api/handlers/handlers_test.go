package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbforge/internal/core"
	db "github.com/markdave123-py/kbforge/internal/core/database"
	"github.com/markdave123-py/kbforge/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/kbforge/internal/core/object-client"
	"github.com/markdave123-py/kbforge/internal/core/retrieval"
	"github.com/markdave123-py/kbforge/internal/models"
	"github.com/markdave123-py/kbforge/internal/services"
)

// letterEmbedder maps text to its normalised letter histogram.
type letterEmbedder struct{}

func (letterEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	var n float64
	for _, x := range v {
		n += float64(x * x)
	}
	if n > 0 {
		for i := range v {
			v[i] /= float32(math.Sqrt(n))
		}
	}
	return v, nil
}

func (e letterEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.CreateEmbedding(ctx, t)
	}
	return out, nil
}

func (letterEmbedder) Config() models.EmbeddingConfig {
	return models.EmbeddingConfig{Model: "letters", Dimensions: 26}
}

func (letterEmbedder) Degraded() bool { return false }

type echoLLM struct{}

func (echoLLM) Generate(_ context.Context, _, userPrompt string) (string, error) {
	return "echo: " + userPrompt, nil
}

func newTestRouter(t *testing.T, llm core.LLMProvider) http.Handler {
	t.Helper()
	store := db.NewMemoryClient()
	obj := objectclient.NewMemoryObjectClient()
	emb := letterEmbedder{}

	ing := ingestion_engine.NewDocumentIngestor(store, obj, ingestion_engine.NewTextExtractor(), nil, emb, nil)
	ret := retrieval.New(store, emb)

	docs := NewDocumentHandler(services.NewDocumentService(store, obj, ing, nil), nil)
	search := NewRetrievalHandler(ret, emb, 0.7, 5, nil)
	chat := NewChatHandler(services.NewChatService(ret, llm, 0.5, 3, nil), nil)

	r := chi.NewRouter()
	r.Get("/health", search.Health)
	r.Get("/api/embeddings/dimensions", search.Dimensions)
	r.Route("/api/chatbots/{chatbotID}", func(r chi.Router) {
		r.Post("/documents", docs.UploadDocument)
		r.Get("/documents", docs.GetDocuments)
		r.Get("/documents/{documentID}", docs.GetDocument)
		r.Get("/documents/{documentID}/chunks", docs.GetChunks)
		r.Delete("/documents/{documentID}", docs.DeleteDocument)
		r.Post("/retrieve", search.Retrieve)
		r.Post("/chat", chat.Ask)
	})
	return r
}

func uploadRequest(t *testing.T, chatbotID, name, contentType, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chatbots/"+chatbotID+"/documents?sync=true", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadDoc(t *testing.T, h http.Handler, chatbotID, name, body string) uploadResponse {
	t.Helper()
	rec := do(h, uploadRequest(t, chatbotID, name, "text/plain", body))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var res uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestDocumentRoutes(t *testing.T) {
	h := newTestRouter(t, echoLLM{})

	res := uploadDoc(t, h, "bot-1", "hours.txt", "We open at nine on weekdays.")
	assert.False(t, res.Skipped)
	assert.Equal(t, models.StatusReady, res.Document.Status)
	id := res.Document.ID

	rec := do(h, uploadRequest(t, "bot-1", "hours-copy.txt", "text/plain", "We open at nine on weekdays."))
	require.Equal(t, http.StatusOK, rec.Code)
	var dup uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dup))
	assert.True(t, dup.Skipped)
	assert.Equal(t, id, dup.Document.ID)

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/chatbots/bot-1/documents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/chatbots/bot-2/documents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/chatbots/bot-1/documents/"+id+"/chunks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"embedding"`)

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/chatbots/bot-2/documents/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, httptest.NewRequest(http.MethodDelete, "/api/chatbots/bot-1/documents/"+id, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/chatbots/bot-1/documents/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadDocument_Rejections(t *testing.T) {
	h := newTestRouter(t, echoLLM{})

	rec := do(h, uploadRequest(t, "bot-1", "logo.png", "image/png", "\x89PNG"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = do(h, uploadRequest(t, "bot-1", "empty.txt", "text/plain", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/chatbots/bot-1/documents", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, http.StatusBadRequest, do(h, req).Code)
}

func TestUploadDocument_MalformedJSONIsRecordedAsError(t *testing.T) {
	h := newTestRouter(t, echoLLM{})

	rec := do(h, uploadRequest(t, "bot-1", "menu.json", "application/json", `{"dishes": [`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var res uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, models.StatusError, res.Document.Status)
	require.NotNil(t, res.Document.ErrorMessage)
	assert.Contains(t, *res.Document.ErrorMessage, "extraction failure")
}

func TestRetrieve(t *testing.T) {
	h := newTestRouter(t, echoLLM{})
	uploadDoc(t, h, "bot-1", "hours.txt", "We open at nine on weekdays.")
	uploadDoc(t, h, "bot-1", "refunds.txt", "Refunds take fourteen days to process.")

	rec := do(h, postJSON("/api/chatbots/bot-1/retrieve", `{"query": "We open at nine on weekdays.", "threshold": 0.99}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp retrieveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "hours.txt", resp.Results[0].FileName)
	assert.InDelta(t, 1.0, resp.Results[0].Similarity, 1e-6)

	// explicit zero threshold returns everything up to the limit
	rec = do(h, postJSON("/api/chatbots/bot-1/retrieve", `{"query": "weekdays", "threshold": 0, "limit": 10}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 2)
	assert.GreaterOrEqual(t, resp.Results[0].Similarity, resp.Results[1].Similarity)

	rec = do(h, postJSON("/api/chatbots/bot-2/retrieve", `{"query": "We open at nine on weekdays.", "threshold": 0}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"results": []}`, rec.Body.String())

	for _, body := range []string{`{"query": ""}`, `{"query": "x", "threshold": 1.5}`, `{"query": "x", "limit": -1}`, `{"q": "x"}`, `not json`} {
		rec = do(h, postJSON("/api/chatbots/bot-1/retrieve", body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestChat(t *testing.T) {
	h := newTestRouter(t, echoLLM{})
	uploadDoc(t, h, "bot-1", "hours.txt", "We open at nine on weekdays.")

	rec := do(h, postJSON("/api/chatbots/bot-1/chat", `{"query": "When do you open on weekdays?"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ans services.ChatAnswer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	assert.True(t, ans.Grounded)
	assert.Contains(t, ans.Answer, "We open at nine on weekdays.")
	assert.NotEmpty(t, ans.Sources)

	noLLM := newTestRouter(t, nil)
	rec = do(noLLM, postJSON("/api/chatbots/bot-1/chat", `{"query": "hello"}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDimensions(t *testing.T) {
	h := newTestRouter(t, nil)
	tests := []struct {
		query     string
		wantCode  int
		wantValid bool
	}{
		{"model=text-embedding-3-small&dimensions=512", http.StatusOK, true},
		{"model=text-embedding-3-small&dimensions=768", http.StatusOK, false},
		{"model=text-embedding-3-large", http.StatusOK, true},
		{"model=text-embedding-ada-002&dimensions=512", http.StatusOK, false},
		{"model=no-such-model", http.StatusNotFound, false},
		{"model=text-embedding-3-small&dimensions=abc", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(h, httptest.NewRequest(http.MethodGet, "/api/embeddings/dimensions?"+tt.query, nil))
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if rec.Code != http.StatusOK {
				return
			}
			var resp dimensionsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantValid, resp.Valid)
			if !resp.Valid {
				assert.NotEmpty(t, resp.Reason)
			}
		})
	}

	rec := do(h, httptest.NewRequest(http.MethodGet, "/api/embeddings/dimensions?model=text-embedding-3-large", nil))
	var resp dimensionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []int{256, 1024, 3072}, resp.Supported)
	assert.Equal(t, 3072, resp.Default)
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(h, httptest.NewRequest(http.MethodGet, "/health?deep=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "letters", resp.Embedding.Model)
	require.NotNil(t, resp.SelfCheck)
	assert.InDelta(t, 1.0, *resp.SelfCheck, 1e-6)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, statusFor(&core.RetrievalError{ChatbotID: "b", Err: fmt.Errorf("down")}))
	assert.Equal(t, http.StatusBadGateway, statusFor(&core.EmbeddingBackendError{Model: "m", Err: fmt.Errorf("429")}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("boom")))
}
