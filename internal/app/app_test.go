package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appMiddleware "github.com/markdave123-py/kbforge/internal/api/middlewares"
	"github.com/markdave123-py/kbforge/internal/config"
	"github.com/markdave123-py/kbforge/internal/core"
	"github.com/markdave123-py/kbforge/internal/models"
)

const testSecret = "app-test-secret"

func sandboxConfig() *config.Config {
	cfg := config.Defaults()
	cfg.StoreDriver = config.StoreMemory
	cfg.ObjectStore = config.ObjectStoreMemory
	cfg.EmbedModel = "text-embedding-3-small"
	cfg.JWTSecret = testSecret
	cfg.IngestWorkers = 1
	return cfg
}

func bearer(t *testing.T, chatbots ...string) string {
	t.Helper()
	tok, err := appMiddleware.SignToken(testSecret, appMiddleware.Claims{
		Chatbots:         chatbots,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestNewApp_SandboxEndToEnd(t *testing.T) {
	a, err := NewApp(context.Background(), sandboxConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.Embedder.Degraded())
	assert.Equal(t, 1536, a.Embedder.Dimensions())
	h := a.Server.Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "faq.md")
	require.NoError(t, err)
	_, err = fw.Write([]byte("# FAQ\n\nWe deliver on weekdays.\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chatbots/bot-1/documents?sync=true", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", bearer(t, "bot-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var up struct {
		Document models.Document `json:"document"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.Equal(t, models.StatusReady, up.Document.Status)

	chunks, err := a.DBClient.GetChunksByDocument(context.Background(), up.Document.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Len(t, chunks[0].Embedding, 1536)

	// zero vectors never match, so retrieval is empty rather than an error
	req = httptest.NewRequest(http.MethodPost, "/api/chatbots/bot-1/retrieve", strings.NewReader(`{"query": "delivery days"}`))
	req.Header.Set("Authorization", bearer(t, "*"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"results": []}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/chatbots/bot-1/chat", strings.NewReader(`{"query": "hi"}`))
	req.Header.Set("Authorization", bearer(t, "bot-1"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/chatbots/bot-1/documents", nil)
	req.Header.Set("Authorization", bearer(t, "bot-2"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/chatbots/bot-1/documents", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded":true`)
}

func TestNewApp_StrictWithoutCredentialFails(t *testing.T) {
	cfg := sandboxConfig()
	cfg.EmbedStrict = true

	_, err := NewApp(context.Background(), cfg, zap.NewNop())
	assert.ErrorIs(t, err, core.ErrEmbeddingDisabled)
}

func TestNewApp_AsyncUploadDrainsOnClose(t *testing.T) {
	a, err := NewApp(context.Background(), sandboxConfig(), zap.NewNop())
	require.NoError(t, err)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "hours.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("Open nine to five."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chatbots/bot-1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", bearer(t, "bot-1"))
	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var up struct {
		Document models.Document `json:"document"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))

	a.Close()

	doc, err := a.DBClient.GetDocumentByID(context.Background(), up.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, doc.Status)
}
