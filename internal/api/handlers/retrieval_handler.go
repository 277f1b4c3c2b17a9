package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbforge/internal/core"
	"github.com/markdave123-py/kbforge/internal/core/embedding"
	"github.com/markdave123-py/kbforge/internal/models"
)

// Retriever is satisfied by *retrieval.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, q models.RetrievalQuery) ([]models.RetrievalResult, error)
	SelfCheck(ctx context.Context, text string) (float64, error)
}

// EmbeddingInfo is satisfied by *embedding.Generator.
type EmbeddingInfo interface {
	Config() models.EmbeddingConfig
	Degraded() bool
}

type RetrievalHandler struct {
	retriever Retriever
	embedder  EmbeddingInfo
	threshold float64
	limit     int
	logger    *zap.Logger
}

func NewRetrievalHandler(r Retriever, emb EmbeddingInfo, threshold float64, limit int, logger *zap.Logger) *RetrievalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrievalHandler{retriever: r, embedder: emb, threshold: threshold, limit: limit, logger: logger}
}

// RetrieveRequest leaves Threshold and Limit unset to use the server defaults.
// An explicit threshold of 0 is honoured.
type RetrieveRequest struct {
	Query     string   `json:"query"`
	Threshold *float64 `json:"threshold,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

type retrieveResponse struct {
	Results []models.RetrievalResult `json:"results"`
}

func (h *RetrievalHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	q := models.RetrievalQuery{
		ChatbotID: chi.URLParam(r, "chatbotID"),
		Text:      req.Query,
		Threshold: h.threshold,
		Limit:     h.limit,
	}
	if req.Threshold != nil {
		q.Threshold = *req.Threshold
	}
	if req.Limit != 0 {
		q.Limit = req.Limit
	}

	results, err := h.retriever.Retrieve(r.Context(), q)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if results == nil {
		results = []models.RetrievalResult{}
	}
	writeJSON(w, http.StatusOK, retrieveResponse{Results: results})
}

type dimensionsResponse struct {
	Model     string `json:"model"`
	Supported []int  `json:"supported"`
	Default   int    `json:"default"`
	Requested int    `json:"requested,omitempty"`
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
}

// Dimensions reports the output sizes a model supports and whether the
// requested one is among them. It never calls the backend.
func (h *RetrievalHandler) Dimensions(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	if model == "" {
		model = h.embedder.Config().Model
	}
	supported := embedding.SupportedDimensions(model)
	if supported == nil {
		writeError(w, h.logger, fmt.Errorf("model %q: %w", model, core.ErrNotFound))
		return
	}
	spec, _ := embedding.Lookup(model)

	resp := dimensionsResponse{Model: model, Supported: supported, Default: spec.DefaultDimensions(), Valid: true}
	if raw := r.URL.Query().Get("dimensions"); raw != "" {
		dims, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, h.logger, fmt.Errorf("%w: dimensions must be an integer", core.ErrInvalidInput))
			return
		}
		resp.Requested = dims
		if err := embedding.ValidateDimensions(models.EmbeddingConfig{Model: model, Dimensions: dims}); err != nil {
			resp.Valid = false
			resp.Reason = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status    string                 `json:"status"`
	Embedding models.EmbeddingConfig `json:"embedding"`
	Degraded  bool                   `json:"degraded"`
	SelfCheck *float64               `json:"self_check,omitempty"`
}

// Health reports liveness and the embedding mode. ?deep=true also runs an
// embedding self-check.
func (h *RetrievalHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Embedding: h.embedder.Config(),
		Degraded:  h.embedder.Degraded(),
	}
	if deep, _ := strconv.ParseBool(r.URL.Query().Get("deep")); deep && !resp.Degraded {
		sim, err := h.retriever.SelfCheck(r.Context(), "health check")
		if err != nil {
			h.logger.Warn("embedding self-check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Embedding: resp.Embedding})
			return
		}
		resp.SelfCheck = &sim
	}
	writeJSON(w, http.StatusOK, resp)
}
