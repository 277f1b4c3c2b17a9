package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbforge/internal/core"
	"github.com/markdave123-py/kbforge/internal/models"
	"github.com/markdave123-py/kbforge/internal/services"
)

// MaxUploadBytes caps a single knowledge-base file.
const MaxUploadBytes = 32 << 20

type DocumentHandler struct {
	docs   *services.DocumentService
	logger *zap.Logger
}

func NewDocumentHandler(docs *services.DocumentService, logger *zap.Logger) *DocumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentHandler{docs: docs, logger: logger}
}

type uploadResponse struct {
	Document *models.Document `json:"document"`
	Skipped  bool             `json:"skipped"`
}

// UploadDocument stores a multipart "file" part and queues it for ingestion.
// ?sync=true processes it before responding.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	chatbotID := chi.URLParam(r, "chatbotID")

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: missing file part", core.ErrInvalidInput))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxUploadBytes+1))
	if err != nil {
		writeError(w, h.logger, fmt.Errorf("read upload: %w", err))
		return
	}
	if len(data) > MaxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "file too large"})
		return
	}

	sync, _ := strconv.ParseBool(r.URL.Query().Get("sync"))
	contentType := header.Header.Get("Content-Type")

	uploadctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	res, err := h.docs.Upload(uploadctx, chatbotID, header.Filename, contentType, data, sync)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	status := http.StatusAccepted
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, uploadResponse{Document: res.Document, Skipped: res.Skipped})
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	documents, err := h.docs.List(r.Context(), chi.URLParam(r, "chatbotID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if documents == nil {
		documents = []models.Document{}
	}
	writeJSON(w, http.StatusOK, documents)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "chatbotID"), chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) GetChunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := h.docs.Chunks(r.Context(), chi.URLParam(r, "chatbotID"), chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	err := h.docs.Delete(r.Context(), chi.URLParam(r, "chatbotID"), chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
