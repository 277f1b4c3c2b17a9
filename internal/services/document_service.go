package services

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbforge/internal/core"
	"github.com/markdave123-py/kbforge/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbforge/internal/models"
)

// DocumentService is the knowledge-base surface the HTTP layer talks to. Every
// call is scoped to one chatbot; documents of other chatbots read as missing.
type DocumentService struct {
	db       core.DbClient
	storage  core.ObjectClient
	ingestor ingestion_engine.Ingestor
	logger   *zap.Logger
}

func NewDocumentService(db core.DbClient, storage core.ObjectClient, ing ingestion_engine.Ingestor, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{db: db, storage: storage, ingestor: ing, logger: logger}
}

// Upload hands a file to the ingestion pipeline. Unsupported formats are
// rejected before anything is stored.
func (s *DocumentService) Upload(ctx context.Context, chatbotID, filename, contentType string, data []byte, sync bool) (*ingestion_engine.IngestResult, error) {
	filename = cleanFileName(filename)
	if _, err := ingestion_engine.DetectKind(contentType, filename); err != nil {
		return nil, err
	}
	return s.ingestor.Ingest(ctx, ingestion_engine.UploadRequest{
		ChatbotID:   chatbotID,
		FileName:    filename,
		ContentType: contentType,
		Data:        data,
		Sync:        sync,
	})
}

func (s *DocumentService) Get(ctx context.Context, chatbotID, id string) (*models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.ChatbotID != chatbotID {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context, chatbotID string) ([]models.Document, error) {
	return s.db.ListDocumentsByChatbot(ctx, chatbotID)
}

// Chunks returns the stored chunks of a document in order, without vectors.
func (s *DocumentService) Chunks(ctx context.Context, chatbotID, id string) ([]models.DocumentChunk, error) {
	if _, err := s.Get(ctx, chatbotID, id); err != nil {
		return nil, err
	}
	chunks, err := s.db.GetChunksByDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].Embedding = nil
	}
	return chunks, nil
}

// Delete removes the document and its chunks, then the raw upload. A blob
// that cannot be removed is logged, not returned.
func (s *DocumentService) Delete(ctx context.Context, chatbotID, id string) error {
	doc, err := s.Get(ctx, chatbotID, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if doc.StorageURL != "" {
		if err := s.storage.DeleteFile(ctx, doc.StorageURL); err != nil {
			s.logger.Warn("could not delete upload",
				zap.String("document_id", id), zap.String("url", doc.StorageURL), zap.Error(err))
		}
	}
	return nil
}

// cleanFileName drops any client-side path and replaces spaces.
func cleanFileName(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = strings.TrimSpace(path.Base(filename))
	if filename == "." || filename == "/" {
		return ""
	}
	return strings.ReplaceAll(filename, " ", "_")
}
