package core

import (
	"context"

	"github.com/markdave123-py/kbforge/internal/models"
)

// DbClient defines all persistence operations the pipeline needs.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByChatbot(ctx context.Context, chatbotID string) ([]models.Document, error)
	LatestDocumentVersion(ctx context.Context, chatbotID, fileName string) (int, error)
	FindReadyDocumentByChecksum(ctx context.Context, chatbotID, checksum string) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, chunkCount int, errMsg *string) error
	DeleteDocument(ctx context.Context, id string) error
	DeleteSupersededDocuments(ctx context.Context, chatbotID, fileName, keepID string) ([]models.Document, error)

	InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)

	// SearchChunks is the primary ranked query. It only considers chunks with
	// an embedding whose document is ready.
	SearchChunks(ctx context.Context, chatbotID string, queryVec []float32, threshold float64, limit int) ([]models.ScoredChunk, error)
	// ListEmbeddedChunks feeds the in-process ranking fallback.
	ListEmbeddedChunks(ctx context.Context, chatbotID string) ([]models.ScoredChunk, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, url string) error
	GetFile(ctx context.Context, url string) ([]byte, error)
}
