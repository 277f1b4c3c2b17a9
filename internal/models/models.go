package models

import (
	"time"
)

// DocumentStatus tracks a document through the ingestion pipeline.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusError      DocumentStatus = "error"
)

// Document represents one uploaded version of a knowledge-base file.
type Document struct {
	ID           string         `db:"id" json:"id"`
	ChatbotID    string         `db:"chatbot_id" json:"chatbot_id"`
	FileName     string         `db:"file_name" json:"file_name"`
	ContentType  string         `db:"content_type" json:"content_type"`
	SizeBytes    int64          `db:"size_bytes" json:"size_bytes"`
	StorageURL   string         `db:"storage_url" json:"storage_url"` // S3 URL or mem:// key
	Checksum     string         `db:"checksum" json:"checksum"`       // sha256 hex of the raw bytes
	Status       DocumentStatus `db:"status" json:"status"`
	Version      int            `db:"version" json:"version"`
	ChunkCount   int            `db:"chunk_count" json:"chunk_count"`
	ErrorMessage *string        `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// DocumentChunk represents one text chunk from a document.
type DocumentChunk struct {
	ID         string            `db:"id" json:"id"`
	DocumentID string            `db:"document_id" json:"document_id"`
	ChatbotID  string            `db:"chatbot_id" json:"chatbot_id"`
	ChunkIndex int               `db:"chunk_index" json:"chunk_index"`
	Text       string            `db:"text" json:"text"`
	TokenCount int               `db:"token_count" json:"token_count"`
	Embedding  []float32         `db:"embedding" json:"embedding,omitempty"` // pgvector column, nil until computed
	Metadata   map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
}

// EmbeddingConfig selects the embedding model and its output size.
type EmbeddingConfig struct {
	Model      string `json:"model" yaml:"model"`
	Dimensions int    `json:"dimensions" yaml:"dimensions"`
}

// RetrievalQuery is a request-scoped similarity search.
type RetrievalQuery struct {
	ChatbotID string  `json:"chatbot_id"`
	Text      string  `json:"query"`
	Threshold float64 `json:"threshold"`
	Limit     int     `json:"limit"`
}

// RetrievalResult is one ranked chunk returned to the conversation layer.
type RetrievalResult struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	ChunkIndex int               `json:"chunk_index"`
	Text       string            `json:"text"`
	Similarity float64           `json:"similarity"`
	FileName   string            `json:"file_name"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ScoredChunk pairs a stored chunk with its similarity to a query vector.
type ScoredChunk struct {
	Chunk      DocumentChunk
	FileName   string
	Similarity float64
}
