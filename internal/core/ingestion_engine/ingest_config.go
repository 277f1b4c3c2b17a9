package ingestion_engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/kbforge/internal/core"
	"github.com/markdave123-py/kbforge/internal/models"
)

// IngestConfig tunes the pipeline.
//
// TargetTokens:   maximum tokens per chunk (e.g., 500).
// OverlapTokens:  tokens shared by consecutive chunks (e.g., 50).
// QueueSize:      buffered document IDs waiting for a worker.
// ProcessTimeout: upper bound for one document, detached from the caller's context.
type IngestConfig struct {
	TargetTokens   int
	OverlapTokens  int
	QueueSize      int
	ProcessTimeout time.Duration
}

func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{
		TargetTokens:   DefaultChunkSize,
		OverlapTokens:  DefaultChunkOverlap,
		QueueSize:      64,
		ProcessTimeout: 10 * time.Minute,
	}
}

// Embedder turns chunk texts into vectors, one per input and in order.
// *embedding.Generator satisfies it.
type Embedder interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Config() models.EmbeddingConfig
}

// UploadRequest is one file handed to the pipeline.
type UploadRequest struct {
	ChatbotID   string
	FileName    string
	ContentType string
	Data        []byte
	// Sync processes the document before Ingest returns.
	Sync bool
}

// IngestResult reports the document an upload maps to. Skipped is set when
// identical content was already ready in the same chatbot.
type IngestResult struct {
	Document *models.Document
	Skipped  bool
}

// DocumentIngestor orchestrates ingestion:
//
// db:        persistence for documents and chunks.
// obj:       object storage for the raw uploads.
// extractor: bytes -> text.
// chunker:   text -> token-bounded chunks.
// embedder:  chunk text -> vectors.
// jobs:      in-memory queue of document IDs to process.
type DocumentIngestor struct {
	db        core.DbClient
	obj       core.ObjectClient
	extractor core.DocumentExtractor
	chunker   *Chunker
	embedder  Embedder
	cfg       *IngestConfig
	logger    *zap.Logger

	jobs    chan string
	mu      sync.Mutex
	group   *errgroup.Group
	closed  bool
	sending sync.WaitGroup
}
