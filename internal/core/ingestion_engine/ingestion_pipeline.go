package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/kbforge/internal/core"
	objectclient "github.com/markdave123-py/kbforge/internal/core/object-client"
	"github.com/markdave123-py/kbforge/internal/models"
)

// ErrIngestorClosed is returned by Enqueue after Wait has been called.
var ErrIngestorClosed = errors.New("ingestor is shut down")

type IngestorOption func(*DocumentIngestor)

func WithIngestLogger(l *zap.Logger) IngestorOption {
	return func(i *DocumentIngestor) { i.logger = l }
}

// NewDocumentIngestor constructs the ingestor with a bounded job queue. A nil
// chunker is built from cfg with the heuristic token counter.
func NewDocumentIngestor(db core.DbClient, obj core.ObjectClient, extractor core.DocumentExtractor, chunker *Chunker, emb Embedder, cfg *IngestConfig, opts ...IngestorOption) *DocumentIngestor {
	def := DefaultIngestConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	cfg = &c
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = def.ProcessTimeout
	}
	if chunker == nil {
		chunker = NewChunker(nil, WithChunkSize(cfg.TargetTokens), WithOverlap(cfg.OverlapTokens))
	}
	i := &DocumentIngestor{
		db:        db,
		obj:       obj,
		extractor: extractor,
		chunker:   chunker,
		embedder:  emb,
		cfg:       cfg,
		logger:    zap.NewNop(),
		jobs:      make(chan string, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest dedups the upload, stores it as a new pending document version and
// then processes it inline (req.Sync) or through the worker queue.
func (i *DocumentIngestor) Ingest(ctx context.Context, req UploadRequest) (*IngestResult, error) {
	req.FileName = strings.TrimSpace(req.FileName)
	if req.ChatbotID == "" || req.FileName == "" {
		return nil, fmt.Errorf("%w: chatbot id and file name are required", core.ErrInvalidInput)
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", core.ErrInvalidInput, req.FileName)
	}

	sum := Checksum(req.Data)
	existing, err := i.db.FindReadyDocumentByChecksum(ctx, req.ChatbotID, sum)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if existing != nil {
		i.logger.Info("identical content already ingested; skipping",
			zap.String("chatbot_id", req.ChatbotID), zap.String("document_id", existing.ID),
			zap.String("file_name", req.FileName))
		return &IngestResult{Document: existing, Skipped: true}, nil
	}

	latest, err := i.db.LatestDocumentVersion(ctx, req.ChatbotID, req.FileName)
	if err != nil {
		return nil, fmt.Errorf("version lookup: %w", err)
	}

	doc := &models.Document{
		ID:          uuid.NewString(),
		ChatbotID:   req.ChatbotID,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		SizeBytes:   int64(len(req.Data)),
		Checksum:    sum,
		Status:      models.StatusPending,
		Version:     latest + 1,
	}

	key := objectclient.DocumentKey(doc.ChatbotID, doc.ID, doc.Version, doc.FileName)
	url, err := i.obj.UploadFile(ctx, key, req.Data, req.ContentType)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	doc.StorageURL = url

	if err := i.db.CreateDocument(ctx, doc); err != nil {
		if delErr := i.obj.DeleteFile(ctx, url); delErr != nil {
			i.logger.Warn("orphaned upload", zap.String("url", url), zap.Error(delErr))
		}
		return nil, fmt.Errorf("create document: %w", err)
	}

	if req.Sync || !i.started() {
		// processing failures are recorded on the document row
		_ = i.ProcessOne(ctx, doc.ID)
		stored, err := i.db.GetDocumentByID(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		return &IngestResult{Document: stored}, nil
	}

	if err := i.Enqueue(ctx, doc.ID); err != nil {
		return nil, err
	}
	return &IngestResult{Document: doc}, nil
}

// Start launches numWorkers goroutines reading from the jobs channel. They
// exit when ctx is cancelled or after Wait closes the queue.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	g, gctx := errgroup.WithContext(ctx)

	for w := 1; w <= numWorkers; w++ {
		w := w
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					i.logger.Debug("ingest worker shutting down", zap.Int("worker", w))
					return nil
				case docID, ok := <-i.jobs:
					if !ok {
						return nil
					}
					i.logger.Info("processing document", zap.String("document_id", docID), zap.Int("worker", w))
					if err := i.ProcessOne(gctx, docID); err != nil {
						i.logger.Error("ingestion failed", zap.String("document_id", docID), zap.Error(err))
					}
				}
			}
		})
	}

	i.mu.Lock()
	i.group = g
	i.mu.Unlock()
}

func (i *DocumentIngestor) started() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.group != nil
}

// Enqueue schedules a document ID for ingestion. If the queue is full it
// blocks until a worker frees a slot or ctx is done. The lock is not held
// while blocked.
func (i *DocumentIngestor) Enqueue(ctx context.Context, docID string) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrIngestorClosed
	}
	i.sending.Add(1)
	i.mu.Unlock()
	defer i.sending.Done()

	select {
	case i.jobs <- docID:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", docID, ctx.Err())
	}
}

// Wait stops accepting jobs, lets the workers drain the queue and returns
// once they have exited. The queue is closed only after in-flight Enqueue
// calls have returned.
func (i *DocumentIngestor) Wait() error {
	i.mu.Lock()
	first := !i.closed
	i.closed = true
	g := i.group
	i.mu.Unlock()

	if first {
		i.sending.Wait()
		close(i.jobs)
	}

	if g == nil {
		return nil
	}
	return g.Wait()
}

// ProcessOne moves a document through processing to ready or error. Chunks
// are written only after every embedding succeeded, in one transaction.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, docID string) error {
	proctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.ProcessTimeout)
	defer cancel()

	doc, err := i.db.GetDocumentByID(proctx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Status == models.StatusReady {
		return nil
	}

	if err := i.db.UpdateDocumentStatus(proctx, docID, models.StatusProcessing, 0, nil); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	start := time.Now()
	n, err := i.run(proctx, doc)
	if err != nil {
		return i.fail(proctx, doc, err)
	}

	if err := i.db.UpdateDocumentStatus(proctx, docID, models.StatusReady, n, nil); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	i.logger.Info("document ready",
		zap.String("document_id", docID), zap.String("chatbot_id", doc.ChatbotID),
		zap.Int("version", doc.Version), zap.Int("chunks", n), zap.Duration("took", time.Since(start)))

	i.releaseSuperseded(proctx, doc)
	return nil
}

// run does extract -> chunk -> embed -> persist and returns the chunk count.
func (i *DocumentIngestor) run(ctx context.Context, doc *models.Document) (int, error) {
	raw, err := i.obj.GetFile(ctx, doc.StorageURL)
	if err != nil {
		return 0, fmt.Errorf("fetch upload: %w", err)
	}

	extracted, err := i.extractor.Extract(raw, doc.ContentType, doc.FileName)
	if err != nil {
		return 0, err
	}

	pieces := i.chunker.Split(extracted.Text)
	if len(pieces) == 0 {
		return 0, fmt.Errorf("%w: no chunks produced", core.ErrExtractionFailure)
	}

	texts := make([]string, len(pieces))
	for k, p := range pieces {
		texts[k] = p.Text
	}
	vecs, err := i.embedder.CreateEmbeddings(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vecs) != len(pieces) {
		return 0, fmt.Errorf("%w: got %d vectors for %d chunks", core.ErrEmbeddingBackend, len(vecs), len(pieces))
	}

	embCfg := i.embedder.Config()
	now := time.Now().UTC()
	chunks := make([]models.DocumentChunk, len(pieces))
	for k, p := range pieces {
		meta := map[string]string{
			"file_name":       doc.FileName,
			"version":         strconv.Itoa(doc.Version),
			"embedding_model": embCfg.Model,
		}
		for key, v := range extracted.Metadata {
			meta[key] = v
		}
		chunks[k] = models.DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			ChatbotID:  doc.ChatbotID,
			ChunkIndex: p.Pos,
			Text:       p.Text,
			TokenCount: p.TokenCnt,
			Embedding:  vecs[k],
			Metadata:   meta,
			CreatedAt:  now,
		}
	}

	if err := i.db.InsertDocumentChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("persist chunks: %w", err)
	}
	return len(chunks), nil
}

func (i *DocumentIngestor) fail(ctx context.Context, doc *models.Document, cause error) error {
	msg := core.SanitizeErrorMessage(cause)
	if err := i.db.UpdateDocumentStatus(ctx, doc.ID, models.StatusError, 0, &msg); err != nil {
		i.logger.Error("could not record ingestion error",
			zap.String("document_id", doc.ID), zap.NamedError("cause", cause), zap.Error(err))
	}
	i.logger.Warn("document failed",
		zap.String("document_id", doc.ID), zap.String("chatbot_id", doc.ChatbotID), zap.Error(cause))
	return cause
}

// releaseSuperseded drops older versions of doc's file once doc is ready.
func (i *DocumentIngestor) releaseSuperseded(ctx context.Context, doc *models.Document) {
	removed, err := i.db.DeleteSupersededDocuments(ctx, doc.ChatbotID, doc.FileName, doc.ID)
	if err != nil {
		i.logger.Warn("superseded cleanup failed", zap.String("document_id", doc.ID), zap.Error(err))
		return
	}
	for _, old := range removed {
		if old.StorageURL == "" {
			continue
		}
		if err := i.obj.DeleteFile(ctx, old.StorageURL); err != nil {
			i.logger.Warn("could not delete superseded upload",
				zap.String("document_id", old.ID), zap.String("url", old.StorageURL), zap.Error(err))
		}
	}
	if len(removed) > 0 {
		i.logger.Info("superseded versions removed",
			zap.String("file_name", doc.FileName), zap.Int("count", len(removed)), zap.Int("kept_version", doc.Version))
	}
}
