package ingestion_engine

import "context"

type Ingestor interface {
	Ingest(ctx context.Context, req UploadRequest) (*IngestResult, error)
	Start(ctx context.Context, numWorkers int)
	Enqueue(ctx context.Context, docID string) error
	ProcessOne(ctx context.Context, docID string) error
	Wait() error
}

var _ Ingestor = (*DocumentIngestor)(nil)
