package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbforge/internal/config"
	"github.com/markdave123-py/kbforge/internal/core"
	db "github.com/markdave123-py/kbforge/internal/core/database"
	"github.com/markdave123-py/kbforge/internal/core/embedding"
	"github.com/markdave123-py/kbforge/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbforge/internal/core/llm"
	objectclient "github.com/markdave123-py/kbforge/internal/core/object-client"
	"github.com/markdave123-py/kbforge/internal/core/retrieval"
	"github.com/markdave123-py/kbforge/internal/core/tokenizer"
	"github.com/markdave123-py/kbforge/internal/services"
)

type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Embedder     *embedding.Generator
	Retriever    *retrieval.Retriever
	DocProcessor ingestion_engine.Ingestor
	Server       *Server

	logger  *zap.Logger
	closers []func() error
}

// NewApp wires storage, the embedding backend and the ingestion workers.
// Workers outlive ctx so that Close can drain queued documents.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	for _, w := range cfg.Warnings {
		logger.Warn("config", zap.String("warning", w))
	}
	if len(cfg.Extra) > 0 {
		logger.Debug("unrecognised config file keys", zap.Any("extra", cfg.Extra))
	}

	a := &App{logger: logger}

	var err error
	switch cfg.StoreDriver {
	case config.StoreMemory:
		a.DBClient = db.NewMemoryClient()
		logger.Warn("using in-memory store; documents are lost on restart")
	default:
		a.DBClient, err = db.NewDatabaseClient(appCtx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("database initialized and ready")
	}
	a.closers = append(a.closers, a.DBClient.Close)

	switch cfg.ObjectStore {
	case config.ObjectStoreMemory:
		a.ObjectClient = objectclient.NewMemoryObjectClient()
	default:
		a.ObjectClient, err = objectclient.NewS3Client(appCtx, cfg, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	counter, err := tokenizer.NewCounter(tokenizer.DefaultEncoding)
	if err != nil {
		logger.Warn("token counter fell back to heuristic", zap.Error(err))
	}

	backend, err := a.embeddingBackend(appCtx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}
	a.Embedder, err = embedding.NewGenerator(backend, embedding.Config{
		Model:         cfg.EmbedModel,
		Dimensions:    cfg.EmbedDim,
		BatchSize:     cfg.EmbedBatchSize,
		BatchDelay:    cfg.EmbedBatchDelay,
		Timeout:       cfg.EmbedTimeout,
		MaxInputChars: cfg.EmbedMaxInputChars,
		Strict:        cfg.EmbedStrict,
	}, embedding.WithLogger(logger.Named("embedding")), embedding.WithCounter(counter))
	if err != nil {
		a.Close()
		return nil, err
	}

	llmProvider, err := a.llmProvider(appCtx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the llm, %w", err)
	}

	chunker := ingestion_engine.NewChunker(counter,
		ingestion_engine.WithChunkSize(cfg.ChunkSize),
		ingestion_engine.WithOverlap(cfg.ChunkOverlap),
		ingestion_engine.WithChunkerLogger(logger.Named("chunker")),
	)

	ingCfg := &ingestion_engine.IngestConfig{
		TargetTokens:  cfg.ChunkSize,
		OverlapTokens: cfg.ChunkOverlap,
	}
	ing := ingestion_engine.NewDocumentIngestor(a.DBClient, a.ObjectClient, ingestion_engine.NewTextExtractor(),
		chunker, a.Embedder, ingCfg, ingestion_engine.WithIngestLogger(logger.Named("ingest")))
	ing.Start(context.WithoutCancel(ctx), cfg.IngestWorkers)
	a.DocProcessor = ing

	a.Retriever = retrieval.New(a.DBClient, a.Embedder, retrieval.WithLogger(logger.Named("retrieval")))

	docs := services.NewDocumentService(a.DBClient, a.ObjectClient, ing, logger)
	chat := services.NewChatService(a.Retriever, llmProvider, cfg.RetrievalThreshold, cfg.RetrievalLimit, logger.Named("chat"))
	a.Server = NewServer(cfg, logger, docs, chat, a.Retriever, a.Embedder)

	logger.Info("pipeline ready",
		zap.String("store", cfg.StoreDriver),
		zap.String("object_store", cfg.ObjectStore),
		zap.String("embed_model", a.Embedder.Model()),
		zap.Int("embed_dimensions", a.Embedder.Dimensions()),
		zap.Bool("embed_degraded", a.Embedder.Degraded()),
		zap.String("token_counter", counter.Name()),
		zap.Int("workers", cfg.IngestWorkers))
	return a, nil
}

// embeddingBackend returns nil when the provider has no credential, which
// puts the generator in zero-vector mode.
func (a *App) embeddingBackend(ctx context.Context, cfg *config.Config) (core.EmbeddingBackend, error) {
	key := cfg.EmbeddingCredential()
	if key == "" {
		return nil, nil
	}
	switch cfg.EmbedProvider {
	case config.ProviderGemini:
		e, err := llm.NewGeminiEmbedder(ctx, key, cfg.EmbedModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, e.Close)
		return e, nil
	default:
		return llm.NewOpenAIEmbedder(key, cfg.OpenAIBaseURL), nil
	}
}

func (a *App) llmProvider(ctx context.Context, cfg *config.Config) (core.LLMProvider, error) {
	key := cfg.EmbeddingCredential()
	if key == "" {
		a.logger.Warn("no model credential; chat is disabled")
		return nil, nil
	}
	switch cfg.EmbedProvider {
	case config.ProviderGemini:
		g, err := llm.NewGeminiLLM(ctx, key, cfg.GenModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		return g, nil
	default:
		return llm.NewOpenAILLM(key, cfg.OpenAIBaseURL, cfg.GenModel), nil
	}
}

// Close drains the ingestion queue, then releases clients in reverse order.
func (a *App) Close() {
	if a.DocProcessor != nil {
		if err := a.DocProcessor.Wait(); err != nil {
			a.logger.Warn("ingestion workers stopped with error", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
