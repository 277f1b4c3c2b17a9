// Package retrieval answers similarity queries over a chatbot's knowledge base.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbforge/internal/core"
	"github.com/markdave123-py/kbforge/internal/core/embedding"
	"github.com/markdave123-py/kbforge/internal/core/vector"
	"github.com/markdave123-py/kbforge/internal/models"
)

const (
	DefaultThreshold = 0.7
	DefaultLimit     = 5
	DefaultTimeout   = 10 * time.Second
	defaultCacheSize = 1024
)

// Embedder produces query vectors. *embedding.Generator satisfies it.
type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	Config() models.EmbeddingConfig
}

// Retriever embeds a query and ranks the chatbot's stored chunks against it.
type Retriever struct {
	db       core.DbClient
	embedder Embedder
	cache    *embedding.Cache
	timeout  time.Duration
	logger   *zap.Logger
}

type Option func(*Retriever)

func WithLogger(l *zap.Logger) Option { return func(r *Retriever) { r.logger = l } }

// WithTimeout bounds query embedding plus search. Zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(r *Retriever) { r.timeout = d } }

// WithCache replaces the default query-embedding cache; nil disables caching.
func WithCache(c *embedding.Cache) Option { return func(r *Retriever) { r.cache = c } }

func New(db core.DbClient, embedder Embedder, opts ...Option) *Retriever {
	r := &Retriever{
		db:       db,
		embedder: embedder,
		cache:    embedding.NewCache(defaultCacheSize),
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate applies defaults to q and rejects malformed queries.
func Validate(q *models.RetrievalQuery) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.ChatbotID == "" {
		return fmt.Errorf("%w: chatbot id is required", core.ErrInvalidInput)
	}
	if q.Text == "" {
		return fmt.Errorf("%w: query text is empty", core.ErrInvalidInput)
	}
	if q.Threshold < 0 || q.Threshold > 1 {
		return fmt.Errorf("%w: threshold %g outside [0, 1]", core.ErrInvalidInput, q.Threshold)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: limit %d must be at least 1", core.ErrInvalidInput, q.Limit)
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	return nil
}

// Retrieve returns up to q.Limit chunks with similarity >= q.Threshold,
// highest first. An empty result is not an error. Validation failures wrap
// core.ErrInvalidInput; everything else is a *core.RetrievalError.
func (r *Retriever) Retrieve(ctx context.Context, q models.RetrievalQuery) ([]models.RetrievalResult, error) {
	if err := Validate(&q); err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	qvec, err := r.embedQuery(ctx, q.Text)
	if err != nil {
		return nil, &core.RetrievalError{ChatbotID: q.ChatbotID, Err: err}
	}

	scored, err := r.db.SearchChunks(ctx, q.ChatbotID, qvec, q.Threshold, q.Limit)
	if errors.Is(err, core.ErrVectorSearchUnsupported) {
		scored, err = r.manualSearch(ctx, q, qvec)
	}
	if err != nil {
		return nil, &core.RetrievalError{ChatbotID: q.ChatbotID, Err: err}
	}

	out := make([]models.RetrievalResult, 0, len(scored))
	for _, sc := range scored {
		out = append(out, models.RetrievalResult{
			ChunkID:    sc.Chunk.ID,
			DocumentID: sc.Chunk.DocumentID,
			ChunkIndex: sc.Chunk.ChunkIndex,
			Text:       sc.Chunk.Text,
			Similarity: sc.Similarity,
			FileName:   sc.FileName,
			Metadata:   sc.Chunk.Metadata,
		})
	}
	r.logger.Debug("retrieval complete",
		zap.String("chatbot_id", q.ChatbotID), zap.Int("results", len(out)),
		zap.Float64("threshold", q.Threshold), zap.Int("limit", q.Limit))
	return out, nil
}

// manualSearch ranks every stored embedding in process. Used when the store
// has no native vector operator.
func (r *Retriever) manualSearch(ctx context.Context, q models.RetrievalQuery, qvec []float32) ([]models.ScoredChunk, error) {
	candidates, err := r.db.ListEmbeddedChunks(ctx, q.ChatbotID)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("ranking in process",
		zap.String("chatbot_id", q.ChatbotID), zap.Int("candidates", len(candidates)))
	return vector.Rank(qvec, candidates, q.Threshold, q.Limit), nil
}

func (r *Retriever) embedQuery(ctx context.Context, text string) ([]float32, error) {
	cfg := r.embedder.Config()
	key := embedding.CacheKey(cfg.Model, cfg.Dimensions, text)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return v, nil
		}
	}
	v, err := r.embedder.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	// zero vectors come from degraded mode and would poison the cache
	if r.cache != nil && vector.L2Norm(v) > 0 {
		r.cache.Set(key, v)
	}
	return v, nil
}

// SelfCheck embeds text and scores it against itself through the same
// similarity code retrieval uses. A healthy backend reports >= 0.99.
func (r *Retriever) SelfCheck(ctx context.Context, text string) (float64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("%w: self-check text is empty", core.ErrInvalidInput)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	v, err := r.embedder.CreateEmbedding(ctx, text)
	if err != nil {
		return 0, err
	}
	return vector.Cosine(v, v), nil
}
