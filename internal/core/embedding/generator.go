package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/kbforge/internal/core"
	"github.com/markdave123-py/kbforge/internal/core/tokenizer"
	"github.com/markdave123-py/kbforge/internal/models"
)

// Defaults for Config zero values.
const (
	DefaultBatchSize  = 100
	DefaultBatchDelay = 200 * time.Millisecond
	DefaultTimeout    = 10 * time.Second
	// fallbackDimensions is used for zero vectors when the model is unknown
	// and no size was configured.
	fallbackDimensions = 1536
)

// Config tunes a Generator.
//
//	BatchSize      inputs per backend request
//	BatchDelay     minimum spacing between sub-batch requests
//	Timeout        per-request deadline; zero disables it
//	MaxInputChars  overrides the catalog's input budget
//	Strict         fail closed on a missing backend or an unsupported dimension
type Config struct {
	Model         string
	Dimensions    int
	BatchSize     int
	BatchDelay    time.Duration
	Timeout       time.Duration
	MaxInputChars int
	Strict        bool
}

// Generator owns an embedding backend and applies the batching, validation
// and degraded-mode policy around it. It is safe for concurrent use.
type Generator struct {
	backend core.EmbeddingBackend
	cfg     Config
	spec    ModelSpec
	known   bool
	// nativeOnly backends ignore the requested size.
	nativeOnly bool
	counter    tokenizer.Counter
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger used for degraded-mode and dimension warnings.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithCounter bounds over-length inputs by real token counts instead of the
// byte estimate.
func WithCounter(c tokenizer.Counter) Option {
	return func(g *Generator) { g.counter = c }
}

// NewGenerator builds a generator. backend may be nil: the generator then
// returns zero vectors, unless cfg.Strict is set, in which case construction
// fails.
func NewGenerator(backend core.EmbeddingBackend, cfg Config, opts ...Option) (*Generator, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}

	g := &Generator{backend: backend, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	g.spec, g.known = Lookup(cfg.Model)
	if nb, ok := backend.(core.NativeSizeBackend); ok {
		g.nativeOnly = nb.NativeSizeOnly()
	}

	if cfg.BatchDelay > 0 {
		g.limiter = rate.NewLimiter(rate.Every(cfg.BatchDelay), 1)
	} else {
		g.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	if backend == nil {
		if cfg.Strict {
			return nil, fmt.Errorf("strict mode: %w", core.ErrEmbeddingDisabled)
		}
		g.logger.Warn("no embedding backend configured; returning zero vectors",
			zap.String("model", cfg.Model), zap.Int("dimensions", g.Dimensions()))
	}

	// the backend would return the native size, so any other size can never
	// line up with stored or zero vectors
	if g.nativeOnly && g.known && cfg.Dimensions != 0 && cfg.Dimensions != g.spec.DefaultDimensions() {
		return nil, fmt.Errorf("%w: %s backend only returns %d dimensions for %s, got %d",
			core.ErrDimensionMismatch, backend.Name(), g.spec.DefaultDimensions(), cfg.Model, cfg.Dimensions)
	}

	if err := ValidateDimensions(models.EmbeddingConfig{Model: cfg.Model, Dimensions: cfg.Dimensions}); err != nil {
		if cfg.Strict {
			return nil, err
		}
		g.logger.Warn("unsupported embedding dimensions; continuing with configured value",
			zap.String("model", cfg.Model), zap.Int("dimensions", cfg.Dimensions), zap.Error(err))
	}
	return g, nil
}

// Model returns the configured model name.
func (g *Generator) Model() string { return g.cfg.Model }

// Degraded reports whether the generator is running without a backend.
func (g *Generator) Degraded() bool { return g.backend == nil }

// Dimensions is the vector size this generator produces.
func (g *Generator) Dimensions() int {
	if g.cfg.Dimensions > 0 {
		return g.cfg.Dimensions
	}
	if g.known {
		return g.spec.DefaultDimensions()
	}
	return fallbackDimensions
}

// Config returns the embedding configuration in effect.
func (g *Generator) Config() models.EmbeddingConfig {
	return models.EmbeddingConfig{Model: g.cfg.Model, Dimensions: g.Dimensions()}
}

// requestDimensions is what goes on the wire: zero (omitted) for fixed-size
// models and native-size backends.
func (g *Generator) requestDimensions() int {
	if g.nativeOnly || (g.known && g.spec.Fixed) {
		return 0
	}
	return g.cfg.Dimensions
}

// CreateEmbedding embeds a single text.
func (g *Generator) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// CreateEmbeddings embeds texts in sub-batches of Config.BatchSize, pacing
// consecutive requests by Config.BatchDelay. The result has one vector per
// input, in input order.
func (g *Generator) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if g.backend == nil {
		return g.zeroVectors(len(texts)), nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.cfg.BatchSize {
		end := min(start+g.cfg.BatchSize, len(texts))

		if err := g.limiter.Wait(ctx); err != nil {
			return nil, &core.EmbeddingBackendError{Model: g.cfg.Model, Err: err}
		}

		vecs, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (g *Generator) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	input := make([]string, len(batch))
	for i, t := range batch {
		input[i] = g.TruncateToMaxInput(t)
	}

	callCtx := ctx
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	vecs, err := g.backend.Embed(callCtx, core.EmbeddingRequest{
		Model:      g.cfg.Model,
		Input:      input,
		Dimensions: g.requestDimensions(),
	})
	if err != nil {
		return nil, &core.EmbeddingBackendError{Model: g.cfg.Model, Err: err}
	}
	if len(vecs) != len(batch) {
		return nil, &core.EmbeddingBackendError{
			Model: g.cfg.Model,
			Err:   fmt.Errorf("got %d vectors for %d inputs", len(vecs), len(batch)),
		}
	}

	want := g.Dimensions()
	for i, v := range vecs {
		if v == nil {
			return nil, &core.EmbeddingBackendError{Model: g.cfg.Model, Err: fmt.Errorf("missing vector at %d", i)}
		}
		if len(v) != want {
			err := fmt.Errorf("%w: backend returned %d dimensions, expected %d", core.ErrDimensionMismatch, len(v), want)
			if g.cfg.Strict {
				return nil, err
			}
			g.logger.Warn("embedding size differs from configuration",
				zap.String("model", g.cfg.Model), zap.Int("dimensions", len(v)), zap.Int("expected", want))
			break
		}
	}
	return vecs, nil
}

// TruncateToMaxInput cuts text that would overflow the model's input limit.
// Config.MaxInputChars wins when set. Otherwise the limit is the catalog's
// token budget, measured with the configured counter or, failing that, the
// byte estimate.
func (g *Generator) TruncateToMaxInput(text string) string {
	if maxChars := g.cfg.MaxInputChars; maxChars > 0 {
		if utf8.RuneCountInString(text) <= maxChars {
			return text
		}
		g.logger.Debug("truncating over-length embedding input",
			zap.String("model", g.cfg.Model), zap.Int("max_chars", maxChars))
		return Truncate(text, maxChars)
	}
	if !g.known {
		return text
	}

	count := tokenizer.EstimateFast
	if g.counter != nil {
		count = g.counter.Count
	}
	if count(text) <= g.spec.MaxInputTokens {
		return text
	}
	g.logger.Debug("truncating over-length embedding input",
		zap.String("model", g.cfg.Model), zap.Int("max_tokens", g.spec.MaxInputTokens))
	return TruncateTokens(text, g.spec.MaxInputTokens, count)
}

func (g *Generator) zeroVectors(n int) [][]float32 {
	dims := g.Dimensions()
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dims)
	}
	return out
}

// IsBackendFailure reports whether err came from the embedding backend.
func IsBackendFailure(err error) bool {
	return errors.Is(err, core.ErrEmbeddingBackend)
}
