// Package embedding turns chunk and query text into fixed-size vectors via a
// pluggable backend.
package embedding

import (
	"fmt"
	"slices"

	"github.com/markdave123-py/kbforge/internal/core"
	"github.com/markdave123-py/kbforge/internal/models"
)

// ModelSpec describes one embedding model the platform knows about.
type ModelSpec struct {
	Name string
	// Dimensions is the allow-list of output sizes. The first entry is the
	// model's native size.
	Dimensions []int
	// Fixed models reject the dimensions parameter, so it is never sent.
	Fixed bool
	// MaxInputTokens is the backend's per-input limit.
	MaxInputTokens int
}

// DefaultDimensions is the model's native output size.
func (m ModelSpec) DefaultDimensions() int {
	return m.Dimensions[0]
}

var catalog = map[string]ModelSpec{
	"text-embedding-3-small": {Name: "text-embedding-3-small", Dimensions: []int{1536, 512}, MaxInputTokens: 8191},
	"text-embedding-3-large": {Name: "text-embedding-3-large", Dimensions: []int{3072, 1024, 256}, MaxInputTokens: 8191},
	"text-embedding-ada-002": {Name: "text-embedding-ada-002", Dimensions: []int{1536}, Fixed: true, MaxInputTokens: 8191},
	"text-embedding-004":     {Name: "text-embedding-004", Dimensions: []int{768}, Fixed: true, MaxInputTokens: 2048},
	"gemini-embedding-001":   {Name: "gemini-embedding-001", Dimensions: []int{3072, 1536, 768}, MaxInputTokens: 2048},
}

// DefaultModel is used when no model is configured.
const DefaultModel = "text-embedding-3-small"

// Lookup returns the spec for model.
func Lookup(model string) (ModelSpec, bool) {
	spec, ok := catalog[model]
	return spec, ok
}

// Models lists known model names in sorted order.
func Models() []string {
	out := make([]string, 0, len(catalog))
	for name := range catalog {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// SupportedDimensions returns the allow-list for model, sorted ascending, or
// nil for an unknown model.
func SupportedDimensions(model string) []int {
	spec, ok := catalog[model]
	if !ok {
		return nil
	}
	dims := slices.Clone(spec.Dimensions)
	slices.Sort(dims)
	return dims
}

// ValidateDimensions reports whether cfg.Dimensions is in the model's
// allow-list. Zero dimensions means "model default" and is always valid for a
// known model. The returned error wraps core.ErrDimensionMismatch.
func ValidateDimensions(cfg models.EmbeddingConfig) error {
	spec, ok := catalog[cfg.Model]
	if !ok {
		return fmt.Errorf("%w: unknown model %q", core.ErrDimensionMismatch, cfg.Model)
	}
	if cfg.Dimensions == 0 || slices.Contains(spec.Dimensions, cfg.Dimensions) {
		return nil
	}
	return fmt.Errorf("%w: model %s supports %v, got %d",
		core.ErrDimensionMismatch, cfg.Model, SupportedDimensions(cfg.Model), cfg.Dimensions)
}
