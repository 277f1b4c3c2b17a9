// Package vector holds the in-process similarity math used by the retrieval
// fallback and by stores that cannot rank natively.
package vector

import (
	"math"
	"sort"

	"github.com/markdave123-py/kbforge/internal/models"
)

// Cosine returns dot(a,b)/(|a||b|). Mismatched, empty or zero-norm inputs score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CosineDistance matches pgvector's <=> operator: 1 - cosine similarity.
func CosineDistance(a, b []float32) float64 {
	return 1 - Cosine(a, b)
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Rank scores candidates against query and keeps those at or above threshold,
// best first. Candidates are expected in insertion order; ties keep that order.
// Like the Postgres search, a zero-norm query matches nothing and candidates
// with a different dimension or a zero norm are skipped.
func Rank(query []float32, candidates []models.ScoredChunk, threshold float64, limit int) []models.ScoredChunk {
	if limit <= 0 || L2Norm(query) == 0 {
		return []models.ScoredChunk{}
	}
	out := make([]models.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Chunk.Embedding) != len(query) || L2Norm(c.Chunk.Embedding) == 0 {
			continue
		}
		c.Similarity = Cosine(query, c.Chunk.Embedding)
		if c.Similarity < threshold {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
