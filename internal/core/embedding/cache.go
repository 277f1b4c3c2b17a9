package embedding

import (
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is an LRU of embeddings keyed by model, dimensions and text. The
// retriever uses it so repeated chat questions skip the backend.
type Cache struct {
	lru *lru.Cache[string, []float32]
}

// NewCache creates a cache holding at most capacity vectors.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	// lru.New only fails for a non-positive size
	l, _ := lru.New[string, []float32](capacity)
	return &Cache{lru: l}
}

// CacheKey builds the lookup key for a text embedded with model at dims.
func CacheKey(model string, dims int, text string) string {
	return model + "\x00" + strconv.Itoa(dims) + "\x00" + text
}

// Get returns the cached embedding for key if present.
func (c *Cache) Get(key string) ([]float32, bool) {
	return c.lru.Get(key)
}

// Set stores the embedding for key, evicting the least recently used entry
// when full.
func (c *Cache) Set(key string, value []float32) {
	c.lru.Add(key, value)
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	return c.lru.Len()
}
