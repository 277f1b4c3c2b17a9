package objectclient

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/markdave123-py/kbforge/internal/core"
)

const memoryScheme = "mem://"

// MemoryObjectClient stores objects in process. URLs have the form mem://<key>.
type MemoryObjectClient struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryObjectClient() *MemoryObjectClient {
	return &MemoryObjectClient{objects: make(map[string][]byte)}
}

func (m *MemoryObjectClient) UploadFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty object key: %w", core.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = slices.Clone(data)
	return memoryScheme + key, nil
}

func (m *MemoryObjectClient) DeleteFile(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.TrimPrefix(url, memoryScheme)
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("object %s: %w", key, core.ErrNotFound)
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryObjectClient) GetFile(_ context.Context, url string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := strings.TrimPrefix(url, memoryScheme)
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, core.ErrNotFound)
	}
	return slices.Clone(data), nil
}

// Len reports the number of stored objects.
func (m *MemoryObjectClient) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

var _ core.ObjectClient = (*MemoryObjectClient)(nil)
