package db

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/kbforge/internal/core"
	"github.com/markdave123-py/kbforge/internal/models"
)

// MemoryClient keeps documents and chunks in process. It has no vector index,
// so SearchChunks reports ErrVectorSearchUnsupported and the retriever ranks
// ListEmbeddedChunks itself.
type MemoryClient struct {
	mu     sync.RWMutex
	docs   map[string]*models.Document
	chunks map[string][]models.DocumentChunk // by document id
	seq    map[string]int                    // document id -> insertion order
	next   int
	now    func() time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		docs:   make(map[string]*models.Document),
		chunks: make(map[string][]models.DocumentChunk),
		seq:    make(map[string]int),
		now:    time.Now,
	}
}

func (m *MemoryClient) Close() error { return nil }

func (m *MemoryClient) CreateDocument(_ context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	for _, d := range m.docs {
		if d.ChatbotID == doc.ChatbotID && d.FileName == doc.FileName && d.Version == doc.Version {
			return fmt.Errorf("document %s v%d already exists", doc.FileName, doc.Version)
		}
	}

	cp := *doc
	now := m.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}
	m.docs[cp.ID] = &cp
	m.seq[cp.ID] = m.next
	m.next++
	return nil
}

func (m *MemoryClient) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return cloneDocument(d), nil
}

func (m *MemoryClient) ListDocumentsByChatbot(_ context.Context, chatbotID string) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Document
	for _, id := range m.orderedIDs() {
		if d := m.docs[id]; d.ChatbotID == chatbotID {
			out = append(out, *cloneDocument(d))
		}
	}
	slices.Reverse(out)
	return out, nil
}

func (m *MemoryClient) LatestDocumentVersion(_ context.Context, chatbotID, fileName string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	latest := 0
	for _, d := range m.docs {
		if d.ChatbotID == chatbotID && d.FileName == fileName && d.Version > latest {
			latest = d.Version
		}
	}
	return latest, nil
}

func (m *MemoryClient) FindReadyDocumentByChecksum(_ context.Context, chatbotID, checksum string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *models.Document
	for _, d := range m.docs {
		if d.ChatbotID != chatbotID || d.Checksum != checksum || d.Status != models.StatusReady {
			continue
		}
		if best == nil || d.Version > best.Version {
			best = d
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneDocument(best), nil
}

func (m *MemoryClient) UpdateDocumentStatus(_ context.Context, id string, status models.DocumentStatus, chunkCount int, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	d.Status = status
	d.ChunkCount = chunkCount
	if errMsg != nil {
		msg := *errMsg
		d.ErrorMessage = &msg
	} else {
		d.ErrorMessage = nil
	}
	d.UpdatedAt = m.now()
	return nil
}

func (m *MemoryClient) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	m.deleteLocked(id)
	return nil
}

func (m *MemoryClient) DeleteSupersededDocuments(_ context.Context, chatbotID, fileName, keepID string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep, ok := m.docs[keepID]
	if !ok {
		return nil, nil
	}
	var out []models.Document
	for _, id := range m.orderedIDs() {
		d := m.docs[id]
		if id == keepID || d.ChatbotID != chatbotID || d.FileName != fileName || d.Version >= keep.Version {
			continue
		}
		out = append(out, *cloneDocument(d))
		m.deleteLocked(id)
	}
	return out, nil
}

// InsertDocumentChunks stores all chunks or none.
func (m *MemoryClient) InsertDocumentChunks(_ context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[string][]models.DocumentChunk)
	seen := make(map[string]bool)
	for _, ch := range chunks {
		if _, ok := m.docs[ch.DocumentID]; !ok {
			return fmt.Errorf("insert chunk %d: document %s: %w", ch.ChunkIndex, ch.DocumentID, core.ErrNotFound)
		}
		key := fmt.Sprintf("%s/%d", ch.DocumentID, ch.ChunkIndex)
		if seen[key] {
			return fmt.Errorf("insert chunk %d: duplicate index for document %s", ch.ChunkIndex, ch.DocumentID)
		}
		seen[key] = true
		for _, existing := range m.chunks[ch.DocumentID] {
			if existing.ChunkIndex == ch.ChunkIndex {
				return fmt.Errorf("insert chunk %d: duplicate index for document %s", ch.ChunkIndex, ch.DocumentID)
			}
		}
		staged[ch.DocumentID] = append(staged[ch.DocumentID], cloneChunk(ch, m.now()))
	}
	for docID, list := range staged {
		merged := append(m.chunks[docID], list...)
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].ChunkIndex < merged[j].ChunkIndex })
		m.chunks[docID] = merged
	}
	return nil
}

func (m *MemoryClient) GetChunksByDocument(_ context.Context, documentID string) ([]models.DocumentChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.chunks[documentID]
	out := make([]models.DocumentChunk, len(list))
	for i, ch := range list {
		out[i] = cloneChunk(ch, ch.CreatedAt)
	}
	return out, nil
}

func (m *MemoryClient) SearchChunks(context.Context, string, []float32, float64, int) ([]models.ScoredChunk, error) {
	return nil, core.ErrVectorSearchUnsupported
}

func (m *MemoryClient) ListEmbeddedChunks(_ context.Context, chatbotID string) ([]models.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ScoredChunk
	for _, id := range m.orderedIDs() {
		d := m.docs[id]
		if d.ChatbotID != chatbotID || d.Status != models.StatusReady {
			continue
		}
		for _, ch := range m.chunks[id] {
			if ch.Embedding == nil {
				continue
			}
			out = append(out, models.ScoredChunk{Chunk: cloneChunk(ch, ch.CreatedAt), FileName: d.FileName})
		}
	}
	return out, nil
}

func (m *MemoryClient) orderedIDs() []string {
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.seq[ids[i]] < m.seq[ids[j]] })
	return ids
}

func (m *MemoryClient) deleteLocked(id string) {
	delete(m.docs, id)
	delete(m.chunks, id)
	delete(m.seq, id)
}

func cloneDocument(d *models.Document) *models.Document {
	cp := *d
	if d.ErrorMessage != nil {
		msg := *d.ErrorMessage
		cp.ErrorMessage = &msg
	}
	return &cp
}

func cloneChunk(ch models.DocumentChunk, createdAt time.Time) models.DocumentChunk {
	cp := ch
	if ch.Embedding != nil {
		cp.Embedding = slices.Clone(ch.Embedding)
	}
	if ch.Metadata != nil {
		cp.Metadata = maps.Clone(ch.Metadata)
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = createdAt
	}
	return cp
}

var _ core.DbClient = (*MemoryClient)(nil)
