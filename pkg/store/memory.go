package store

import (
	"context"
	"sync"

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
)

// MemoryIndex is a process-local index that scores every candidate on query.
type MemoryIndex struct {
	mu      sync.RWMutex
	dims    int
	records map[string]models.Record
}

var _ types.VectorIndex = (*MemoryIndex)(nil)

// NewMemoryIndex returns an empty index. A zero dims is fixed by the first upsert.
func NewMemoryIndex(dims int) *MemoryIndex {
	return &MemoryIndex{
		dims:    dims,
		records: make(map[string]models.Record),
	}
}

func (m *MemoryIndex) Name() string { return BackendMemory }

func (m *MemoryIndex) Dimensions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dims
}

func (m *MemoryIndex) Upsert(ctx context.Context, records []models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dims := m.dims
	if dims == 0 {
		dims = len(records[0].Vector)
	}
	for _, r := range records {
		if err := types.CheckDimensions(dims, r.Vector); err != nil {
			return err
		}
	}

	m.dims = dims
	for _, r := range records {
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		m.records[r.Chunk.ID] = models.Record{Chunk: r.Chunk, Vector: vec}
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, topK int, filter models.Filter) ([]models.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := types.CheckDimensions(m.dims, vector); err != nil {
		return nil, err
	}

	hits := make([]models.ScoredChunk, 0, len(m.records))
	for _, r := range m.records {
		if !filter.Matches(r.Chunk) {
			continue
		}
		hits = append(hits, models.ScoredChunk{Chunk: r.Chunk, Score: similarity(vector, r.Vector)})
	}
	return rank(hits, topK), nil
}

func (m *MemoryIndex) Delete(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, r := range m.records {
		if r.Chunk.DocumentID == documentID {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *MemoryIndex) Count(_ context.Context, filter models.Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if filter.DocumentID == "" {
		return len(m.records), nil
	}
	n := 0
	for _, r := range m.records {
		if filter.Matches(r.Chunk) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryIndex) Close() error { return nil }
