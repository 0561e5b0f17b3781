package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
)

// Registry is the in-process document store used with the memory index.
type Registry struct {
	mu   sync.RWMutex
	docs map[string]models.Document
}

var _ types.DocumentStore = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{docs: make(map[string]models.Document)}
}

func (r *Registry) Put(_ context.Context, doc models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: document id is required", types.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc
	return nil
}

func (r *Registry) Get(_ context.Context, id string) (models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return models.Document{}, fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	return doc, nil
}

func (r *Registry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	delete(r.docs, id)
	return nil
}

// List returns documents oldest first.
func (r *Registry) List(_ context.Context) ([]models.Document, error) {
	r.mu.RLock()
	docs := make([]models.Document, 0, len(r.docs))
	for _, d := range r.docs {
		docs = append(docs, d)
	}
	r.mu.RUnlock()

	sortDocuments(docs)
	return docs, nil
}

func (r *Registry) FindByFilename(_ context.Context, filename string) (models.Document, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.docs {
		if d.Filename == filename {
			return d, true, nil
		}
	}
	return models.Document{}, false, nil
}

func (r *Registry) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs), nil
}

func sortDocuments(docs []models.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}
