package types

import (
	"context"

	"github.com/xhad/pdfchat/internal/models"
)

// VectorIndex stores chunk vectors and answers nearest-neighbour queries.
// Implementations must be safe for concurrent use.
type VectorIndex interface {
	// Name identifies the backend, e.g. "pgvector" or "memory".
	Name() string
	Dimensions() int
	// Upsert overwrites any live record with the same chunk id.
	Upsert(ctx context.Context, records []models.Record) error
	// Query returns at most topK hits with scores in [0,1], best first.
	Query(ctx context.Context, vector []float32, topK int, filter models.Filter) ([]models.ScoredChunk, error)
	Delete(ctx context.Context, documentID string) error
	Count(ctx context.Context, filter models.Filter) (int, error)
	Close() error
}

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Completer produces a completion for a prompt given prior conversation turns.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, history []models.Turn) (string, error)
}

// Retriever ranks stored chunks against a query.
type Retriever interface {
	Retrieve(ctx context.Context, query, documentID string, topK int) (models.RetrievalResult, error)
}

// DocumentStore keeps document records. Get and Delete return ErrNotFound for
// unknown ids.
type DocumentStore interface {
	Put(ctx context.Context, doc models.Document) error
	Get(ctx context.Context, id string) (models.Document, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.Document, error)
	FindByFilename(ctx context.Context, filename string) (models.Document, bool, error)
	Count(ctx context.Context) (int, error)
}
