package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
	"github.com/xhad/pdfchat/pkg/logging"
)

// DefaultMinScore corresponds to a cosine similarity of zero.
const DefaultMinScore = 0.5

type Config struct {
	// MinScore is the lowest score kept. Zero keeps every hit.
	MinScore float64
	// Overfetch multiplies topK when querying the index so that duplicates
	// dropped during merging do not leave the result short.
	Overfetch int
}

// Retriever embeds a query and ranks stored chunks against it.
type Retriever struct {
	config   Config
	embedder types.Embedder
	index    types.VectorIndex
	logger   *slog.Logger
}

var _ types.Retriever = (*Retriever)(nil)

func New(embedder types.Embedder, index types.VectorIndex, config Config, logger *slog.Logger) *Retriever {
	if config.MinScore < 0 {
		config.MinScore = 0
	}
	if config.Overfetch < 1 {
		config.Overfetch = 2
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Retriever{
		config:   config,
		embedder: embedder,
		index:    index,
		logger:   logger,
	}
}

// Retrieve returns at most topK chunks scoring at least MinScore, best first.
// An empty index (for the filter) or a query with no qualifying hits yields an
// empty result, not an error. Embedding failures are returned unchanged and
// vector store failures are reported as types.ServiceError.
func (r *Retriever) Retrieve(ctx context.Context, query, documentID string, topK int) (models.RetrievalResult, error) {
	result := models.RetrievalResult{Query: query, DocumentID: documentID}
	if topK <= 0 || strings.TrimSpace(query) == "" {
		return result, nil
	}

	filter := models.Filter{DocumentID: documentID}
	n, err := r.index.Count(ctx, filter)
	if err != nil {
		return result, storeError(ctx, "counting indexed chunks", err)
	}
	if n == 0 {
		r.logger.Debug("nothing indexed for query", "document_id", documentID)
		return result, nil
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return result, err
	}

	hits, err := r.index.Query(ctx, vector, topK*r.config.Overfetch, filter)
	if err != nil {
		return result, storeError(ctx, "querying index", err)
	}

	result.Items = r.merge(hits, topK)
	r.logger.Debug("retrieved chunks", "document_id", documentID, "candidates", len(hits), "chunks", len(result.Items))
	return result, nil
}

// storeError classifies an index failure. Dimension and validation errors are
// configuration problems and cancellation belongs to the caller; anything
// else means the vector store could not serve the request.
func storeError(ctx context.Context, op string, err error) error {
	if errors.Is(err, types.ErrDimensionMismatch) || errors.Is(err, types.ErrValidation) || ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &types.ServiceError{Service: "vector store", Attempts: 1, Err: fmt.Errorf("%s: %w", op, err)}
}

// merge drops hits below the score floor and duplicates of the same
// (document, ordinal), keeping the better score, then ranks and truncates.
func (r *Retriever) merge(hits []models.ScoredChunk, topK int) []models.ScoredChunk {
	type key struct {
		doc     string
		ordinal int
	}
	best := make(map[key]int, len(hits))
	var out []models.ScoredChunk

	for _, h := range hits {
		if h.Score < r.config.MinScore {
			continue
		}
		k := key{h.Chunk.DocumentID, h.Chunk.Ordinal}
		if i, ok := best[k]; ok {
			if h.Score > out[i].Score {
				out[i] = h
			}
			continue
		}
		best[k] = len(out)
		out = append(out, h)
	}

	models.SortScored(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
