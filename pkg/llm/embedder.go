package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/xhad/pdfchat/internal/types"
	"github.com/xhad/pdfchat/pkg/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// EmbeddingClient is the provider call the gateway wraps. Both the ollama and
// openai langchaingo clients satisfy it.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type EmbedderConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	// Dimensions is the expected vector size. Zero adopts the size of the
	// first response and enforces it from then on.
	Dimensions  int
	BatchSize   int
	Concurrency int
	// RateLimit caps batch requests per second. Zero disables pacing.
	RateLimit float64
	Retry     RetryPolicy
}

// Embedder is the gateway to the external embedding service.
type Embedder struct {
	Config  EmbedderConfig
	client  EmbeddingClient
	limiter *rate.Limiter
	dims    atomic.Int64
	logger  *slog.Logger
}

var _ types.Embedder = (*Embedder)(nil)

func NewEmbedder(client EmbeddingClient, config EmbedderConfig, logger *slog.Logger) *Embedder {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 2
	}
	if config.Retry == (RetryPolicy{}) {
		config.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = logging.Discard()
	}

	e := &Embedder{
		Config: config,
		client: client,
		logger: logger,
	}
	if config.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.Concurrency)
	}
	e.dims.Store(int64(config.Dimensions))
	return e
}

// NewEmbedderWithConfig builds the provider client named in config.
func NewEmbedderWithConfig(config EmbedderConfig, logger *slog.Logger) (*Embedder, error) {
	client, err := newEmbeddingClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return NewEmbedder(client, config, logger), nil
}

// Dimensions returns the vector size the gateway currently enforces, or zero
// before the first response when none was configured.
func (e *Embedder) Dimensions() int {
	return int(e.dims.Load())
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.EmbedDocumentsWithProgress(ctx, texts, nil)
}

// EmbedDocumentsWithProgress embeds texts in batches, in parallel up to the
// configured concurrency, and returns vectors in input order. progress, when
// set, is called with the size of each finished batch.
func (e *Embedder) EmbedDocumentsWithProgress(ctx context.Context, texts []string, progress func(n int)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Config.Concurrency)

	offset := 0
	for _, batch := range embeddings.BatchTexts(texts, e.Config.BatchSize) {
		batch, start := batch, offset
		offset += len(batch)

		g.Go(func() error {
			vectors, err := e.embedBatch(gctx, batch)
			if err != nil {
				return err
			}
			copy(out[start:], vectors)
			if progress != nil {
				progress(len(batch))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32

	err := e.Config.Retry.Do(ctx, "embedding", func(ctx context.Context) error {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		result, err := e.client.CreateEmbedding(ctx, batch)
		if err != nil {
			e.logger.Warn("embedding request failed", "batch", len(batch), "error", err)
			return err
		}
		if len(result) != len(batch) {
			return fmt.Errorf("embedding service returned %d vectors for %d texts", len(result), len(batch))
		}
		for _, v := range result {
			if err := e.checkDimensions(v); err != nil {
				return err
			}
		}
		vectors = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (e *Embedder) checkDimensions(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("embedding service returned an empty vector")
	}
	e.dims.CompareAndSwap(0, int64(len(v)))
	return types.CheckDimensions(e.Dimensions(), v)
}
