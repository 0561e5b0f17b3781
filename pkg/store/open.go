package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xhad/pdfchat/internal/types"
	"github.com/xhad/pdfchat/pkg/logging"
)

const (
	BackendPGVector = "pgvector"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
)

type Config struct {
	Backend string
	// Fallback is opened when the pgvector backend is unconfigured or unreachable.
	Fallback   string
	SQLitePath string
	Dimensions int
	PGVector   VectorStoreConfig
}

// Stores pairs a vector index with the document store kept beside it.
type Stores struct {
	Index     types.VectorIndex
	Documents types.DocumentStore
}

func (s Stores) Close() error {
	if s.Index == nil {
		return nil
	}
	return s.Index.Close()
}

// Open returns the configured backend. A pgvector backend that cannot be
// reached is replaced by the fallback with a warning rather than an error;
// a table built for other embedding dimensions is an error.
func Open(ctx context.Context, config Config, logger *slog.Logger) (Stores, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if config.Backend == "" {
		config.Backend = BackendMemory
	}
	if config.Fallback == "" {
		config.Fallback = BackendMemory
	}

	if config.Backend != BackendPGVector {
		return openLocal(config.Backend, config)
	}

	pg := config.PGVector
	if pg.VectorDim == 0 {
		pg.VectorDim = config.Dimensions
	}
	if pg.ConnString == "" {
		logger.Warn("no database configured, using local index", "fallback", config.Fallback)
		return openLocal(config.Fallback, config)
	}

	vs, err := NewWithConfig(ctx, pg)
	if errors.Is(err, types.ErrDimensionMismatch) {
		return Stores{}, fmt.Errorf("opening vector database: %w", err)
	}
	if err != nil {
		logger.Warn("vector database unavailable, using local index", "fallback", config.Fallback, "error", err)
		return openLocal(config.Fallback, config)
	}
	logger.Info("connected to vector database", "table", vs.config.TableName, "dimensions", vs.Dimensions())
	return Stores{Index: vs, Documents: vs.Documents()}, nil
}

func openLocal(backend string, config Config) (Stores, error) {
	switch backend {
	case BackendMemory:
		return Stores{Index: NewMemoryIndex(config.Dimensions), Documents: NewRegistry()}, nil
	case BackendSQLite:
		idx, err := NewSQLiteIndex(config.SQLitePath, config.Dimensions)
		if err != nil {
			return Stores{}, err
		}
		return Stores{Index: idx, Documents: idx.Documents()}, nil
	default:
		return Stores{}, fmt.Errorf("%w: unknown index backend %q", types.ErrValidation, backend)
	}
}
