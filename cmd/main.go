package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/pdfchat/pkg/chatbot"
	cfgPkg "github.com/xhad/pdfchat/pkg/config"
	"github.com/xhad/pdfchat/pkg/llm"
	"github.com/xhad/pdfchat/pkg/logging"
	"github.com/xhad/pdfchat/pkg/store"
)

var (
	configPath string
	backend    string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "pdfchat",
		Short: "Ask questions about PDF documents, summarize them and generate quizzes",
		Long: `pdfchat indexes PDF documents and answers questions about them with a
local or hosted language model. Documents persist between runs only with the
sqlite or pgvector database backends.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&backend, "backend", "", "vector index backend: pgvector, sqlite or memory")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(ingestCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(askCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(documentsCmd())
	root.AddCommand(deleteCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(serveCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		stop()
		os.Exit(1)
	}
}

// app holds everything a command needs once the config is loaded.
type app struct {
	config *cfgPkg.Config
	logger *slog.Logger
	stores store.Stores
	svc    *chatbot.Service
}

func (a *app) Close() error {
	return a.stores.Close()
}

func loadConfig() (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if backend != "" {
		cfg.Database.Backend = backend
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		errs := make([]error, len(problems))
		for i, p := range problems {
			errs[i] = p
		}
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// setup wires the service from the config. progress may be nil.
func setup(ctx context.Context, progress func(documentID string, done, total int)) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, err
	}

	stores, err := store.Open(ctx, store.Config{
		Backend:    cfg.Database.Backend,
		Fallback:   cfg.Database.Fallback,
		SQLitePath: cfg.Database.SQLitePath,
		Dimensions: cfg.Embedding.Dimensions,
		PGVector: store.VectorStoreConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			VectorDim:  cfg.Embedding.Dimensions,
			Lists:      cfg.Database.Lists,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:    cfg.Embedding.Provider,
		Model:       cfg.Embedding.Model,
		BaseURL:     cfg.Embedding.BaseURL,
		APIKey:      cfg.Embedding.APIKey,
		Dimensions:  stores.Index.Dimensions(),
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
		RateLimit:   cfg.Embedding.RateLimit,
		Retry: llm.RetryPolicy{
			MaxRetries:     cfg.Embedding.MaxRetries,
			BaseDelay:      cfg.Embedding.RetryBaseDelay,
			MaxDelay:       cfg.Embedding.RetryMaxDelay,
			AttemptTimeout: cfg.Embedding.AttemptTimeout,
		},
	}, logger)
	if err != nil {
		stores.Close()
		return nil, err
	}

	svc, err := chatbot.New(chatbot.Deps{
		Completer: chatEngine,
		Embedder:  embedder,
		Index:     stores.Index,
		Documents: stores.Documents,
		Logger:    logger,
		Progress:  progress,
	}, chatbot.Config{
		ChunkSize:       cfg.Processor.ChunkSize,
		ChunkOverlap:    cfg.Processor.ChunkOverlap,
		MaxFileSize:     cfg.MaxFileSize(),
		MinScore:        cfg.MinScore(),
		QATopK:          cfg.Agents.QATopK,
		SummaryTopK:     cfg.Agents.SummaryTopK,
		SummaryMaxWords: cfg.Agents.SummaryMaxWords,
		MCQTopK:         cfg.Agents.MCQTopK,
		NumQuestions:    cfg.Agents.NumQuestions,
	})
	if err != nil {
		stores.Close()
		return nil, err
	}

	return &app{config: cfg, logger: logger, stores: stores, svc: svc}, nil
}
