package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
	"github.com/xhad/pdfchat/pkg/agent"
	"github.com/xhad/pdfchat/pkg/logging"
	"github.com/xhad/pdfchat/pkg/processor"
	"github.com/xhad/pdfchat/pkg/retriever"
	"github.com/xhad/pdfchat/pkg/router"
	"github.com/xhad/pdfchat/pkg/workflow"
)

const defaultMaxFileSize = 50 << 20

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	// MaxFileSize is the upload limit in bytes.
	MaxFileSize     int64
	MinScore        float64
	QATopK          int
	SummaryTopK     int
	SummaryMaxWords int
	MCQTopK         int
	NumQuestions    int
}

// Deps are the external collaborators of the service.
type Deps struct {
	Completer types.Completer
	Embedder  types.Embedder
	Index     types.VectorIndex
	Documents types.DocumentStore
	// Extractor defaults to processor.PDFExtractor.
	Extractor processor.TextExtractor
	Logger    *slog.Logger
	// Progress, when set, is told how many chunks of a document are embedded.
	Progress func(documentID string, done, total int)
}

// progressEmbedder is implemented by embedders that report batch completion.
type progressEmbedder interface {
	EmbedDocumentsWithProgress(ctx context.Context, texts []string, progress func(n int)) ([][]float32, error)
}

// Service exposes ingestion, chat and document management over one index.
type Service struct {
	config    Config
	deps      Deps
	processor processor.Processor
	retriever *retriever.Retriever
	workflow  *workflow.Workflow
	logger    *slog.Logger
	now       func() time.Time
}

func New(deps Deps, config Config) (*Service, error) {
	switch {
	case deps.Completer == nil:
		return nil, fmt.Errorf("%w: completer is required", types.ErrValidation)
	case deps.Embedder == nil:
		return nil, fmt.Errorf("%w: embedder is required", types.ErrValidation)
	case deps.Index == nil:
		return nil, fmt.Errorf("%w: vector index is required", types.ErrValidation)
	case deps.Documents == nil:
		return nil, fmt.Errorf("%w: document store is required", types.ErrValidation)
	}
	if deps.Extractor == nil {
		deps.Extractor = processor.PDFExtractor{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = defaultMaxFileSize
	}

	logger := deps.Logger
	ret := retriever.New(deps.Embedder, deps.Index, retriever.Config{MinScore: config.MinScore}, logger)
	agents := []agent.Agent{
		agent.NewQA(deps.Completer, config.QATopK, logger),
		agent.NewSummary(deps.Completer, config.SummaryTopK, config.SummaryMaxWords, logger),
		agent.NewMCQ(deps.Completer, config.MCQTopK, config.NumQuestions, logger),
	}

	return &Service{
		config: config,
		deps:   deps,
		processor: processor.NewWithConfig(processor.ProcessorConfig{
			ChunkSize:    config.ChunkSize,
			ChunkOverlap: config.ChunkOverlap,
		}),
		retriever: ret,
		workflow:  workflow.New(router.New(), ret, agents, logger),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// UploadDocument validates and ingests a PDF. A file that cannot be read is
// recorded with status error and returned without an error; the returned
// error is reserved for rejected uploads and failed indexing. Earlier uploads
// with the same filename are replaced once the new one is indexed.
func (s *Service) UploadDocument(ctx context.Context, filename string, data []byte) (models.Document, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return models.Document{}, fmt.Errorf("%w: filename is required", types.ErrValidation)
	}
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "."+models.FileTypePDF {
		return models.Document{}, fmt.Errorf("%w: %w: %q, only PDF files are accepted", types.ErrValidation, types.ErrUnsupportedType, ext)
	}
	if len(data) == 0 {
		return models.Document{}, fmt.Errorf("%w: %s is empty", types.ErrValidation, filename)
	}
	if int64(len(data)) > s.config.MaxFileSize {
		return models.Document{}, fmt.Errorf("%w: %s is %d bytes, limit is %d", types.ErrValidation, filename, len(data), s.config.MaxFileSize)
	}

	doc := models.Document{
		ID:        uuid.NewString(),
		Filename:  filename,
		FileType:  models.FileTypePDF,
		SizeBytes: int64(len(data)),
		Status:    models.StatusPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.deps.Documents.Put(ctx, doc); err != nil {
		return models.Document{}, err
	}

	text, err := s.deps.Extractor.ExtractText(data)
	if err != nil {
		s.logger.Warn("text extraction failed", "document_id", doc.ID, "filename", filename, "error", err)
		return s.markFailed(ctx, doc, err), nil
	}

	stats, err := s.ingest(ctx, doc, text)
	if err != nil {
		return s.markFailed(ctx, doc, err), err
	}

	doc = s.markProcessed(ctx, doc, stats)
	if err := s.replacePrevious(ctx, doc); err != nil {
		return doc, err
	}
	return doc, nil
}

// replacePrevious deletes every other document uploaded under doc's filename.
// It runs only once doc is indexed, so a failed re-upload keeps the earlier
// version searchable.
func (s *Service) replacePrevious(ctx context.Context, doc models.Document) error {
	docs, err := s.deps.Documents.List(ctx)
	if err != nil {
		return fmt.Errorf("replacing %s: %w", doc.Filename, err)
	}
	for _, old := range docs {
		if old.ID == doc.ID || old.Filename != doc.Filename {
			continue
		}
		s.logger.Info("replacing previously uploaded document", "document_id", old.ID, "filename", doc.Filename)
		if err := s.DeleteDocument(ctx, old.ID); err != nil && !errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("replacing %s: %w", doc.Filename, err)
		}
	}
	return nil
}

// ProcessDocument chunks, embeds and indexes rawText for documentID,
// replacing any chunks indexed for it before. Unknown ids are registered.
func (s *Service) ProcessDocument(ctx context.Context, documentID, rawText string) (models.DocumentStats, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return models.DocumentStats{}, fmt.Errorf("%w: document id is required", types.ErrValidation)
	}

	doc, err := s.deps.Documents.Get(ctx, documentID)
	if errors.Is(err, types.ErrNotFound) {
		doc = models.Document{
			ID:        documentID,
			Filename:  documentID,
			FileType:  models.FileTypePDF,
			Status:    models.StatusPending,
			CreatedAt: s.now().UTC(),
		}
		err = s.deps.Documents.Put(ctx, doc)
	}
	if err != nil {
		return models.DocumentStats{}, err
	}

	stats, err := s.ingest(ctx, doc, rawText)
	if err != nil {
		s.markFailed(ctx, doc, err)
		return models.DocumentStats{}, err
	}
	s.markProcessed(ctx, doc, stats)
	return stats, nil
}

// ingest embeds every chunk before writing any of them, so a failed or
// cancelled ingestion leaves the index untouched.
func (s *Service) ingest(ctx context.Context, doc models.Document, text string) (models.DocumentStats, error) {
	start := s.now()
	chunks, stats := s.processor.Process(doc, text)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var vectors [][]float32
	var err error
	if len(texts) > 0 {
		vectors, err = s.embed(ctx, doc.ID, texts)
		if err != nil {
			return stats, fmt.Errorf("embedding %s: %w", doc.Filename, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	records := make([]models.Record, len(chunks))
	for i, c := range chunks {
		records[i] = models.Record{Chunk: c, Vector: vectors[i]}
	}

	if err := s.deps.Index.Delete(ctx, doc.ID); err != nil {
		return stats, fmt.Errorf("clearing previous chunks: %w", err)
	}
	if err := s.deps.Index.Upsert(ctx, records); err != nil {
		return stats, fmt.Errorf("indexing %s: %w", doc.Filename, err)
	}

	s.logger.Info("document indexed",
		"document_id", doc.ID,
		"filename", doc.Filename,
		"chunks", stats.ChunkCount,
		"words", stats.WordCount,
		"elapsed", time.Since(start),
	)
	return stats, nil
}

func (s *Service) embed(ctx context.Context, documentID string, texts []string) ([][]float32, error) {
	pe, ok := s.deps.Embedder.(progressEmbedder)
	if !ok || s.deps.Progress == nil {
		return s.deps.Embedder.EmbedDocuments(ctx, texts)
	}

	total := len(texts)
	done := 0
	progress := make(chan int)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for n := range progress {
			done += n
			s.deps.Progress(documentID, done, total)
		}
	}()

	vectors, err := pe.EmbedDocumentsWithProgress(ctx, texts, func(n int) { progress <- n })
	close(progress)
	<-finished
	return vectors, err
}

// Status updates outlive a cancelled request so the document never stays pending.
func (s *Service) markFailed(ctx context.Context, doc models.Document, cause error) models.Document {
	doc.Status = models.StatusError
	doc.Error = cause.Error()
	doc.ChunkCount = 0
	if err := s.deps.Documents.Put(context.WithoutCancel(ctx), doc); err != nil {
		s.logger.Error("failed to record document error", "document_id", doc.ID, "error", err)
	}
	return doc
}

func (s *Service) markProcessed(ctx context.Context, doc models.Document, stats models.DocumentStats) models.Document {
	doc.Status = models.StatusProcessed
	doc.Error = ""
	doc.ChunkCount = stats.ChunkCount
	doc.WordCount = stats.WordCount
	doc.CharCount = stats.CharCount
	if err := s.deps.Documents.Put(context.WithoutCancel(ctx), doc); err != nil {
		s.logger.Error("failed to record processed document", "document_id", doc.ID, "error", err)
	}
	return doc
}

// DeleteDocument removes a document and all of its chunks.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.deps.Documents.Get(ctx, documentID); err != nil {
		return err
	}
	if err := s.deps.Index.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("deleting chunks of %s: %w", documentID, err)
	}
	if err := s.deps.Documents.Delete(ctx, documentID); err != nil {
		return err
	}
	s.logger.Info("document deleted", "document_id", documentID)
	return nil
}

// HandleMessage answers one chat message. It never returns nil.
func (s *Service) HandleMessage(ctx context.Context, req models.ChatRequest) *models.AgentResponse {
	return s.workflow.Run(ctx, req)
}

func (s *Service) GetStats(ctx context.Context) (models.Stats, error) {
	docs, err := s.deps.Documents.Count(ctx)
	if err != nil {
		return models.Stats{}, err
	}
	chunks, err := s.deps.Index.Count(ctx, models.Filter{})
	if err != nil {
		return models.Stats{}, err
	}
	return models.Stats{
		DocumentCount: docs,
		ChunkCount:    chunks,
		IndexBackend:  s.deps.Index.Name(),
	}, nil
}

func (s *Service) ListDocuments(ctx context.Context) ([]models.Document, error) {
	return s.deps.Documents.List(ctx)
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (models.Document, error) {
	return s.deps.Documents.Get(ctx, documentID)
}

// SearchDocuments ranks chunks across all documents without generating an answer.
func (s *Service) SearchDocuments(ctx context.Context, query string, topK int) ([]models.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", types.ErrValidation)
	}
	if topK <= 0 {
		topK = 5
	}
	result, err := s.retriever.Retrieve(ctx, query, "", topK)
	if err != nil {
		return nil, err
	}
	s.logger.Info("searched documents", "results", len(result.Items))
	return result.Items, nil
}
