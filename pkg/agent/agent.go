package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/pkg/logging"
)

// RetrievalPlan is what an agent wants the retriever to fetch.
type RetrievalPlan struct {
	Query string
	TopK  int
}

// Agent turns retrieved chunks into a response for one intent. Respond must
// only cite chunks present in result.
type Agent interface {
	Name() models.Intent
	Plan(q models.Query) RetrievalPlan
	Respond(ctx context.Context, q models.Query, decision models.RoutingDecision, result models.RetrievalResult) (*models.AgentResponse, error)
}

const (
	previewLength = 200

	noContentMessage = "I couldn't find relevant content in the uploaded documents for this request. " +
		"Please make sure you have uploaded PDF documents first."
)

func discardLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return logging.Discard()
	}
	return logger
}

// buildContext renders the chunks as numbered blocks, [1] being the first item.
func buildContext(result models.RetrievalResult) string {
	var b strings.Builder
	for i, item := range result.Items {
		filename := item.Chunk.Metadata.Filename
		if filename == "" {
			filename = "unknown"
		}
		fmt.Fprintf(&b, "[%d] (from %s, chunk %d)\n%s\n\n", i+1, filename, item.Chunk.Ordinal, strings.TrimSpace(item.Chunk.Text))
	}
	return strings.TrimRight(b.String(), "\n")
}

var citationPattern = regexp.MustCompile(`\s?\[(\d+)\]`)

// guardCitations strips [n] markers outside 1..n and reports which markers
// remain.
func guardCitations(text string, n int, logger *slog.Logger) (string, map[int]bool) {
	cited := make(map[int]bool)
	var stripped []string

	out := citationPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := citationPattern.FindStringSubmatch(m)
		i, err := strconv.Atoi(sub[1])
		if err != nil || i < 1 || i > n {
			stripped = append(stripped, strings.TrimSpace(m))
			return ""
		}
		cited[i] = true
		return m
	})

	if len(stripped) > 0 {
		logger.Warn("stripped citations outside retrieved context", "markers", stripped, "context_size", n)
	}
	return out, cited
}

func buildSources(result models.RetrievalResult, cited map[int]bool) []models.Source {
	sources := make([]models.Source, 0, len(result.Items))
	for i, item := range result.Items {
		fileType := item.Chunk.Metadata.FileType
		if fileType == "" {
			fileType = "unknown"
		}
		sources = append(sources, models.Source{
			ChunkID:      item.Chunk.ID,
			DocumentID:   item.Chunk.DocumentID,
			Ordinal:      item.Chunk.Ordinal,
			Filename:     item.Chunk.Metadata.Filename,
			DocumentType: fileType,
			Preview:      preview(item.Chunk.Text),
			Score:        item.Score,
			Marker:       i + 1,
			Cited:        cited[i+1],
		})
	}
	return sources
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewLength]) + "..."
}

func metadata(intent models.Intent, q models.Query, decision models.RoutingDecision, result models.RetrievalResult) map[string]any {
	m := map[string]any{
		"query_type":           string(intent),
		"context_chunks_found": len(result.Items),
		"routing_reason":       decision.Reason,
		"file_types":           result.FileTypes(),
	}
	if q.DocumentID != "" {
		m["document_id"] = q.DocumentID
	}
	if decision.Analytics {
		m["analytics"] = true
	}
	return m
}

// noContent is the response given when retrieval found nothing. No
// completion is requested for it.
func noContent(intent models.Intent, q models.Query, decision models.RoutingDecision, result models.RetrievalResult) *models.AgentResponse {
	return &models.AgentResponse{
		Response:  noContentMessage,
		AgentType: intent,
		Status:    models.ResponseCompleted,
		Sources:   []models.Source{},
		Metadata:  metadata(intent, q, decision, result),
	}
}

func respond(intent models.Intent, text string, q models.Query, decision models.RoutingDecision, result models.RetrievalResult, logger *slog.Logger) *models.AgentResponse {
	cleaned, cited := guardCitations(text, len(result.Items), logger)
	return &models.AgentResponse{
		Response:  strings.TrimSpace(cleaned),
		AgentType: intent,
		Status:    models.ResponseCompleted,
		Sources:   buildSources(result, cited),
		Metadata:  metadata(intent, q, decision, result),
	}
}
