package models

import (
	"fmt"
	"sort"
)

// ChunkMetadata is copied from the owning document when the chunk is created.
type ChunkMetadata struct {
	Filename   string `json:"filename"`
	DocumentID string `json:"document_id"`
	FileType   string `json:"file_type"`
}

// Chunk is a contiguous slice of a document's text. Start and End are byte
// offsets into the extracted text.
type Chunk struct {
	ID         string        `json:"chunk_id"`
	DocumentID string        `json:"document_id"`
	Ordinal    int           `json:"chunk_index"`
	Text       string        `json:"content"`
	Start      int           `json:"start"`
	End        int           `json:"end"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// ChunkID returns the stable identifier for the chunk at ordinal within a document.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s_%d", documentID, ordinal)
}

// Record is what the vector index stores: a chunk and its embedding.
type Record struct {
	Chunk  Chunk
	Vector []float32
}

// Filter restricts index candidates. An empty DocumentID means all documents.
type Filter struct {
	DocumentID string
}

func (f Filter) Matches(c Chunk) bool {
	return f.DocumentID == "" || c.DocumentID == f.DocumentID
}

type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// SortScored orders hits by descending score. Ties go to the lower ordinal,
// then document id and chunk id so that the order is total.
func SortScored(items []ScoredChunk) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Ordinal != b.Chunk.Ordinal {
			return a.Chunk.Ordinal < b.Chunk.Ordinal
		}
		if a.Chunk.DocumentID != b.Chunk.DocumentID {
			return a.Chunk.DocumentID < b.Chunk.DocumentID
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}

// RetrievalResult is the ranked output of the retriever. An empty result is a
// legitimate outcome, distinct from a failed retrieval.
type RetrievalResult struct {
	Query      string        `json:"query"`
	DocumentID string        `json:"document_id,omitempty"`
	Items      []ScoredChunk `json:"items"`
}

func (r RetrievalResult) Empty() bool {
	return len(r.Items) == 0
}

// FileTypes lists the distinct file types touched by the result, in first-seen order.
func (r RetrievalResult) FileTypes() []string {
	seen := make(map[string]bool)
	var types []string
	for _, item := range r.Items {
		ft := item.Chunk.Metadata.FileType
		if ft == "" {
			ft = "unknown"
		}
		if !seen[ft] {
			seen[ft] = true
			types = append(types, ft)
		}
	}
	return types
}
