package models

import "time"

type DocumentStatus string

const (
	StatusPending   DocumentStatus = "pending"
	StatusProcessed DocumentStatus = "processed"
	StatusError     DocumentStatus = "error"
)

// FileTypePDF is the only document type accepted for upload.
const FileTypePDF = "pdf"

type Document struct {
	ID         string         `json:"document_id"`
	Filename   string         `json:"filename"`
	FileType   string         `json:"file_type"`
	SizeBytes  int64          `json:"file_size"`
	Status     DocumentStatus `json:"status"`
	ChunkCount int            `json:"total_chunks"`
	WordCount  int            `json:"total_words"`
	CharCount  int            `json:"total_characters"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DocumentStats are the totals derived while processing a document.
type DocumentStats struct {
	ChunkCount int `json:"chunk_count"`
	WordCount  int `json:"word_count"`
	CharCount  int `json:"char_count"`
}

// Stats describes the shared stores.
type Stats struct {
	DocumentCount int    `json:"document_count"`
	ChunkCount    int    `json:"chunk_count"`
	IndexBackend  string `json:"index_backend"`
}
