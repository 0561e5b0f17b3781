package processor_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
	"github.com/xhad/pdfchat/pkg/processor"
)

func TestProcessor_Process(t *testing.T) {
	config := processor.ProcessorConfig{
		ChunkSize:    120,
		ChunkOverlap: 20,
	}
	p := processor.NewWithConfig(config)

	doc := models.Document{ID: "doc1", Filename: "report.pdf", FileType: models.FileTypePDF}
	text := "Quarterly Report\r\n\r\n\r\n\r\nRevenue increased by 12% to $4.2M.   \n" +
		strings.Repeat("Operating margin improved across every segment. ", 8)

	chunks, stats := p.Process(doc, text)

	require.NotEmpty(t, chunks)
	assert.Equal(t, len(chunks), stats.ChunkCount)
	assert.Greater(t, stats.WordCount, 50)
	assert.NotContains(t, chunks[0].Text, "\r")
	assert.NotContains(t, chunks[0].Text, "\n\n\n")

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Ordinal)
		assert.Equal(t, models.ChunkID("doc1", i), chunk.ID)
		assert.Equal(t, "doc1", chunk.DocumentID)
		assert.Equal(t, "report.pdf", chunk.Metadata.Filename)
		assert.Equal(t, "pdf", chunk.Metadata.FileType)
		assert.LessOrEqual(t, len(chunk.Text), 120)
	}
}

func TestProcessor_EmptyText(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	chunks, stats := p.Process(models.Document{ID: "empty"}, "  \n\t ")

	assert.Empty(t, chunks)
	assert.Equal(t, 0, stats.ChunkCount)
	assert.Equal(t, 0, stats.WordCount)
}

func TestProcessor_Defaults(t *testing.T) {
	text := strings.Repeat("Quarterly revenue grew across every region we operate in. ", 60)
	doc := models.Document{ID: "defaults", Filename: "defaults.pdf"}

	implicit := processor.NewWithConfig(processor.ProcessorConfig{})
	explicit := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 1000, ChunkOverlap: 200})

	got, _ := implicit.Process(doc, text)
	want, _ := explicit.Process(doc, text)
	require.Greater(t, len(want), 1)
	assert.Equal(t, want, got)
}

func TestPDFExtractor_Failures(t *testing.T) {
	var extractor processor.PDFExtractor

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "not a pdf", data: []byte("hello, this is plain text")},
		{name: "truncated header", data: []byte("%PDF-1.4\n1 0 obj\n<<")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := extractor.ExtractText(tt.data)
			assert.ErrorIs(t, err, types.ErrExtraction)
			assert.Empty(t, text)
		})
	}
}
