package processor

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xhad/pdfchat/internal/models"
)

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	// MinChunkLength drops whitespace-only or tiny trailing segments. Zero keeps everything.
	MinChunkLength int
}

type Processor struct {
	config  ProcessorConfig
	chunker *Chunker
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
	}

	chunker := NewChunker(config.ChunkSize, config.ChunkOverlap)
	config.ChunkOverlap = chunker.Overlap()

	return Processor{
		config:  config,
		chunker: chunker,
	}
}

// Process cleans the extracted text of doc and splits it into chunks that
// carry the document's metadata. The returned stats describe the cleaned text.
func (p *Processor) Process(doc models.Document, text string) ([]models.Chunk, models.DocumentStats) {
	clean := p.cleanText(text)

	stats := models.DocumentStats{
		WordCount: len(strings.Fields(clean)),
		CharCount: utf8.RuneCountInString(clean),
	}
	if strings.TrimSpace(clean) == "" {
		return nil, stats
	}

	meta := models.ChunkMetadata{
		Filename:   doc.Filename,
		DocumentID: doc.ID,
		FileType:   doc.FileType,
	}

	segments := p.chunker.Split(clean)
	chunks := make([]models.Chunk, 0, len(segments))
	for _, seg := range segments {
		if p.config.MinChunkLength > 0 && len(strings.TrimSpace(seg.Text)) < p.config.MinChunkLength && len(segments) > 1 {
			continue
		}
		ordinal := len(chunks)
		chunks = append(chunks, models.Chunk{
			ID:         models.ChunkID(doc.ID, ordinal),
			DocumentID: doc.ID,
			Ordinal:    ordinal,
			Text:       seg.Text,
			Start:      seg.Start,
			End:        seg.End,
			Metadata:   meta,
		})
	}
	stats.ChunkCount = len(chunks)

	return chunks, stats
}

var (
	manyNewlines = regexp.MustCompile(`\n{3,}`)
	trailingWS   = regexp.MustCompile(`[ \t]+\n`)
)

// cleanText normalises extracted PDF text without destroying the paragraph
// and line structure the chunker splits on.
func (p *Processor) cleanText(text string) string {
	text = sanitizeUTF8(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	text = trailingWS.ReplaceAllString(text, "\n")
	text = manyNewlines.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
