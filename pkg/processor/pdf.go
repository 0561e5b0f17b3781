package processor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xhad/pdfchat/internal/types"
)

// TextExtractor turns raw document bytes into plain text.
type TextExtractor interface {
	ExtractText(data []byte) (string, error)
}

// PDFExtractor extracts the text layer of a PDF page by page.
type PDFExtractor struct{}

// ExtractText returns the text of every page joined by newlines. Any failure,
// including a panic inside the PDF parser, is reported as types.ErrExtraction.
func (PDFExtractor) ExtractText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: pdf parser panicked: %v", types.ErrExtraction, r)
		}
	}()

	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", types.ErrExtraction)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrExtraction, err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", types.ErrExtraction, i, err)
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}

	text = strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w: no text layer found", types.ErrExtraction)
	}
	return text, nil
}
