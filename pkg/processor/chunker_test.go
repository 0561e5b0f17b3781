package processor_test

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/pdfchat/pkg/processor"
)

func TestChunker_LongParagraph(t *testing.T) {
	text := strings.Repeat("a", 2500)
	c := processor.NewChunker(1000, 200)

	segments := c.Split(text)

	require.Len(t, segments, 3)
	assert.Equal(t, 0, segments[0].Start)
	assert.Equal(t, 800, segments[1].Start)
	assert.Equal(t, 1600, segments[2].Start)
	assert.Equal(t, 2500, segments[2].End)
}

func TestChunker_Degenerate(t *testing.T) {
	c := processor.NewChunker(1000, 200)

	segments := c.Split("")
	require.Len(t, segments, 1)
	assert.Equal(t, "", segments[0].Text)

	segments = c.Split("short text")
	require.Len(t, segments, 1)
	assert.Equal(t, "short text", segments[0].Text)
	assert.Equal(t, 10, segments[0].End)
}

func TestChunker_PrefersParagraphBreaks(t *testing.T) {
	first := strings.Repeat("x", 600)
	second := strings.Repeat("y", 600)
	c := processor.NewChunker(1000, 200)

	segments := c.Split(first + "\n\n" + second)

	require.Len(t, segments, 2)
	assert.Equal(t, first+"\n\n", segments[0].Text)
	assert.Equal(t, second, segments[1].Text)
}

func TestChunker_OverlapClamped(t *testing.T) {
	c := processor.NewChunker(100, 150)
	assert.Equal(t, 25, c.Overlap())

	c = processor.NewChunker(100, -5)
	assert.Equal(t, 0, c.Overlap())
}

func TestChunker_Invariants(t *testing.T) {
	var words []string
	for i := 0; i < 900; i++ {
		words = append(words, fmt.Sprintf("word%d", i%37))
	}
	prose := strings.Join(words, " ")

	var lines []string
	for i := 0; i < 120; i++ {
		lines = append(lines, fmt.Sprintf("Revenue line %d grew by %d%% year over year.", i, i%13))
	}

	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
	}{
		{name: "prose", text: prose, size: 300, overlap: 50},
		{name: "lines", text: strings.Join(lines, "\n"), size: 500, overlap: 100},
		{name: "paragraphs", text: strings.Join(lines[:40], "\n") + "\n\n" + prose, size: 400, overlap: 80},
		{name: "multibyte", text: strings.Repeat("é", 1500), size: 1000, overlap: 200},
		{name: "unbroken", text: strings.Repeat("z", 5000), size: 700, overlap: 0},
		{name: "mixed", text: strings.Repeat("α β\nγ ", 400), size: 250, overlap: 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := processor.NewChunker(tt.size, tt.overlap)
			segments := c.Split(tt.text)
			require.NotEmpty(t, segments)

			var rebuilt strings.Builder
			for i, seg := range segments {
				assert.LessOrEqual(t, seg.Len(), tt.size, "segment %d too large", i)
				assert.Equal(t, tt.text[seg.Start:seg.End], seg.Text)
				assert.True(t, utf8.ValidString(seg.Text), "segment %d cut a rune", i)

				if i == 0 {
					assert.Equal(t, 0, seg.Start)
					rebuilt.WriteString(seg.Text)
					continue
				}
				prev := segments[i-1]
				shared := prev.End - seg.Start
				assert.GreaterOrEqual(t, shared, 0, "gap before segment %d", i)
				assert.LessOrEqual(t, shared, tt.overlap, "segment %d overlaps too much", i)
				rebuilt.WriteString(seg.Text[shared:])
			}

			assert.Equal(t, tt.text, rebuilt.String())
		})
	}
}
