package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried coarsest first: paragraph, line, word, character.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Segment is a piece of the source text. Text is always source[Start:End].
type Segment struct {
	Text  string
	Start int
	End   int
}

func (s Segment) Len() int { return s.End - s.Start }

// Chunker splits text into overlapping segments at natural boundaries.
// Sizes are measured in bytes and split points never cut a UTF-8 sequence.
type Chunker struct {
	size       int
	overlap    int
	separators []string
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{
		size:       size,
		overlap:    overlap,
		separators: DefaultSeparators,
	}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split never fails. If the boundary-aware split panics or produces output
// that does not cover the text, it falls back to a fixed-width split.
func (c *Chunker) Split(text string) []Segment {
	if len(text) <= c.size {
		return []Segment{{Text: text, Start: 0, End: len(text)}}
	}

	segments, err := c.splitStructured(text)
	if err != nil {
		return c.splitFixed(text)
	}
	return segments
}

func (c *Chunker) splitStructured(text string) (segments []Segment, err error) {
	defer func() {
		if r := recover(); r != nil {
			segments = nil
			err = fmt.Errorf("recursive split panicked: %v", r)
		}
	}()

	var spans []span
	c.splitSpan(text, span{0, len(text)}, c.separators, &spans)
	if err := checkCoverage(spans, len(text)); err != nil {
		return nil, err
	}

	segments = make([]Segment, 0, len(spans))
	for _, s := range spans {
		segments = append(segments, Segment{Text: text[s.start:s.end], Start: s.start, End: s.end})
	}
	return segments, nil
}

type span struct{ start, end int }

func (s span) len() int { return s.end - s.start }

// splitSpan cuts s with the coarsest separator present, merges the pieces
// that fit and recurses into the ones that don't with the finer separators.
func (c *Chunker) splitSpan(text string, s span, separators []string, out *[]span) {
	sep, finer := pickSeparator(text[s.start:s.end], separators)
	pieces := cutAfter(text, s, sep)

	var fitting []span
	for _, p := range pieces {
		if p.len() <= c.size {
			fitting = append(fitting, p)
			continue
		}
		if len(fitting) > 0 {
			*out = append(*out, c.merge(fitting)...)
			fitting = nil
		}
		if len(finer) == 0 {
			// a single rune wider than the chunk size; keep it whole
			*out = append(*out, p)
			continue
		}
		c.splitSpan(text, p, finer, out)
	}
	if len(fitting) > 0 {
		*out = append(*out, c.merge(fitting)...)
	}
}

// merge packs contiguous pieces into windows of at most c.size bytes. After
// each window the trailing pieces, up to c.overlap bytes, start the next one.
func (c *Chunker) merge(pieces []span) []span {
	var out []span
	var window []span
	total := 0

	for _, p := range pieces {
		if total+p.len() > c.size && len(window) > 0 {
			out = append(out, span{window[0].start, window[len(window)-1].end})
			for total > c.overlap || (total+p.len() > c.size && total > 0) {
				total -= window[0].len()
				window = window[1:]
			}
		}
		window = append(window, p)
		total += p.len()
	}
	if len(window) > 0 {
		out = append(out, span{window[0].start, window[len(window)-1].end})
	}
	return out
}

// splitFixed is the fallback: fixed-width windows stepping by size-overlap.
func (c *Chunker) splitFixed(text string) []Segment {
	step := c.size - c.overlap
	var segments []Segment
	for start := 0; start < len(text); {
		end := start + c.size
		if end >= len(text) {
			end = len(text)
		} else {
			end = runeFloor(text, end)
			if end <= start {
				_, w := utf8.DecodeRuneInString(text[start:])
				end = start + w
			}
		}
		segments = append(segments, Segment{Text: text[start:end], Start: start, End: end})
		if end == len(text) {
			break
		}

		next := runeFloor(text, start+step)
		if next <= start {
			next = end
		}
		start = next
	}
	return segments
}

func pickSeparator(text string, separators []string) (string, []string) {
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			return sep, separators[i+1:]
		}
	}
	return "", nil
}

// cutAfter splits s into contiguous pieces, each ending just after an
// occurrence of sep. An empty separator yields one piece per rune.
func cutAfter(text string, s span, sep string) []span {
	var pieces []span
	if sep == "" {
		for i := s.start; i < s.end; {
			_, w := utf8.DecodeRuneInString(text[i:s.end])
			pieces = append(pieces, span{i, i + w})
			i += w
		}
		return pieces
	}

	start := s.start
	for start < s.end {
		idx := strings.Index(text[start:s.end], sep)
		if idx < 0 {
			pieces = append(pieces, span{start, s.end})
			break
		}
		end := start + idx + len(sep)
		pieces = append(pieces, span{start, end})
		start = end
	}
	return pieces
}

// checkCoverage verifies that spans start at 0, end at n, never leave a gap
// and never move backwards.
func checkCoverage(spans []span, n int) error {
	if len(spans) == 0 {
		return fmt.Errorf("no spans produced")
	}
	if spans[0].start != 0 || spans[len(spans)-1].end != n {
		return fmt.Errorf("spans do not cover [0,%d)", n)
	}
	for i := 1; i < len(spans); i++ {
		prev, cur := spans[i-1], spans[i]
		if cur.start > prev.end || cur.start < prev.start || cur.end <= prev.end {
			return fmt.Errorf("span %d [%d,%d) does not follow [%d,%d)", i, cur.start, cur.end, prev.start, prev.end)
		}
	}
	return nil
}

func runeFloor(text string, i int) int {
	if i >= len(text) {
		return len(text)
	}
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}
