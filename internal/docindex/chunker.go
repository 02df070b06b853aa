package docindex

import (
	"sort"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
)

// Chunker splits text into overlapping windows that prefer to end on a
// natural boundary within Tolerance characters of the target size.
// Sizes count bytes of UTF-8 text; cuts never split a rune.
type Chunker struct {
	Size      int
	Overlap   int
	Tolerance int
}

// DefaultChunker returns the 1000/200/100 chunker.
func DefaultChunker() Chunker {
	return Chunker{Size: 1000, Overlap: 200, Tolerance: 100}
}

// Span is one chunk with its byte offsets in the source text.
type Span struct {
	Start, End int
	Text       string
}

// Split chunks text. Empty or whitespace-only chunks are dropped.
func (c Chunker) Split(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	size := c.Size
	if size <= 0 {
		size = 1000
	}
	overlap := min(max(c.Overlap, 0), size-1)
	tol := min(max(c.Tolerance, 0), size/2)

	sentenceEnds := sentenceBoundaries(text)

	var spans []Span
	start := 0
	for start < len(text) {
		end := len(text)
		if start+size < len(text) {
			end = c.cut(text, start+size, max(start+size-tol, start+1), sentenceEnds)
		}
		end = runeFloor(text, end)
		if end <= start {
			end = runeCeil(text, start+1)
		}

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			spans = append(spans, Span{Start: start, End: end, Text: chunk})
		}
		if end >= len(text) {
			break
		}

		next := max(end-overlap, start+1)
		start = nudgeToWord(text, runeCeil(text, next), end)
	}
	return spans
}

// cut picks the end of a window in [lo, hi]: after a paragraph break, a
// sentence end, a line break or whitespace, in that order, else hi.
func (c Chunker) cut(text string, hi, lo int, sentenceEnds []int) int {
	window := text[lo:hi]
	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return lo + i + 2
	}
	// Largest sentence end inside the window.
	j := sort.SearchInts(sentenceEnds, hi+1) - 1
	if j >= 0 && sentenceEnds[j] >= lo {
		return sentenceEnds[j]
	}
	if i := strings.LastIndex(window, "\n"); i >= 0 {
		return lo + i + 1
	}
	if i := strings.LastIndexFunc(window, unicode.IsSpace); i >= 0 {
		return lo + i + 1
	}
	return hi
}

// sentenceBoundaries returns ascending byte offsets just past each
// sentence found by the prose segmenter.
func sentenceBoundaries(text string) []int {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false),
	)
	if err != nil {
		return nil
	}
	var ends []int
	cursor := 0
	for _, s := range doc.Sentences() {
		st := strings.TrimSpace(s.Text)
		if st == "" {
			continue
		}
		i := strings.Index(text[cursor:], st)
		if i < 0 {
			continue
		}
		cursor += i + len(st)
		ends = append(ends, cursor)
	}
	return ends
}

// nudgeToWord moves pos forward to the start of the next word, but never
// to or past limit.
func nudgeToWord(text string, pos, limit int) int {
	if pos == 0 || pos >= limit {
		return pos
	}
	if isSpaceAt(text, pos-1) {
		return pos
	}
	for i := pos; i < limit; i++ {
		if isSpaceAt(text, i) {
			for i < limit && isSpaceAt(text, i) {
				i++
			}
			if i < limit {
				return i
			}
			return pos
		}
	}
	return pos
}

func isSpaceAt(text string, i int) bool {
	return i >= 0 && i < len(text) && text[i] < 0x80 && unicode.IsSpace(rune(text[i]))
}

func runeFloor(text string, i int) int {
	if i >= len(text) {
		return len(text)
	}
	for i > 0 && !isRuneStart(text[i]) {
		i--
	}
	return i
}

func runeCeil(text string, i int) int {
	for i < len(text) && !isRuneStart(text[i]) {
		i++
	}
	return min(i, len(text))
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
