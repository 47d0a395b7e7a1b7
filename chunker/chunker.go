// Package chunker splits extracted document text into overlapping chunks of
// bounded size.
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"askpdf/types"
)

const (
	DefaultSize    = 10000
	DefaultOverlap = 1000

	// PageSeparator joins the pages of one document before splitting.
	PageSeparator = "\n\n"
)

// Chunker cuts text at the largest structural boundary that keeps a chunk
// within Size runes. Each chunk after the first starts Overlap runes before
// the end of the previous one.
type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the chunk texts of text in order. Empty or whitespace-only
// text yields nil.
func (c *Chunker) Split(text string) []string {
	r := []rune(text)
	spans := c.spans(r)
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = string(r[s.start:s.end])
	}
	return out
}

// Chunk splits the pages of one document. IDs continue from firstID.
func (c *Chunker) Chunk(doc types.Document, units []types.TextUnit, firstID int) []types.Chunk {
	var (
		b      strings.Builder
		starts []int // rune offset of each kept page
		pages  []int
		offset int
	)
	for _, u := range units {
		if strings.TrimSpace(u.Text) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(PageSeparator)
			offset += len([]rune(PageSeparator))
		}
		starts = append(starts, offset)
		pages = append(pages, u.Page)
		b.WriteString(u.Text)
		offset += len([]rune(u.Text))
	}

	r := []rune(b.String())
	spans := c.spans(r)
	chunks := make([]types.Chunk, 0, len(spans))
	for i, s := range spans {
		chunks = append(chunks, types.Chunk{
			ID:   firstID + i,
			Text: string(r[s.start:s.end]),
			Source: types.SourceRef{
				DocumentID: doc.ID,
				Document:   doc.Name,
				Page:       pageAt(starts, pages, s.start),
				Position:   i,
			},
		})
	}
	return chunks
}

// Pages is the extracted text of one document.
type Pages struct {
	Document types.Document
	Units    []types.TextUnit
}

// ChunkDocuments chunks a batch in order. IDs start at 1 and increase across
// document boundaries.
func (c *Chunker) ChunkDocuments(docs []Pages) []types.Chunk {
	var out []types.Chunk
	for _, d := range docs {
		out = append(out, c.Chunk(d.Document, d.Units, len(out)+1)...)
	}
	return out
}

type span struct{ start, end int }

func (c *Chunker) spans(r []rune) []span {
	if strings.TrimSpace(string(r)) == "" {
		return nil
	}

	var out []span
	start := 0
	for {
		if len(r)-start <= c.size {
			return append(out, span{start, len(r)})
		}
		end := c.breakPoint(r, start)
		out = append(out, span{start, end})
		start = end - c.overlap
	}
}

// breakPoint picks the end of the chunk starting at start. The result is
// always greater than start+overlap, so the next chunk makes progress.
func (c *Chunker) breakPoint(r []rune, start int) int {
	limit := start + c.size
	lo := start + c.overlap + 1
	if half := start + c.size/2; half > lo {
		lo = half
	}
	for _, sep := range separators {
		for end := limit; end >= lo; end-- {
			if sep(r, end) {
				return end
			}
		}
	}
	return limit
}

// separator reports whether a boundary of its kind ends right before r[end].
type separator func(r []rune, end int) bool

var separators = []separator{
	// paragraph
	func(r []rune, end int) bool {
		return end >= 2 && r[end-1] == '\n' && r[end-2] == '\n'
	},
	// line
	func(r []rune, end int) bool {
		return r[end-1] == '\n'
	},
	// sentence
	func(r []rune, end int) bool {
		return end >= 2 && unicode.IsSpace(r[end-1]) && strings.ContainsRune(".!?;", r[end-2])
	},
	// word
	func(r []rune, end int) bool {
		return unicode.IsSpace(r[end-1])
	},
}

func pageAt(starts, pages []int, offset int) int {
	page := 0
	for i, s := range starts {
		if s > offset {
			break
		}
		page = pages[i]
	}
	return page
}
