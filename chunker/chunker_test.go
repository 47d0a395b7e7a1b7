package chunker

import (
	"math/rand"
	"strings"
	"testing"

	"askpdf/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGuards(t *testing.T) {
	_, err := New(0, 0)
	require.Error(t, err)
	_, err = New(100, -1)
	require.Error(t, err)
	_, err = New(100, 100)
	require.Error(t, err)
	_, err = New(100, 200)
	require.Error(t, err)

	c, err := New(DefaultSize, DefaultOverlap)
	require.NoError(t, err)
	assert.Equal(t, 10000, c.Size())
	assert.Equal(t, 1000, c.Overlap())
}

func TestShortTextIsOneChunk(t *testing.T) {
	c, err := New(50, 10)
	require.NoError(t, err)

	for _, text := range []string{"a", "hello world", strings.Repeat("x", 50), "  padded text\n"} {
		got := c.Split(text)
		require.Len(t, got, 1, text)
		assert.Equal(t, text, got[0])
	}
}

func TestEmptyText(t *testing.T) {
	c, err := New(50, 10)
	require.NoError(t, err)

	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split(" \n\t\n "))
}

func TestLongTextReconstructsAndOverlaps(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	words := []string{"alpha", "beta", "gamma.", "delta", "épsilon", "zeta!", "eta\n", "theta\n\n", "iota;", "кappa"}

	for _, cfg := range []struct{ size, overlap int }{{40, 0}, {64, 8}, {100, 30}, {120, 59}, {200, 150}} {
		c, err := New(cfg.size, cfg.overlap)
		require.NoError(t, err)

		for round := 0; round < 20; round++ {
			var b strings.Builder
			for b.Len() < 3000 {
				b.WriteString(words[rng.Intn(len(words))])
				b.WriteString(" ")
			}
			text := b.String()

			chunks := c.Split(text)
			require.Greater(t, len(chunks), 1)

			var rebuilt strings.Builder
			for i, ch := range chunks {
				r := []rune(ch)
				require.LessOrEqual(t, len(r), cfg.size)
				if i == 0 {
					rebuilt.WriteString(ch)
					continue
				}
				prev := []rune(chunks[i-1])
				require.GreaterOrEqual(t, len(r), cfg.overlap)
				assert.Equal(t, string(prev[len(prev)-cfg.overlap:]), string(r[:cfg.overlap]))
				rebuilt.WriteString(string(r[cfg.overlap:]))
			}
			assert.Equal(t, text, rebuilt.String())
		}
	}
}

func TestPrefersParagraphBreaks(t *testing.T) {
	c, err := New(60, 5)
	require.NoError(t, err)

	first := strings.Repeat("a", 20) + ". " + strings.Repeat("b", 15) + "\n\n"
	text := first + strings.Repeat("c ", 40)

	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, first, chunks[0])
}

func TestHardCutWithoutSeparators(t *testing.T) {
	c, err := New(10, 2)
	require.NoError(t, err)

	chunks := c.Split(strings.Repeat("x", 25))
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[1], 10)
	assert.Len(t, chunks[2], 9)
}

func TestChunkDocumentPagesAndIDs(t *testing.T) {
	c, err := New(40, 4)
	require.NoError(t, err)

	doc := types.Document{ID: uuid.New(), Name: "guide.pdf"}
	units := []types.TextUnit{
		{Page: 1, Text: strings.Repeat("one ", 10)},
		{Page: 2, Text: "   "},
		{Page: 3, Text: strings.Repeat("three ", 10)},
	}

	chunks := c.Chunk(doc, units, 7)
	require.NotEmpty(t, chunks)

	assert.Equal(t, 7, chunks[0].ID)
	assert.Equal(t, 1, chunks[0].Source.Page)
	assert.Equal(t, 3, chunks[len(chunks)-1].Source.Page)
	for i, ch := range chunks {
		assert.Equal(t, 7+i, ch.ID)
		assert.Equal(t, i, ch.Source.Position)
		assert.Equal(t, doc.ID, ch.Source.DocumentID)
		assert.Equal(t, "guide.pdf", ch.Source.Document)
	}
}

func TestChunkDocumentEmpty(t *testing.T) {
	c, err := New(40, 4)
	require.NoError(t, err)

	assert.Empty(t, c.Chunk(types.Document{Name: "blank.pdf"}, []types.TextUnit{{Page: 1, Text: ""}}, 1))
	assert.Empty(t, c.Chunk(types.Document{Name: "none.pdf"}, nil, 1))
}

func TestChunkDocumentsNumbersAcrossBatch(t *testing.T) {
	c, err := New(20, 2)
	require.NoError(t, err)

	a := types.Document{ID: uuid.New(), Name: "a.pdf"}
	b := types.Document{ID: uuid.New(), Name: "b.pdf"}
	chunks := c.ChunkDocuments([]Pages{
		{Document: a, Units: []types.TextUnit{{Page: 1, Text: strings.Repeat("alpha ", 8)}}},
		{Document: types.Document{Name: "empty.pdf"}},
		{Document: b, Units: []types.TextUnit{{Page: 1, Text: "short"}}},
	})
	require.NotEmpty(t, chunks)

	for i, ch := range chunks {
		assert.Equal(t, i+1, ch.ID)
	}
	last := chunks[len(chunks)-1]
	assert.Equal(t, "b.pdf", last.Source.Document)
	assert.Equal(t, "short", last.Text)
	assert.Equal(t, 0, last.Source.Position)
}
