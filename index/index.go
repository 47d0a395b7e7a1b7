// Package index holds the vector index: chunk embeddings, the metadata needed
// to query them safely, and brute-force cosine search.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"askpdf/ragerr"
	"askpdf/types"

	"github.com/google/uuid"
)

const (
	DefaultHandle = "uploaded_vectors"
	MetricCosine  = "cosine"
)

// Store persists whole indexes under a handle. Save replaces any previous
// index at the handle atomically; Load returns a ragerr.KindIndexNotFound
// error when nothing was saved.
type Store interface {
	Save(ctx context.Context, ix *Index) error
	Load(ctx context.Context, handle string) (*Index, error)
}

type DocumentInfo struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Pages  int       `json:"pages"`
	Chunks int       `json:"chunks"`
}

type Metadata struct {
	BuildID        uuid.UUID      `json:"build_id"`
	EmbeddingModel string         `json:"embedding_model"`
	Dimension      int            `json:"dimension"`
	Metric         string         `json:"metric"`
	ChunkCount     int            `json:"chunk_count"`
	Documents      []DocumentInfo `json:"documents"`
	CreatedAt      time.Time      `json:"created_at"`
}

type Entry struct {
	Chunk  types.Chunk `json:"chunk"`
	Vector []float32   `json:"vector"`
}

type Index struct {
	Handle  string   `json:"handle"`
	Meta    Metadata `json:"meta"`
	Entries []Entry  `json:"entries"`
}

func (ix *Index) Len() int {
	return len(ix.Entries)
}

// CheckModel rejects queries embedded with a different model than the index.
func (ix *Index) CheckModel(model string) error {
	if ix.Meta.EmbeddingModel != model {
		return ragerr.New(ragerr.KindIndexMismatch, "index.check_model",
			fmt.Sprintf("index %q was built with embedding model %q, query uses %q", ix.Handle, ix.Meta.EmbeddingModel, model))
	}
	return nil
}

// Search returns up to k entries most similar to query, best first. Ties are
// ordered by chunk id.
func (ix *Index) Search(query []float32, k int) ([]types.SearchResult, error) {
	if len(ix.Entries) == 0 || k <= 0 {
		return []types.SearchResult{}, nil
	}
	if len(query) != ix.Meta.Dimension {
		return nil, ragerr.New(ragerr.KindIndexMismatch, "index.search",
			fmt.Sprintf("query has dimension %d, index %q has %d", len(query), ix.Handle, ix.Meta.Dimension))
	}

	qn := norm(query)
	results := make([]types.SearchResult, 0, len(ix.Entries))
	for _, e := range ix.Entries {
		results = append(results, types.SearchResult{
			Chunk: e.Chunk,
			Score: cosine(query, qn, e.Vector),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Validate checks the structural invariants a loaded index must satisfy.
func (ix *Index) Validate() error {
	if ix.Handle == "" {
		return fmt.Errorf("index has no handle")
	}
	if ix.Meta.ChunkCount != len(ix.Entries) {
		return fmt.Errorf("index %q: metadata counts %d chunks, found %d", ix.Handle, ix.Meta.ChunkCount, len(ix.Entries))
	}
	for i, e := range ix.Entries {
		if len(e.Vector) != ix.Meta.Dimension {
			return fmt.Errorf("index %q: entry %d has dimension %d, want %d", ix.Handle, i, len(e.Vector), ix.Meta.Dimension)
		}
	}
	return nil
}

func cosine(q []float32, qn float64, v []float32) float64 {
	vn := norm(v)
	if qn == 0 || vn == 0 {
		return 0
	}
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
	}
	return dot / (qn * vn)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
