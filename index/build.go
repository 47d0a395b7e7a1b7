package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"askpdf/model"
	"askpdf/ragerr"
	"askpdf/types"

	"github.com/google/uuid"
)

const DefaultBatchSize = 16

type BuildOptions struct {
	BatchSize int
	Documents []DocumentInfo
}

// Build embeds every chunk and returns the in-memory index. Either all chunks
// are embedded or an IndexBuildError is returned.
func Build(ctx context.Context, handle string, chunks []types.Chunk, embedder model.Embedder, opts BuildOptions) (*Index, error) {
	const op = "index.build"

	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	ix := &Index{
		Handle: handle,
		Meta: Metadata{
			BuildID:        uuid.New(),
			EmbeddingModel: embedder.Model(),
			Metric:         MetricCosine,
			ChunkCount:     len(chunks),
			Documents:      opts.Documents,
			CreatedAt:      time.Now().UTC(),
		},
		Entries: make([]Entry, 0, len(chunks)),
	}

	for from := 0; from < len(chunks); from += batch {
		if err := ctx.Err(); err != nil {
			return nil, ragerr.Transient(ragerr.KindIndexBuild, op, err)
		}

		to := min(from+batch, len(chunks))
		texts := make([]string, 0, to-from)
		for _, c := range chunks[from:to] {
			texts = append(texts, c.Text)
		}

		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return nil, ragerr.E(ragerr.KindIndexBuild, op, fmt.Errorf("embed chunks %d-%d: %w", chunks[from].ID, chunks[to-1].ID, err))
		}
		if len(vectors) != len(texts) {
			return nil, ragerr.E(ragerr.KindIndexBuild, op, ragerr.New(ragerr.KindEmbedding, op,
				fmt.Sprintf("embedding service returned %d vectors for %d inputs", len(vectors), len(texts))))
		}

		for i, v := range vectors {
			if len(v) == 0 {
				return nil, ragerr.E(ragerr.KindIndexBuild, op, ragerr.New(ragerr.KindEmbedding, op,
					fmt.Sprintf("empty vector for chunk %d", chunks[from+i].ID)))
			}
			if ix.Meta.Dimension == 0 {
				ix.Meta.Dimension = len(v)
			}
			if len(v) != ix.Meta.Dimension {
				return nil, ragerr.E(ragerr.KindIndexBuild, op, ragerr.New(ragerr.KindEmbedding, op,
					fmt.Sprintf("chunk %d has dimension %d, want %d", chunks[from+i].ID, len(v), ix.Meta.Dimension)))
			}
			ix.Entries = append(ix.Entries, Entry{Chunk: chunks[from+i], Vector: v})
		}
	}

	return ix, nil
}

// BuildAndPersist builds the index and writes it to store in a single call.
func BuildAndPersist(ctx context.Context, store Store, handle string, chunks []types.Chunk, embedder model.Embedder, opts BuildOptions) (*Index, error) {
	ix, err := Build(ctx, handle, chunks, embedder, opts)
	if err != nil {
		return nil, err
	}
	if err := store.Save(ctx, ix); err != nil {
		return nil, ragerr.E(ragerr.KindIndexBuild, "index.persist", err)
	}
	return ix, nil
}

// Load reads the index stored at handle.
func Load(ctx context.Context, store Store, handle string) (*Index, error) {
	ix, err := store.Load(ctx, handle)
	if err != nil {
		var rerr *ragerr.Error
		if errors.As(err, &rerr) {
			return nil, err
		}
		return nil, ragerr.Transient(ragerr.KindStorage, "index.load", err)
	}
	if err := ix.Validate(); err != nil {
		return nil, ragerr.Permanent(ragerr.KindStorage, "index.load", err)
	}
	return ix, nil
}
