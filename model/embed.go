package model

import (
	"context"
	"math"
)

// Embedder maps texts to vectors, one per input and in input order.
type Embedder interface {
	// Model identifies the embedding model. It is stored with every index and
	// compared at query time.
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Prompt is what a Generator sends to the language model.
type Prompt struct {
	System string
	User   string
}

// Generator produces one answer per call.
type Generator interface {
	Model() string
	Generate(ctx context.Context, p Prompt) (string, error)
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, errCount("embed", len(vectors), 1)
	}
	return vectors[0], nil
}

// normalize scales vec to unit length in place and converts it to float32.
func normalize(vec []float64) []float32 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	norm := math.Sqrt(sum)

	out := make([]float32, len(vec))
	for i, x := range vec {
		if norm == 0 {
			out[i] = float32(x)
			continue
		}
		out[i] = float32(x / norm)
	}
	return out
}
