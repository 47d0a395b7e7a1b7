// Package modeltest provides in-process embedders and generators for tests.
package modeltest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"askpdf/model"
)

// Embedder hashes lowercase words into Dim buckets and normalizes the result,
// so texts sharing words score high under cosine similarity.
type Embedder struct {
	Name string
	Dim  int
	// Err, when set, is returned by every Embed call.
	Err error

	mu    sync.Mutex
	calls [][]string
}

func NewEmbedder(name string, dim int) *Embedder {
	return &Embedder{Name: name, Dim: dim}
}

func (e *Embedder) Model() string { return e.Name }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string(nil), texts...))
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

// Calls returns the batches passed to Embed so far.
func (e *Embedder) Calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]string(nil), e.calls...)
}

func (e *Embedder) vector(text string) []float32 {
	v := make([]float64, e.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[int(h.Sum32())%e.Dim]++
	}

	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	out := make([]float32, e.Dim)
	for i, x := range v {
		if norm > 0 {
			out[i] = float32(x / norm)
		}
	}
	return out
}

// Generator returns Reply (or Err) and records every prompt it receives.
type Generator struct {
	Name  string
	Reply string
	Err   error

	mu      sync.Mutex
	prompts []model.Prompt
}

func (g *Generator) Model() string { return g.Name }

func (g *Generator) Generate(ctx context.Context, p model.Prompt) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return g.Reply, g.Err
}

func (g *Generator) Prompts() []model.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.Prompt(nil), g.prompts...)
}
