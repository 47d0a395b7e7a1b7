package model

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"askpdf/ragerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbedderNormalizes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req OllamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		_ = json.NewEncoder(w).Encode(OllamaEmbeddingResponse{Embedding: []float64{3, 4}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "nomic-embed-text", time.Second)
	assert.Equal(t, "ollama/nomic-embed-text", e.Model())

	vectors, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.EqualValues(t, 2, calls.Load())
	assert.InDelta(t, 0.6, vectors[0][0], 1e-6)
	assert.InDelta(t, 0.8, vectors[0][1], 1e-6)
}

func TestOllamaEmbedderStatusClassification(t *testing.T) {
	for _, tt := range []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))

		_, err := NewOllamaEmbedder(srv.URL, "m", time.Second).Embed(context.Background(), []string{"x"})
		srv.Close()

		require.Error(t, err)
		assert.True(t, ragerr.Has(err, ragerr.KindEmbedding))
		assert.Equal(t, tt.retryable, ragerr.IsRetryable(err), "status %d", tt.status)
	}
}

func TestOllamaGeneratorSingleResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OllamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "system text", req.System)
		assert.Equal(t, "question?", req.Prompt)
		assert.False(t, req.Stream)
		_ = json.NewEncoder(w).Encode(OllamaGenerateResponse{Response: "answer", Done: true})
	}))
	defer srv.Close()

	g := NewOllamaGenerator(srv.URL, "llama3", 0.3, time.Second)
	out, err := g.Generate(context.Background(), Prompt{System: "system text", User: "question?"})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
}

func TestOllamaGeneratorStreamedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"","done":false}` + "\n" + `{"response":"Hel","done":false}` + "\n" + `{"response":"lo","done":true}` + "\n"))
	}))
	defer srv.Close()

	out, err := NewOllamaGenerator(srv.URL, "llama3", 0.3, time.Second).Generate(context.Background(), Prompt{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
}

func TestOllamaGeneratorTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator(srv.URL, "llama3", 0.3, 50*time.Millisecond).Generate(context.Background(), Prompt{User: "hi"})
	require.Error(t, err)
	assert.True(t, ragerr.Has(err, ragerr.KindModel))
	assert.True(t, ragerr.IsRetryable(err))
}

type countingEmbedder struct{ calls int }

func (c *countingEmbedder) Model() string { return "fake/count" }

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func TestLimitedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	assert.Same(t, Embedder(inner), NewLimitedEmbedder(inner, 0))

	limited := NewLimitedEmbedder(inner, 1000)
	assert.Equal(t, "fake/count", limited.Model())

	for i := 0; i < 3; i++ {
		_, err := limited.Embed(context.Background(), []string{"x"})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, inner.calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewLimitedEmbedder(inner, 0.001)
	_, _ = slow.Embed(context.Background(), []string{"x"})
	_, err := slow.Embed(ctx, []string{"x"})
	require.Error(t, err)
	assert.True(t, ragerr.Has(err, ragerr.KindEmbedding))
}

func TestEmbedOne(t *testing.T) {
	v, err := EmbedOne(context.Background(), &countingEmbedder{}, "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, v)
}

func TestNormalizeZeroVector(t *testing.T) {
	out := normalize([]float64{0, 0})
	assert.Equal(t, []float32{0, 0}, out)

	out = normalize([]float64{1, 1})
	assert.InDelta(t, 1/math.Sqrt2, out[0], 1e-6)
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, retryableStatus(408))
	assert.True(t, retryableStatus(425))
	assert.True(t, retryableStatus(502))
	assert.False(t, retryableStatus(401))
	assert.False(t, retryableStatus(422))
}
