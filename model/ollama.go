package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"askpdf/ragerr"
)

const DefaultOllamaURL = "http://localhost:11434"

// OllamaEmbedder creates embeddings through a local Ollama server, one
// request per text.
type OllamaEmbedder struct {
	apiURL  string
	model   string
	timeout time.Duration
	client  *http.Client
}

type OllamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type OllamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaEmbedder(baseURL, model string, timeout time.Duration) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaEmbedder{
		apiURL:  strings.TrimRight(baseURL, "/") + "/api/embeddings",
		model:   model,
		timeout: timeout,
		client:  http.DefaultClient,
	}
}

func (e *OllamaEmbedder) Model() string {
	return "ollama/" + e.model
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := e.embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	const op = "ollama.embed"

	body, err := json.Marshal(OllamaEmbeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, ragerr.Permanent(ragerr.KindEmbedding, op, fmt.Errorf("marshal request: %w", err))
	}

	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	respBody, err := postJSON(ctx, e.client, e.apiURL, body, ragerr.KindEmbedding, op)
	if err != nil {
		return nil, err
	}

	var resp OllamaEmbeddingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, ragerr.Permanent(ragerr.KindEmbedding, op, fmt.Errorf("unmarshal response: %w", err))
	}
	if len(resp.Embedding) == 0 {
		return nil, ragerr.New(ragerr.KindEmbedding, op, "empty embedding in response")
	}
	return normalize(resp.Embedding), nil
}

// OllamaGenerator answers prompts through Ollama's generate endpoint.
type OllamaGenerator struct {
	apiURL      string
	model       string
	temperature float32
	timeout     time.Duration
	client      *http.Client
}

type OllamaGenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type OllamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func NewOllamaGenerator(baseURL, model string, temperature float32, timeout time.Duration) *OllamaGenerator {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaGenerator{
		apiURL:      strings.TrimRight(baseURL, "/") + "/api/generate",
		model:       model,
		temperature: temperature,
		timeout:     timeout,
		client:      http.DefaultClient,
	}
}

func (g *OllamaGenerator) Model() string {
	return "ollama/" + g.model
}

func (g *OllamaGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	const op = "ollama.generate"

	body, err := json.Marshal(OllamaGenerateRequest{
		Model:   g.model,
		System:  p.System,
		Prompt:  p.User,
		Stream:  false,
		Options: map[string]any{"temperature": g.temperature},
	})
	if err != nil {
		return "", ragerr.Permanent(ragerr.KindModel, op, fmt.Errorf("marshal request: %w", err))
	}

	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	respBody, err := postJSON(ctx, g.client, g.apiURL, body, ragerr.KindModel, op)
	if err != nil {
		return "", err
	}

	var resp OllamaGenerateResponse
	if err := json.Unmarshal(respBody, &resp); err == nil && resp.Response != "" {
		return resp.Response, nil
	}

	// Some servers stream NDJSON even when asked not to.
	var b strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(respBody))
	for decoder.More() {
		var chunk OllamaGenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			return "", ragerr.Permanent(ragerr.KindModel, op, fmt.Errorf("decode response: %w", err))
		}
		b.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	return b.String(), nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte, kind ragerr.Kind, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.Permanent(kind, op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fail(kind, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(kind, op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, failStatus(kind, op, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
