package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"askpdf/ragerr"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// geminiBatchLimit is the largest batch BatchEmbedContents accepts.
const geminiBatchLimit = 100

// Gemini wraps one genai client for both embeddings and generation.
type Gemini struct {
	client *genai.Client
}

func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &Gemini{client: client}, nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

type GeminiEmbedder struct {
	em      *genai.EmbeddingModel
	model   string
	timeout time.Duration
}

func (g *Gemini) Embedder(model string, timeout time.Duration) *GeminiEmbedder {
	return &GeminiEmbedder{em: g.client.EmbeddingModel(model), model: model, timeout: timeout}
}

func (e *GeminiEmbedder) Model() string {
	return "gemini/" + e.model
}

func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "gemini.embed"

	out := make([][]float32, 0, len(texts))
	for from := 0; from < len(texts); from += geminiBatchLimit {
		to := min(from+geminiBatchLimit, len(texts))

		batch := e.em.NewBatch()
		for _, t := range texts[from:to] {
			batch.AddContent(genai.Text(t))
		}

		cctx, cancel := withTimeout(ctx, e.timeout)
		resp, err := e.em.BatchEmbedContents(cctx, batch)
		cancel()
		if err != nil {
			return nil, failGemini(ragerr.KindEmbedding, op, err)
		}
		if len(resp.Embeddings) != to-from {
			return nil, errCount(op, len(resp.Embeddings), to-from)
		}
		for _, emb := range resp.Embeddings {
			if emb == nil {
				return nil, ragerr.New(ragerr.KindEmbedding, op, "missing embedding in response")
			}
			out = append(out, emb.Values)
		}
	}
	return out, nil
}

type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

func (g *Gemini) Generator(model string, temperature float32, timeout time.Duration) *GeminiGenerator {
	return &GeminiGenerator{client: g.client, model: model, temperature: temperature, timeout: timeout}
}

func (g *GeminiGenerator) Model() string {
	return "gemini/" + g.model
}

func (g *GeminiGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	const op = "gemini.generate"

	gm := g.client.GenerativeModel(g.model)
	gm.SetTemperature(g.temperature)
	gm.SystemInstruction = genai.NewUserContent(genai.Text(p.System))

	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := gm.GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		return "", failGemini(ragerr.KindModel, op, err)
	}

	var b strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	return b.String(), nil
}

func failGemini(kind ragerr.Kind, op string, err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return ragerr.Permanent(kind, op, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code > 0 {
		return classifyCode(kind, op, gerr.Code, err)
	}
	return fail(kind, op, err)
}
