package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"askpdf/ragerr"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder talks to the OpenAI embeddings API or any compatible server.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func NewOpenAIEmbedder(apiKey, baseURL, model string, timeout time.Duration) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client:  newOpenAIClient(apiKey, baseURL),
		model:   model,
		timeout: timeout,
	}
}

func (e *OpenAIEmbedder) Model() string {
	return "openai/" + e.model
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "openai.embed"
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, failOpenAI(ragerr.KindEmbedding, op, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, errCount(op, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, ragerr.New(ragerr.KindEmbedding, op, fmt.Sprintf("embedding index %d out of range", d.Index))
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// OpenAIGenerator answers prompts with the chat completions API.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

func NewOpenAIGenerator(apiKey, baseURL, model string, temperature float32, timeout time.Duration) *OpenAIGenerator {
	return &OpenAIGenerator{
		client:      newOpenAIClient(apiKey, baseURL),
		model:       model,
		temperature: temperature,
		timeout:     timeout,
	}
}

func (g *OpenAIGenerator) Model() string {
	return "openai/" + g.model
}

func (g *OpenAIGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	const op = "openai.chat"

	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: g.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
	})
	if err != nil {
		return "", failOpenAI(ragerr.KindModel, op, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func failOpenAI(kind ragerr.Kind, op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return classifyCode(kind, op, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return classifyCode(kind, op, reqErr.HTTPStatusCode, err)
	}
	return fail(kind, op, err)
}

func classifyCode(kind ragerr.Kind, op string, code int, err error) error {
	if retryableStatus(code) {
		return ragerr.Transient(kind, op, err)
	}
	return ragerr.Permanent(kind, op, err)
}
