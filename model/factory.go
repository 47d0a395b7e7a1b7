package model

import (
	"context"
	"fmt"
	"io"

	"askpdf/config"

	"go.uber.org/multierr"
)

// Clients holds the configured embedder and generator. Close releases any
// shared provider client.
type Clients struct {
	Embedder  Embedder
	Generator Generator
	closers   []io.Closer
}

func (c *Clients) Close() error {
	var err error
	for _, cl := range c.closers {
		err = multierr.Append(err, cl.Close())
	}
	return err
}

// NewClients builds the embedder and generator named by the configuration.
func NewClients(ctx context.Context, emb config.EmbeddingConfig, llm config.LLMConfig) (*Clients, error) {
	c := &Clients{}
	var gemini *Gemini

	geminiClient := func(key string) (*Gemini, error) {
		if gemini != nil {
			return gemini, nil
		}
		g, err := NewGemini(ctx, key)
		if err != nil {
			return nil, err
		}
		gemini = g
		c.closers = append(c.closers, g)
		return g, nil
	}

	switch emb.Provider {
	case "gemini":
		g, err := geminiClient(emb.APIKey)
		if err != nil {
			return nil, err
		}
		c.Embedder = g.Embedder(emb.Model, emb.Timeout)
	case "openai":
		c.Embedder = NewOpenAIEmbedder(emb.APIKey, emb.BaseURL, emb.Model, emb.Timeout)
	case "ollama":
		c.Embedder = NewOllamaEmbedder(emb.BaseURL, emb.Model, emb.Timeout)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", emb.Provider)
	}
	c.Embedder = NewLimitedEmbedder(c.Embedder, emb.RateLimit)

	switch llm.Provider {
	case "gemini":
		key := llm.APIKey
		if key == "" {
			key = emb.APIKey
		}
		g, err := geminiClient(key)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.Generator = g.Generator(llm.Model, llm.Temperature, llm.Timeout)
	case "openai":
		c.Generator = NewOpenAIGenerator(llm.APIKey, llm.BaseURL, llm.Model, llm.Temperature, llm.Timeout)
	case "ollama":
		c.Generator = NewOllamaGenerator(llm.BaseURL, llm.Model, llm.Temperature, llm.Timeout)
	default:
		_ = c.Close()
		return nil, fmt.Errorf("unknown llm provider %q", llm.Provider)
	}

	return c, nil
}
