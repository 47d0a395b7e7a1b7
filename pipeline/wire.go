package pipeline

import (
	"context"
	"fmt"
	"io"

	"askpdf/app/agent"
	"askpdf/chunker"
	"askpdf/config"
	"askpdf/extractor"
	"askpdf/metrics"
	"askpdf/model"
	"askpdf/store"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type closers []io.Closer

func (cs closers) Close() error {
	var err error
	for i := len(cs) - 1; i >= 0; i-- {
		err = multierr.Append(err, cs[i].Close())
	}
	return err
}

// FromConfig builds a Pipeline with the model clients, extractor and index
// store named by cfg. The returned closer releases their connections.
func FromConfig(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*Pipeline, io.Closer, error) {
	ch, err := chunker.New(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		return nil, nil, fmt.Errorf("chunker: %w", err)
	}

	clients, err := model.NewClients(ctx, cfg.Embedding, cfg.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("model clients: %w", err)
	}

	st, stCloser, err := store.Open(ctx, cfg, logger)
	if err != nil {
		_ = clients.Close()
		return nil, nil, fmt.Errorf("index store: %w", err)
	}

	logger.Info("pipeline configured",
		zap.String("embedder", clients.Embedder.Model()),
		zap.String("generator", clients.Generator.Model()),
		zap.String("backend", cfg.Index.Backend),
		zap.String("handle", cfg.Index.Handle),
		zap.Int("chunk_size", cfg.Chunker.Size),
		zap.Int("chunk_overlap", cfg.Chunker.Overlap),
	)

	p := New(Deps{
		Extractor:   extractor.NewDispatcher(extractor.NewPDF(cfg.Extractor.CropTop, cfg.Extractor.CropBottom, logger)),
		Chunker:     ch,
		Embedder:    clients.Embedder,
		Synthesizer: agent.NewSynthesizer(clients.Generator, agent.NewTokenCounter(logger), cfg.LLM.MaxContextTokens, logger),
		Store:       st,
		Metrics:     m,
		Logger:      logger,
	}, Options{
		DefaultHandle: cfg.Index.Handle,
		TopK:          cfg.Index.TopK,
		BatchSize:     cfg.Embedding.BatchSize,
		IngestTimeout: cfg.Pipeline.IngestTimeout,
		AskTimeout:    cfg.Pipeline.AskTimeout,
	})
	return p, closers{clients, stCloser}, nil
}
