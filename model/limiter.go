package model

import (
	"context"

	"askpdf/ragerr"

	"golang.org/x/time/rate"
)

// LimitedEmbedder waits for the limiter before every call to the wrapped
// embedder.
type LimitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
}

// NewLimitedEmbedder allows perSecond calls with a burst of one. A
// non-positive rate returns next unchanged.
func NewLimitedEmbedder(next Embedder, perSecond float64) Embedder {
	if perSecond <= 0 {
		return next
	}
	return &LimitedEmbedder{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

func (l *LimitedEmbedder) Model() string {
	return l.next.Model()
}

func (l *LimitedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, ragerr.Transient(ragerr.KindEmbedding, "embed.limit", err)
	}
	return l.next.Embed(ctx, texts)
}
