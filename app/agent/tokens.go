package agent

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter estimates how many model tokens a text costs.
type TokenCounter interface {
	Count(text string) int
}

// TokenCounterFunc adapts a function to TokenCounter.
type TokenCounterFunc func(string) int

func (f TokenCounterFunc) Count(text string) int { return f(text) }

// RuneEstimate counts one token per four runes.
var RuneEstimate = TokenCounterFunc(func(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
})

type tiktokenCounter struct {
	logger *zap.Logger
	once   sync.Once
	enc    *tiktoken.Tiktoken
}

// NewTokenCounter counts with the cl100k_base encoding. The encoding is loaded
// on first use; if that fails the counter falls back to RuneEstimate.
func NewTokenCounter(logger *zap.Logger) TokenCounter {
	return &tiktokenCounter{logger: logger}
}

func (c *tiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.EncodingForModel("gpt-3.5-turbo")
		if err != nil {
			c.logger.Warn("tiktoken encoding unavailable, estimating tokens from length", zap.Error(err))
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return RuneEstimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}
