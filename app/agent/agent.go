package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"askpdf/model"
	"askpdf/ragerr"
	"askpdf/types"

	"go.uber.org/zap"
)

const (
	// Instruction is the system instruction sent with every question.
	Instruction = `You are an assistant that answers questions about uploaded documents.
Answer only from the context below. If the context does not contain the answer, say that the documents do not contain this information.
Do not make up facts, quotes or sources. Answer clearly and to the point, without introductions.`

	// ContextSeparator sits between retrieved chunks in the prompt.
	ContextSeparator = "\n\n---\n\n"

	DefaultMaxContextTokens = 6000
)

// Synthesizer turns a question and retrieved chunks into one model call.
type Synthesizer struct {
	gen       model.Generator
	counter   TokenCounter
	maxTokens int
	logger    *zap.Logger
}

func NewSynthesizer(gen model.Generator, counter TokenCounter, maxTokens int, logger *zap.Logger) *Synthesizer {
	if counter == nil {
		counter = NewTokenCounter(logger)
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	return &Synthesizer{
		gen:       gen,
		counter:   counter,
		maxTokens: maxTokens,
		logger:    logger.Named("agent"),
	}
}

// Synthesize asks the model once. The returned Answer lists the chunks that
// made it into the prompt.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, results []types.SearchResult) (types.Answer, error) {
	const op = "agent.synthesize"

	start := time.Now()
	used := s.budget(results)
	prompt := BuildPrompt(question, used)

	s.logger.Debug("sending prompt",
		zap.String("model", s.gen.Model()),
		zap.Int("chunks", len(used)),
		zap.Int("dropped", len(results)-len(used)),
		zap.Int("prompt_tokens", s.counter.Count(prompt.System)+s.counter.Count(prompt.User)),
	)

	text, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		if !ragerr.Has(err, ragerr.KindModel) {
			err = modelErr(err)
		}
		return types.Answer{}, ragerr.E(ragerr.KindSynthesis, op, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return types.Answer{}, ragerr.E(ragerr.KindSynthesis, op,
			ragerr.New(ragerr.KindModel, s.gen.Model(), "model returned an empty answer"))
	}

	s.logger.Info("answer generated", zap.Duration("took", time.Since(start)), zap.Int("chars", len(text)))
	return types.Answer{Text: text, Sources: used}, nil
}

// budget keeps chunks in retrieval order until the token budget is spent.
// The first chunk is always kept.
func (s *Synthesizer) budget(results []types.SearchResult) []types.SearchResult {
	if len(results) == 0 {
		return results
	}
	total := s.counter.Count(results[0].Chunk.Text)
	sep := s.counter.Count(ContextSeparator)
	n := 1
	for _, r := range results[1:] {
		cost := sep + s.counter.Count(r.Chunk.Text)
		if total+cost > s.maxTokens {
			break
		}
		total += cost
		n++
	}
	return results[:n]
}

// BuildPrompt is deterministic: the same question and chunks always give the
// same prompt.
func BuildPrompt(question string, results []types.SearchResult) model.Prompt {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Chunk.Text
	}
	return model.Prompt{
		System: Instruction + "\n\nContext:\n" + strings.Join(texts, ContextSeparator),
		User:   question,
	}
}

// modelErr classifies an error from a generator that did not wrap it. An
// interrupted call may succeed when asked again.
func modelErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ragerr.Transient(ragerr.KindModel, "agent.generate", err)
	}
	return ragerr.Permanent(ragerr.KindModel, "agent.generate", err)
}
