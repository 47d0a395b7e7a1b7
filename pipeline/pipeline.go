// Package pipeline wires extraction, chunking, embedding, the vector index and
// answer synthesis into the two entry points of the service: Ingest and Ask.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"askpdf/chunker"
	"askpdf/extractor"
	"askpdf/index"
	"askpdf/metrics"
	"askpdf/model"
	"askpdf/ragerr"
	"askpdf/types"

	"go.uber.org/zap"
)

// Messages shown to people asking questions.
const (
	MsgNoDocuments   = "No documents have been uploaded yet. Upload a PDF and ask again."
	MsgModelMismatch = "The uploaded documents were indexed with a different embedding model. Upload them again and retry."
	MsgEmptyQuestion = "Question must not be empty."
	MsgBadHandle     = "Index name is not valid."
	MsgUnavailable   = "The question could not be answered right now."
)

// Synthesizer produces the final answer from retrieved chunks.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, results []types.SearchResult) (types.Answer, error)
}

type Deps struct {
	Extractor   extractor.Extractor
	Chunker     *chunker.Chunker
	Embedder    model.Embedder
	Synthesizer Synthesizer
	Store       index.Store
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

type Options struct {
	DefaultHandle string
	TopK          int
	BatchSize     int
	IngestTimeout time.Duration
	AskTimeout    time.Duration
}

type Pipeline struct {
	Deps
	opts  Options
	locks *keyedMutex
	log   *zap.Logger
}

func New(deps Deps, opts Options) *Pipeline {
	if opts.DefaultHandle == "" {
		opts.DefaultHandle = index.DefaultHandle
	}
	if opts.TopK <= 0 {
		opts.TopK = 4
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{
		Deps:  deps,
		opts:  opts,
		locks: newKeyedMutex(),
		log:   deps.Logger.Named("pipeline"),
	}
}

func (p *Pipeline) DefaultHandle() string { return p.opts.DefaultHandle }

var (
	errBadHandle     = ragerr.New(ragerr.KindInvalidInput, "pipeline.handle", "invalid index handle")
	errEmptyQuestion = ragerr.New(ragerr.KindInvalidInput, "pipeline.ask", "empty question")
)

func (p *Pipeline) handle(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return p.opts.DefaultHandle, nil
	}
	if !types.ValidHandle(h) {
		return "", errBadHandle
	}
	return h, nil
}

// logHandle is the handle an entry point resolved h to, or h itself when it
// is invalid.
func (p *Pipeline) logHandle(h string) string {
	if resolved, err := p.handle(h); err == nil {
		return resolved
	}
	return h
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Ingest replaces the index at handle with one built from docs. Either the new
// index is fully persisted or the previous one stays in place. Ingests of the
// same handle run one at a time.
func (p *Pipeline) Ingest(ctx context.Context, handle string, docs []types.Document) (*types.IngestReport, error) {
	const op = "pipeline.ingest"
	start := time.Now()

	report, err := p.ingest(ctx, handle, docs)
	if err != nil {
		err = ragerr.E(ragerr.KindIngest, op, err)
		p.log.Error("ingest failed",
			zap.String("handle", p.logHandle(handle)),
			zap.Int("documents", len(docs)),
			zap.String("kind", ragerr.Root(err).String()),
			zap.String("document", ragerr.DocumentOf(err)),
			zap.Bool("retryable", ragerr.IsRetryable(err)),
			zap.Error(err),
		)
		p.Metrics.ObserveIngest(metrics.OutcomeError, time.Since(start))
		return nil, err
	}

	took := time.Since(start)
	report.Took = took.Round(time.Millisecond).String()
	p.Metrics.ObserveIngest(metrics.OutcomeOK, took)
	p.Metrics.SetIndexChunks(report.Handle, report.Chunks)
	p.log.Info("ingest finished",
		zap.String("handle", report.Handle),
		zap.String("build_id", report.BuildID.String()),
		zap.Int("documents", report.Documents),
		zap.Int("pages", report.Pages),
		zap.Int("chunks", report.Chunks),
		zap.Duration("took", took),
	)
	return report, nil
}

func (p *Pipeline) ingest(ctx context.Context, handle string, docs []types.Document) (*types.IngestReport, error) {
	handle, err := p.handle(handle)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ragerr.New(ragerr.KindInvalidInput, "pipeline.ingest", "no documents to ingest")
	}

	ctx, cancel := withTimeout(ctx, p.opts.IngestTimeout)
	defer cancel()

	unlock, err := p.locks.Lock(ctx, handle)
	if err != nil {
		return nil, ragerr.Transient(ragerr.KindIngest, "pipeline.lock", err)
	}
	defer unlock()

	extracted := make([]chunker.Pages, 0, len(docs))
	pages := 0
	for _, doc := range docs {
		units, err := p.Extractor.Extract(ctx, doc)
		if err != nil {
			return nil, documentErr(err, doc)
		}
		if !hasText(units) {
			return nil, ragerr.New(ragerr.KindNoContent, "pipeline.extract", "document contains no extractable text").
				WithDocument(doc.Name).
				WithDocumentID(doc.ID.String())
		}
		p.log.Debug("document extracted", zap.String("document", doc.Name), zap.Int("pages", len(units)))
		pages += len(units)
		extracted = append(extracted, chunker.Pages{Document: doc, Units: units})
	}

	chunks := p.Chunker.ChunkDocuments(extracted)
	if len(chunks) == 0 {
		return nil, ragerr.New(ragerr.KindNoContent, "pipeline.chunk", "no content to index")
	}

	infos := documentInfos(extracted, chunks)
	ix, err := index.BuildAndPersist(ctx, p.Store, handle, chunks, p.Embedder, index.BuildOptions{
		BatchSize: p.opts.BatchSize,
		Documents: infos,
	})
	if err != nil {
		return nil, err
	}

	return &types.IngestReport{
		Handle:    handle,
		BuildID:   ix.Meta.BuildID,
		Documents: len(docs),
		Pages:     pages,
		Chunks:    ix.Len(),
		Model:     ix.Meta.EmbeddingModel,
	}, nil
}

// documentErr names doc in err and records its id on the outermost *ragerr.Error.
func documentErr(err error, doc types.Document) error {
	if ragerr.DocumentOf(err) == "" {
		err = ragerr.E(ragerr.KindExtraction, "pipeline.extract", err).WithDocument(doc.Name)
	}
	var e *ragerr.Error
	if errors.As(err, &e) {
		e.DocumentID = doc.ID.String()
	}
	return err
}

func hasText(units []types.TextUnit) bool {
	for _, u := range units {
		if strings.TrimSpace(u.Text) != "" {
			return true
		}
	}
	return false
}

// documentInfos relies on every document contributing at least one chunk,
// numbered from position 0.
func documentInfos(docs []chunker.Pages, chunks []types.Chunk) []index.DocumentInfo {
	infos := make([]index.DocumentInfo, len(docs))
	for i, d := range docs {
		infos[i] = index.DocumentInfo{ID: d.Document.ID, Name: d.Document.Name, Pages: len(d.Units)}
	}
	cur := -1
	for _, c := range chunks {
		if c.Source.Position == 0 && cur+1 < len(infos) {
			cur++
		}
		if cur >= 0 {
			infos[cur].Chunks++
		}
	}
	return infos
}

// Ask answers question from the index at handle. Failures are reported in the
// result, never as an error.
func (p *Pipeline) Ask(ctx context.Context, handle, question string) types.AskResult {
	const op = "pipeline.ask"
	start := time.Now()

	answer, err := p.ask(ctx, handle, question)
	outcome := metrics.OutcomeOK
	var res types.AskResult
	if err != nil {
		err = ragerr.E(ragerr.KindAsk, op, err)
		res = failure(err)
		outcome = askOutcome(err)
		p.log.Warn("question not answered",
			zap.String("handle", p.logHandle(handle)),
			zap.String("outcome", outcome),
			zap.String("kind", res.Kind),
			zap.Bool("retryable", res.Retryable),
			zap.Error(err),
		)
	} else {
		res = types.AskResult{Success: true, Response: answer.Text, Sources: sources(answer.Sources)}
		p.log.Info("question answered",
			zap.String("handle", p.logHandle(handle)),
			zap.Int("sources", len(res.Sources)),
			zap.Duration("took", time.Since(start)),
		)
	}
	p.Metrics.ObserveAsk(outcome, time.Since(start))
	return res
}

func (p *Pipeline) ask(ctx context.Context, handle, question string) (types.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return types.Answer{}, errEmptyQuestion
	}
	handle, err := p.handle(handle)
	if err != nil {
		return types.Answer{}, err
	}

	ctx, cancel := withTimeout(ctx, p.opts.AskTimeout)
	defer cancel()

	ix, err := index.Load(ctx, p.Store, handle)
	if err != nil {
		return types.Answer{}, err
	}
	if err := ix.CheckModel(p.Embedder.Model()); err != nil {
		return types.Answer{}, err
	}

	vec, err := model.EmbedOne(ctx, p.Embedder, question)
	if err != nil {
		return types.Answer{}, err
	}
	results, err := ix.Search(vec, p.opts.TopK)
	if err != nil {
		return types.Answer{}, err
	}
	p.log.Debug("retrieved chunks", zap.String("handle", handle), zap.Int("results", len(results)))

	return p.Synthesizer.Synthesize(ctx, question, results)
}

func failure(err error) types.AskResult {
	root := ragerr.Root(err)
	res := types.AskResult{
		Kind:      root.String(),
		Retryable: ragerr.IsRetryable(err),
	}
	switch {
	case ragerr.Has(err, ragerr.KindIndexNotFound):
		res.Error = MsgNoDocuments
	case ragerr.Has(err, ragerr.KindIndexMismatch):
		res.Error = MsgModelMismatch
	case errors.Is(err, errBadHandle):
		res.Error = MsgBadHandle
	case errors.Is(err, errEmptyQuestion):
		res.Error = MsgEmptyQuestion
	default:
		res.Error = MsgUnavailable
	}
	return res
}

func askOutcome(err error) string {
	switch {
	case ragerr.Has(err, ragerr.KindIndexNotFound):
		return metrics.OutcomeNoIndex
	case ragerr.Has(err, ragerr.KindIndexMismatch):
		return metrics.OutcomeMismatch
	case ragerr.Has(err, ragerr.KindInvalidInput):
		return metrics.OutcomeInvalid
	}
	return metrics.OutcomeError
}

func sources(results []types.SearchResult) []types.Source {
	out := make([]types.Source, len(results))
	for i, r := range results {
		out[i] = types.Source{
			DocID:     r.Chunk.Source.DocumentID.String(),
			Title:     r.Chunk.Source.Document,
			Page:      r.Chunk.Source.Page,
			ChunkText: r.Chunk.Text,
			Index:     r.Chunk.ID,
			Score:     r.Score,
		}
	}
	return out
}
