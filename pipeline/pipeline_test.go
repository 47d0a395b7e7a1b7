package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"askpdf/app/agent"
	"askpdf/chunker"
	"askpdf/index"
	"askpdf/metrics"
	"askpdf/model"
	"askpdf/model/modeltest"
	"askpdf/ragerr"
	"askpdf/store"
	"askpdf/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// pagesExtractor serves page texts keyed by document name.
type pagesExtractor struct {
	pages map[string][]string
	fail  map[string]error
}

func (e *pagesExtractor) Extract(_ context.Context, doc types.Document) ([]types.TextUnit, error) {
	if err, ok := e.fail[doc.Name]; ok {
		return nil, err
	}
	pages, ok := e.pages[doc.Name]
	if !ok {
		return nil, ragerr.New(ragerr.KindExtraction, "test.extract", "unknown document").WithDocument(doc.Name)
	}
	units := make([]types.TextUnit, len(pages))
	for i, p := range pages {
		units[i] = types.TextUnit{Page: i + 1, Text: p}
	}
	return units, nil
}

const (
	rodentText = "The capybara is the largest living rodent in the world. It lives in savannas and dense forests near bodies of water. Capybaras are highly social and live in groups of ten to twenty."
	kubeText   = "Kubernetes schedules pods onto nodes. A deployment keeps the desired number of replicas running and rolls out new versions gradually."
	taxText    = "Quarterly tax returns are due on the fifteenth day after the quarter ends. Late filings incur a penalty of five percent per month."
)

type fixture struct {
	p       *Pipeline
	ext     *pagesExtractor
	emb     *modeltest.Embedder
	gen     *modeltest.Generator
	store   index.Store
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	blobs, err := store.NewFileBlobs(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		ext: &pagesExtractor{
			pages: map[string][]string{
				"docA.pdf":  {rodentText},
				"docB.pdf":  {kubeText},
				"docC.pdf":  {taxText, kubeText},
				"blank.pdf": {"", "  \n"},
			},
			fail: map[string]error{},
		},
		emb:     modeltest.NewEmbedder("fake/bow-512", 512),
		gen:     &modeltest.Generator{Name: "fake-llm", Reply: "Capybaras are the largest rodents."},
		store:   store.NewBlobIndexStore(blobs),
		metrics: metrics.New(),
	}
	f.p = f.pipeline(t, f.emb, f.store)
	return f
}

func (f *fixture) pipeline(t *testing.T, emb model.Embedder, st index.Store) *Pipeline {
	ch, err := chunker.New(120, 20)
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	return New(Deps{
		Extractor:   f.ext,
		Chunker:     ch,
		Embedder:    emb,
		Synthesizer: agent.NewSynthesizer(f.gen, agent.RuneEstimate, 6000, logger),
		Store:       st,
		Metrics:     f.metrics,
		Logger:      logger,
	}, Options{TopK: 2, BatchSize: 3, IngestTimeout: 10 * time.Second, AskTimeout: 10 * time.Second})
}

func docs(names ...string) []types.Document {
	out := make([]types.Document, len(names))
	for i, n := range names {
		out[i] = types.Document{ID: uuid.NewSHA1(uuid.NameSpaceURL, []byte(n)), Name: n}
	}
	return out
}

func TestAskBeforeIngest(t *testing.T) {
	f := newFixture(t)

	res := f.p.Ask(context.Background(), "", "What is a capybara?")
	assert.False(t, res.Success)
	assert.Equal(t, MsgNoDocuments, res.Error)
	assert.Equal(t, "IndexNotFoundError", res.Kind)
	assert.Empty(t, res.Response)
	assert.Empty(t, f.gen.Prompts())
}

func TestIngestThenAskRetrievesSourceDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.p.Ingest(ctx, "", docs("docA.pdf", "docB.pdf"))
	require.NoError(t, err)
	assert.Equal(t, index.DefaultHandle, report.Handle)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, "fake/bow-512", report.Model)
	assert.Greater(t, report.Chunks, 2)

	res := f.p.Ask(ctx, "", "Capybaras are highly social and live in groups")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Capybaras are the largest rodents.", res.Response)
	require.NotEmpty(t, res.Sources)
	assert.Equal(t, "docA.pdf", res.Sources[0].Title)
	assert.Contains(t, f.gen.Prompts()[0].System, "groups of ten to twenty")
	assert.Equal(t, "Capybaras are highly social and live in groups", f.gen.Prompts()[0].User)
}

func TestIngestRecordsDocumentInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.Ingest(ctx, "books", docs("docA.pdf", "docC.pdf"))
	require.NoError(t, err)

	ix, err := index.Load(ctx, f.store, "books")
	require.NoError(t, err)
	require.Len(t, ix.Meta.Documents, 2)
	assert.Equal(t, "docA.pdf", ix.Meta.Documents[0].Name)
	assert.Equal(t, 2, ix.Meta.Documents[1].Pages)
	assert.Equal(t, ix.Len(), ix.Meta.Documents[0].Chunks+ix.Meta.Documents[1].Chunks)

	for i, e := range ix.Entries {
		assert.Equal(t, i+1, e.Chunk.ID)
	}
}

func TestReingestReplacesPreviousContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.Ingest(ctx, "", docs("docA.pdf"))
	require.NoError(t, err)
	_, err = f.p.Ingest(ctx, "", docs("docB.pdf"))
	require.NoError(t, err)

	res := f.p.Ask(ctx, "", "The capybara is the largest living rodent")
	require.True(t, res.Success)
	for _, s := range res.Sources {
		assert.Equal(t, "docB.pdf", s.Title)
	}
	assert.NotContains(t, f.gen.Prompts()[0].System, "capybara")
}

func TestIngestEmptyDocumentFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.Ingest(ctx, "", docs("docA.pdf"))
	require.NoError(t, err)

	_, err = f.p.Ingest(ctx, "", docs("blank.pdf"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ragerr.ErrIngest))
	assert.Equal(t, ragerr.KindNoContent, ragerr.Root(err))
	assert.Equal(t, "blank.pdf", ragerr.DocumentOf(err))
	assert.Equal(t, docs("blank.pdf")[0].ID.String(), ragerr.DocumentIDOf(err))

	// The previous index is still served.
	res := f.p.Ask(ctx, "", "capybara rodent")
	require.True(t, res.Success)
	assert.Equal(t, "docA.pdf", res.Sources[0].Title)
}

func TestIngestExtractionFailureNamesDocument(t *testing.T) {
	f := newFixture(t)
	f.ext.fail["broken.pdf"] = ragerr.Permanent(ragerr.KindExtraction, "test.extract", errors.New("xref table not found"))

	_, err := f.p.Ingest(context.Background(), "", docs("docA.pdf", "broken.pdf"))
	require.Error(t, err)
	assert.True(t, ragerr.Has(err, ragerr.KindIngest))
	assert.Equal(t, ragerr.KindExtraction, ragerr.Root(err))
	assert.Equal(t, "broken.pdf", ragerr.DocumentOf(err))
	assert.Equal(t, docs("broken.pdf")[0].ID.String(), ragerr.DocumentIDOf(err))
	assert.False(t, ragerr.IsRetryable(err))
	assert.Empty(t, f.emb.Calls(), "nothing is embedded when a document fails")

	res := f.p.Ask(context.Background(), "", "capybara")
	assert.Equal(t, MsgNoDocuments, res.Error)
}

func TestIngestErrorKeepsIDOfSameNamedDocument(t *testing.T) {
	f := newFixture(t)
	f.ext.fail["twin.pdf"] = errors.New("bad stream")

	a := types.Document{ID: uuid.New(), Name: "twin.pdf", SourcePath: "archive/twin.pdf"}
	b := types.Document{ID: uuid.New(), Name: "twin.pdf", SourcePath: "inbox/twin.pdf"}
	_, err := f.p.Ingest(context.Background(), "", []types.Document{a, b})
	require.Error(t, err)
	assert.Equal(t, ragerr.KindExtraction, ragerr.Root(err))
	assert.Equal(t, a.ID.String(), ragerr.DocumentIDOf(err), "the first failing document is reported")
}

func TestLogsResolvedHandle(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zap.InfoLevel)
	ch, err := chunker.New(120, 20)
	require.NoError(t, err)
	p := New(Deps{
		Extractor:   f.ext,
		Chunker:     ch,
		Embedder:    f.emb,
		Synthesizer: agent.NewSynthesizer(f.gen, agent.RuneEstimate, 6000, zap.New(core)),
		Store:       f.store,
		Logger:      zap.New(core),
	}, Options{DefaultHandle: "manuals"})

	_, err = p.Ingest(context.Background(), "", docs("missing.pdf"))
	require.Error(t, err)
	p.Ask(context.Background(), "", "anything")

	for _, msg := range []string{"ingest failed", "question not answered"} {
		entries := logs.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		assert.Equal(t, "manuals", entries[0].ContextMap()["handle"], msg)
	}
}

func TestIngestRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.p.Ingest(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, ragerr.KindInvalidInput, ragerr.Root(err))

	_, err = f.p.Ingest(context.Background(), "../etc", docs("docA.pdf"))
	require.Error(t, err)
	assert.Equal(t, ragerr.KindInvalidInput, ragerr.Root(err))
}

func TestAskPromptIsDeterministic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.Ingest(ctx, "", docs("docA.pdf", "docB.pdf", "docC.pdf"))
	require.NoError(t, err)

	require.True(t, f.p.Ask(ctx, "", "When are quarterly tax returns due?").Success)
	require.True(t, f.p.Ask(ctx, "", "When are quarterly tax returns due?").Success)

	prompts := f.gen.Prompts()
	require.Len(t, prompts, 2)
	assert.Equal(t, prompts[0], prompts[1])
}

func TestAskInvalidInput(t *testing.T) {
	f := newFixture(t)

	res := f.p.Ask(context.Background(), "", "   ")
	assert.False(t, res.Success)
	assert.Equal(t, MsgEmptyQuestion, res.Error)
	assert.Equal(t, "InvalidInputError", res.Kind)

	res = f.p.Ask(context.Background(), "Not A Handle!", "question")
	assert.False(t, res.Success)
	assert.Equal(t, MsgBadHandle, res.Error)
}

func TestAskRejectsEmbeddingModelMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.Ingest(ctx, "", docs("docA.pdf"))
	require.NoError(t, err)

	other := f.pipeline(t, modeltest.NewEmbedder("fake/other-512", 512), f.store)
	res := other.Ask(ctx, "", "capybara")
	assert.False(t, res.Success)
	assert.Equal(t, MsgModelMismatch, res.Error)
	assert.Equal(t, "IndexMismatchError", res.Kind)
	assert.Empty(t, f.gen.Prompts())
}

func TestAskReportsSynthesisFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.Ingest(ctx, "", docs("docA.pdf"))
	require.NoError(t, err)

	f.gen.Err = ragerr.Transient(ragerr.KindModel, "test.generate", errors.New("status 503"))
	res := f.p.Ask(ctx, "", "capybara")
	assert.False(t, res.Success)
	assert.Equal(t, MsgUnavailable, res.Error)
	assert.Equal(t, "ModelError", res.Kind)
	assert.True(t, res.Retryable)

	f.gen.Err = ragerr.Permanent(ragerr.KindModel, "test.generate", errors.New("status 400"))
	res = f.p.Ask(ctx, "", "capybara")
	assert.False(t, res.Retryable)
}

func TestAskHonoursDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.Ingest(ctx, "", docs("docA.pdf"))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	res := f.p.Ask(cancelled, "", "capybara")
	assert.False(t, res.Success)
	assert.Equal(t, MsgUnavailable, res.Error)
}

// gateEmbedder tracks how many Embed calls run at once.
type gateEmbedder struct {
	model.Embedder
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (g *gateEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		m := g.maxSeen.Load()
		if n <= m || g.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return g.Embedder.Embed(ctx, texts)
}

func TestConcurrentIngestsOfOneHandleAreSerialized(t *testing.T) {
	f := newFixture(t)
	gate := &gateEmbedder{Embedder: f.emb}
	p := f.pipeline(t, gate, f.store)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := []string{"docA.pdf", "docB.pdf", "docC.pdf"}[i%3]
			_, err := p.Ingest(context.Background(), "shared", docs(name))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), gate.maxSeen.Load())
	assert.Equal(t, 0, p.locks.size())

	ix, err := index.Load(context.Background(), f.store, "shared")
	require.NoError(t, err)
	require.Len(t, ix.Meta.Documents, 1)
}

func TestIngestsOfDifferentHandlesAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, name := range []string{"docA.pdf", "docB.pdf", "docC.pdf"} {
		wg.Add(1)
		go func(handle, name string) {
			defer wg.Done()
			_, err := f.p.Ingest(ctx, handle, docs(name))
			assert.NoError(t, err)
		}(fmt.Sprintf("h%d", i), name)
	}
	wg.Wait()

	res := f.p.Ask(ctx, "h1", "Kubernetes schedules pods")
	require.True(t, res.Success)
	assert.Equal(t, "docB.pdf", res.Sources[0].Title)

	res = f.p.Ask(ctx, "h0", "capybara rodent")
	require.True(t, res.Success)
	assert.Equal(t, "docA.pdf", res.Sources[0].Title)
}

func TestKeyedMutexWaitHonoursContext(t *testing.T) {
	k := newKeyedMutex()
	unlock, err := k.Lock(context.Background(), "h")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "h")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Equal(t, 0, k.size())
}

func TestSourcesCarryProvenance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.Ingest(ctx, "", docs("docC.pdf"))
	require.NoError(t, err)

	res := f.p.Ask(ctx, "", "rolls out new versions gradually")
	require.True(t, res.Success)
	require.NotEmpty(t, res.Sources)
	top := res.Sources[0]
	assert.Equal(t, "docC.pdf", top.Title)
	assert.Equal(t, 2, top.Page)
	assert.Equal(t, docs("docC.pdf")[0].ID.String(), top.DocID)
	assert.Contains(t, top.ChunkText, "gradually")
	assert.Greater(t, top.Score, 0.0)
}
