package ragerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "ExtractionError", KindExtraction.String())
	assert.Equal(t, "IndexNotFoundError", KindIndexNotFound.String())
	assert.Equal(t, "UnknownError", Kind(200).String())
}

func TestWrappingKeepsKindAndRetryable(t *testing.T) {
	model := Transient(KindModel, "ollama.generate", context.DeadlineExceeded)
	synth := E(KindSynthesis, "agent.synthesize", model)
	ask := E(KindAsk, "pipeline.ask", synth)

	assert.True(t, errors.Is(ask, ErrSynthesis))
	assert.True(t, errors.Is(ask, ErrModel))
	assert.True(t, errors.Is(ask, context.DeadlineExceeded))
	assert.False(t, errors.Is(ask, ErrIndexNotFound))

	assert.True(t, IsRetryable(ask))
	assert.Equal(t, KindModel, Root(ask))
	assert.True(t, Has(ask, KindAsk))
}

func TestPermanentIsNotRetryable(t *testing.T) {
	err := E(KindSynthesis, "agent.synthesize", Permanent(KindModel, "openai.chat", errors.New("400 bad request")))
	assert.False(t, IsRetryable(err))
}

func TestDocumentPropagates(t *testing.T) {
	extract := E(KindExtraction, "extractor.pdf", errors.New("malformed xref")).WithDocument("report.pdf")
	ingest := E(KindIngest, "pipeline.ingest", fmt.Errorf("extract: %w", extract))

	assert.Equal(t, "report.pdf", DocumentOf(ingest))
	assert.Equal(t, "report.pdf", ingest.Document)
	assert.Contains(t, ingest.Error(), "IngestError")
	assert.Contains(t, ingest.Error(), "malformed xref")
}

func TestDocumentIDPropagates(t *testing.T) {
	extract := New(KindNoContent, "pipeline.extract", "no text").WithDocument("report.pdf").WithDocumentID("doc-7")
	ingest := E(KindIngest, "pipeline.ingest", extract)

	assert.Equal(t, "doc-7", DocumentIDOf(ingest))
	assert.Equal(t, "doc-7", ingest.DocumentID)
	assert.Empty(t, DocumentIDOf(errors.New("plain")))
	assert.True(t, errors.Is(ingest, ErrNoContent))
}

func TestErrorsAs(t *testing.T) {
	err := fmt.Errorf("load: %w", New(KindIndexNotFound, "store.file", "no index at uploaded_vectors"))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindIndexNotFound, e.Kind)
	assert.Equal(t, "store.file: IndexNotFoundError: no index at uploaded_vectors", e.Error())
}

func TestRootOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, Root(errors.New("boom")))
	assert.False(t, IsRetryable(errors.New("boom")))
}
