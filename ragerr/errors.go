// Package ragerr defines the error kinds shared by the ingest and ask
// pipelines. Callers branch on Kind instead of matching messages.
package ragerr

import (
	"errors"
	"strings"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindExtraction
	KindNoContent
	KindEmbedding
	KindIndexBuild
	KindIndexNotFound
	KindIndexMismatch
	KindModel
	KindSynthesis
	KindIngest
	KindAsk
	KindStorage
)

var kindNames = map[Kind]string{
	KindUnknown:       "UnknownError",
	KindInvalidInput:  "InvalidInputError",
	KindExtraction:    "ExtractionError",
	KindNoContent:     "NoContentError",
	KindEmbedding:     "EmbeddingError",
	KindIndexBuild:    "IndexBuildError",
	KindIndexNotFound: "IndexNotFoundError",
	KindIndexMismatch: "IndexMismatchError",
	KindModel:         "ModelError",
	KindSynthesis:     "SynthesisError",
	KindIngest:        "IngestError",
	KindAsk:           "AskError",
	KindStorage:       "StorageError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrInvalidInput  = &Error{Kind: KindInvalidInput}
	ErrExtraction    = &Error{Kind: KindExtraction}
	ErrNoContent     = &Error{Kind: KindNoContent}
	ErrEmbedding     = &Error{Kind: KindEmbedding}
	ErrIndexBuild    = &Error{Kind: KindIndexBuild}
	ErrIndexNotFound = &Error{Kind: KindIndexNotFound}
	ErrIndexMismatch = &Error{Kind: KindIndexMismatch}
	ErrModel         = &Error{Kind: KindModel}
	ErrSynthesis     = &Error{Kind: KindSynthesis}
	ErrIngest        = &Error{Kind: KindIngest}
	ErrAsk           = &Error{Kind: KindAsk}
	ErrStorage       = &Error{Kind: KindStorage}
)

type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "index.build".
	Op string
	// Document names the input document when the failure is tied to one.
	Document string
	// DocumentID identifies the document when names may repeat.
	DocumentID string
	Retryable  bool
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Document != "" {
		b.WriteString(" [")
		b.WriteString(e.Document)
		b.WriteString("]")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Err != nil || t.Msg != "" || t.Document != "" || t.DocumentID != "" {
		return e == t
	}
	return e.Kind == t.Kind
}

// E wraps err with kind and op. The retryable flag and document of an inner
// *Error carry over.
func E(kind Kind, op string, err error) *Error {
	e := &Error{Kind: kind, Op: op, Err: err}
	if inner := first(err); inner != nil {
		e.Retryable = inner.Retryable
		e.Document = inner.Document
		e.DocumentID = inner.DocumentID
	}
	return e
}

// New creates an error without a cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Transient wraps err as a retryable failure of kind.
func Transient(kind Kind, op string, err error) *Error {
	e := E(kind, op, err)
	e.Retryable = true
	return e
}

// Permanent wraps err as a non-retryable failure of kind.
func Permanent(kind Kind, op string, err error) *Error {
	e := E(kind, op, err)
	e.Retryable = false
	return e
}

// WithDocument returns e annotated with the document name.
func (e *Error) WithDocument(name string) *Error {
	e.Document = name
	return e
}

// WithDocumentID returns e annotated with the document id.
func (e *Error) WithDocumentID(id string) *Error {
	e.DocumentID = id
	return e
}

// Has reports whether any error in the chain has the given kind.
func Has(err error, kind Kind) bool {
	for _, e := range chain(err) {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Root returns the kind of the innermost *Error in the chain.
func Root(err error) Kind {
	c := chain(err)
	if len(c) == 0 {
		return KindUnknown
	}
	return c[len(c)-1].Kind
}

// IsRetryable reports whether the outermost *Error marks the failure as
// transient.
func IsRetryable(err error) bool {
	if e := first(err); e != nil {
		return e.Retryable
	}
	return false
}

// DocumentOf returns the document name recorded in the chain, if any.
func DocumentOf(err error) string {
	for _, e := range chain(err) {
		if e.Document != "" {
			return e.Document
		}
	}
	return ""
}

// DocumentIDOf returns the document id recorded in the chain, if any.
func DocumentIDOf(err error) string {
	for _, e := range chain(err) {
		if e.DocumentID != "" {
			return e.DocumentID
		}
	}
	return ""
}

func first(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

func chain(err error) []*Error {
	var out []*Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			out = append(out, e)
		}
		err = errors.Unwrap(err)
	}
	return out
}
