package types

import (
	"time"

	"github.com/google/uuid"
)

// Document is one uploaded file. It lives only for the duration of an ingest.
type Document struct {
	ID         uuid.UUID
	Name       string    // file name as uploaded
	SourcePath string    // path on disk, empty for uploads
	Data       []byte    // raw file bytes
	ModTime    time.Time // last modification, zero for uploads
}

// TextUnit is the text of one page (or the whole file for plain text).
type TextUnit struct {
	Page int
	Text string
}

type SourceRef struct {
	DocumentID uuid.UUID `json:"document_id"`
	Document   string    `json:"document"`
	Page       int       `json:"page"`
	Position   int       `json:"position"` // index of the chunk within its document
}

// Chunk is a bounded span of a document's text. ID is positional within the
// ingest batch, starting at 1.
type Chunk struct {
	ID     int       `json:"id"`
	Text   string    `json:"text"`
	Source SourceRef `json:"source"`
}

type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

type Answer struct {
	Text    string
	Sources []SearchResult
}

type IngestReport struct {
	Handle    string    `json:"handle"`
	BuildID   uuid.UUID `json:"build_id"`
	Documents int       `json:"documents"`
	Pages     int       `json:"pages"`
	Chunks    int       `json:"chunks"`
	Model     string    `json:"embedding_model"`
	Took      string    `json:"took"`
}

// AskResult is what the question entry point hands back to callers. Exactly
// one of Response and Error is set.
type AskResult struct {
	Success   bool     `json:"success"`
	Response  string   `json:"response,omitempty"`
	Error     string   `json:"error,omitempty"`
	Kind      string   `json:"kind,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`
	Sources   []Source `json:"sources,omitempty"`
}

type Source struct {
	DocID     string  `json:"doc_id"`
	Title     string  `json:"title"`
	Page      int     `json:"page"`
	ChunkText string  `json:"chunk_text"`
	Index     int     `json:"index"`
	Score     float64 `json:"score"`
}
