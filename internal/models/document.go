package models

import "time"

// Source describes one uploaded document. It exists only as metadata
// stamped onto chunks; once every chunk carrying its ID is deleted the
// source is gone.
type Source struct {
	ID         string
	FileName   string
	ByteSize   int64
	UploadTime time.Time
}

// Page is one unit of extracted text, as returned by an Extractor.
type Page struct {
	Text   string
	Number int
}

// Chunk is a bounded text segment derived from a source page. Chunks are
// immutable once stored and are only ever deleted as a batch keyed by
// SourceID.
type Chunk struct {
	Text       string
	SourceID   string
	FileName   string
	UploadTime time.Time
	Page       int
	Index      int
}

// ScoredChunk is a retrieval result. Score is a cosine similarity when the
// backend reports one; rank-only backends leave it zero and the slice order
// is the relevance order.
type ScoredChunk struct {
	Chunk
	Score float32
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn. History is owned by the caller and
// passed read-only into the chat engine.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
