package store

import (
	"fmt"
	"time"

	"github.com/lichenchen/pharmaquery/internal/types"
)

type Backend string

const (
	BackendPgvector Backend = "pgvector"
	BackendChroma   Backend = "chroma"
)

// Config covers both backends. URL is a PostgreSQL connection string for
// pgvector and a base HTTP URL for Chroma; Collection is the table or
// collection name.
type Config struct {
	Backend    Backend
	URL        string
	Collection string
	VectorDim  int
	BatchSize  int
	Timeout    time.Duration
}

// NewWithConfig builds the configured backend. Callers only ever see the
// types.VectorStore contract and never branch on backend identity.
func NewWithConfig(config Config, embedder types.Embedder) (types.VectorStore, error) {
	switch config.Backend {
	case BackendChroma:
		return NewChroma(config, embedder)
	case BackendPgvector, "":
		return NewPgvector(config, embedder)
	default:
		return nil, fmt.Errorf("unknown vector store backend: %q", config.Backend)
	}
}
