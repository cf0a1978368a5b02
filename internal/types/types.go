package types

import (
	"context"

	"github.com/lichenchen/pharmaquery/internal/models"
)

// Core interfaces

// Embedder converts text into fixed-dimension vectors. The dimension must
// match the vector field declared when the store's collection was
// provisioned; a mismatch is a configuration error surfaced by the store.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the uniform contract over the storage backends. Both
// backends embed through an injected Embedder and provision their own
// schema on first use.
//
// DeleteBySource reports (false, nil) when no chunk carries the given
// source ID, so deleting twice is not an error.
type VectorStore interface {
	Upsert(ctx context.Context, chunks []models.Chunk) error
	Search(ctx context.Context, query string, k int) ([]models.ScoredChunk, error)
	DeleteBySource(ctx context.Context, sourceID string) (bool, error)
	Close()
}

// Extractor turns one uploaded file (or URL) into page-level text.
type Extractor interface {
	Extract(path string) ([]models.Page, error)
}

// Reranker reorders retrieval candidates by relevance to the query. It
// never fails: on any service problem the input is returned untouched.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []models.ScoredChunk) []models.ScoredChunk
}
