package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/lichenchen/pharmaquery/internal/models"
	"github.com/lichenchen/pharmaquery/internal/types"
)

// ChromaStore is a minimal REST client to a Chroma server. Chroma has no
// delete-by-filter primitive, so DeleteBySource fetches every stored id
// with its metadata and scans for matches. That scan is O(total corpus
// size) per deletion; correct, but a known scalability boundary of this
// backend.
type ChromaStore struct {
	config   Config
	client   *http.Client
	embedder types.Embedder

	mu           sync.Mutex
	collectionID string
}

func NewChroma(config Config, embedder types.Embedder) (*ChromaStore, error) {
	if config.Collection == "" {
		config.Collection = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &ChromaStore{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		embedder: embedder,
	}, nil
}

// ensureCollection provisions the collection on first use. Concurrent
// ingestion hits first use from several goroutines at once, so the check
// and the write are under one lock. Cosine space to match the embedding
// model; metadata schema is whatever the points carry, source_id included.
func (cs *ChromaStore) ensureCollection(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.collectionID != "" {
		return nil
	}

	body := map[string]any{
		"name":          cs.config.Collection,
		"get_or_create": true,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := cs.postJSON(ctx, cs.config.URL+"/api/v1/collections", body, &resp); err != nil {
		return fmt.Errorf("failed to provision collection: %w", err)
	}
	if resp.ID == "" {
		return fmt.Errorf("collection %s was created without an id", cs.config.Collection)
	}

	cs.collectionID = resp.ID
	return nil
}

func (cs *ChromaStore) Upsert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := cs.ensureCollection(ctx); err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embeddings, err := cs.embedder.CreateEmbedding(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding service returned %d vectors for %d texts", len(embeddings), len(chunks))
	}

	ids := make([]string, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		if len(embeddings[i]) != cs.config.VectorDim {
			return fmt.Errorf("embedding dimension %d does not match provisioned dimension %d",
				len(embeddings[i]), cs.config.VectorDim)
		}
		ids[i] = c.SourceID + "_" + strconv.Itoa(c.Index)
		metadatas[i] = map[string]any{
			"source_id":   c.SourceID,
			"file_name":   c.FileName,
			"upload_time": c.UploadTime.Format(time.RFC3339),
			"page":        c.Page,
			"chunk_index": c.Index,
		}
	}

	body := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  texts,
		"metadatas":  metadatas,
	}
	url := fmt.Sprintf("%s/api/v1/collections/%s/add", cs.config.URL, cs.collectionID)
	if err := cs.postJSON(ctx, url, body, nil); err != nil {
		return fmt.Errorf("failed to add chunks: %w", err)
	}
	return nil
}

// Search returns the k nearest chunks in relevance order. Chroma reports
// distances, not comparable similarities, so results are rank-only and the
// Score field stays zero.
func (cs *ChromaStore) Search(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}
	if err := cs.ensureCollection(ctx); err != nil {
		return nil, err
	}

	embeddings, err := cs.embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) != 1 || len(embeddings[0]) != cs.config.VectorDim {
		return nil, fmt.Errorf("embedding dimension does not match provisioned dimension %d", cs.config.VectorDim)
	}

	body := map[string]any{
		"query_embeddings": [][]float32{embeddings[0]},
		"n_results":        k,
		"include":          []string{"documents", "metadatas"},
	}
	var resp struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
	}
	url := fmt.Sprintf("%s/api/v1/collections/%s/query", cs.config.URL, cs.collectionID)
	if err := cs.postJSON(ctx, url, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	results := make([]models.ScoredChunk, 0, len(resp.IDs[0]))
	for i := range resp.IDs[0] {
		var r models.ScoredChunk
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			r.Text = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			fillFromMetadata(&r.Chunk, resp.Metadatas[0][i])
		}
		results = append(results, r)
	}
	return results, nil
}

// DeleteBySource implements provenance deletion without a native filter:
// fetch the full id/metadata listing, linear-scan for the source_id, then
// batch-delete the matching native ids. Matching is on source_id only, so
// two uploads sharing a file name never cross-delete.
func (cs *ChromaStore) DeleteBySource(ctx context.Context, sourceID string) (bool, error) {
	if err := cs.ensureCollection(ctx); err != nil {
		return false, err
	}

	body := map[string]any{"include": []string{"metadatas"}}
	var listing struct {
		IDs       []string         `json:"ids"`
		Metadatas []map[string]any `json:"metadatas"`
	}
	url := fmt.Sprintf("%s/api/v1/collections/%s/get", cs.config.URL, cs.collectionID)
	if err := cs.postJSON(ctx, url, body, &listing); err != nil {
		return false, fmt.Errorf("failed to list chunks: %w", err)
	}

	var matched []string
	for i, md := range listing.Metadatas {
		if i >= len(listing.IDs) {
			break
		}
		if id, ok := md["source_id"].(string); ok && id == sourceID {
			matched = append(matched, listing.IDs[i])
		}
	}
	if len(matched) == 0 {
		return false, nil
	}

	deleteURL := fmt.Sprintf("%s/api/v1/collections/%s/delete", cs.config.URL, cs.collectionID)
	if err := cs.postJSON(ctx, deleteURL, map[string]any{"ids": matched}, nil); err != nil {
		return false, fmt.Errorf("failed to delete source %s: %w", sourceID, err)
	}
	return true, nil
}

func (cs *ChromaStore) Close() {
	cs.client.CloseIdleConnections()
}

func fillFromMetadata(c *models.Chunk, md map[string]any) {
	if v, ok := md["source_id"].(string); ok {
		c.SourceID = v
	}
	if v, ok := md["file_name"].(string); ok {
		c.FileName = v
	}
	if v, ok := md["upload_time"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			c.UploadTime = t
		}
	}
	if v, ok := md["page"].(float64); ok {
		c.Page = int(v)
	}
	if v, ok := md["chunk_index"].(float64); ok {
		c.Index = int(v)
	}
}

func (cs *ChromaStore) postJSON(ctx context.Context, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cs.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("chroma POST %s failed: %s", url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
