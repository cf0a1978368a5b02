package store

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/lichenchen/pharmaquery/internal/models"
	"github.com/lichenchen/pharmaquery/internal/types"
)

// PgvectorStore keeps chunks in a PostgreSQL table with a pgvector column.
// The table carries a dedicated source_id column, so provenance-scoped
// deletion is a single filtered DELETE.
type PgvectorStore struct {
	config   Config
	pool     *pgxpool.Pool
	embedder types.Embedder
}

func NewPgvector(config Config, embedder types.Embedder) (*PgvectorStore, error) {
	if config.Collection == "" {
		config.Collection = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(context.Background(), config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &PgvectorStore{
		config:   config,
		pool:     pool,
		embedder: embedder,
	}

	if err := vs.initialize(); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PgvectorStore) initialize() error {
	ctx := context.Background()

	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			file_name TEXT,
			upload_time TIMESTAMPTZ,
			page INTEGER,
			chunk_index INTEGER,
			content TEXT,
			embedding vector(%d)
		)`, vs.config.Collection, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.Collection, vs.config.Collection)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	// Deletion filters on source_id, never on file_name.
	createSourceIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_source_id_idx
		ON %s (source_id)`,
		vs.config.Collection, vs.config.Collection)

	_, err = vs.pool.Exec(ctx, createSourceIndex)
	if err != nil {
		return fmt.Errorf("failed to create source index: %w", err)
	}

	return nil
}

// Upsert embeds every chunk and writes the batch in one transaction, so a
// source is either fully visible or not at all.
func (vs *PgvectorStore) Upsert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = sanitizeUTF8(c.Text)
	}

	embeddings, err := vs.embedder.CreateEmbedding(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to create embeddings: %w", err)
	}
	if err := vs.checkDimensions(embeddings, len(chunks)); err != nil {
		return err
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, source_id, file_name, upload_time, page, chunk_index, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`,
		vs.config.Collection)

	for i, chunk := range chunks {
		id := fmt.Sprintf("%s_%d", chunk.SourceID, chunk.Index)

		_, err = tx.Exec(ctx, stmt,
			id,
			chunk.SourceID,
			chunk.FileName,
			chunk.UploadTime,
			chunk.Page,
			chunk.Index,
			texts[i],
			pgvector.NewVector(embeddings[i]),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Search embeds the query and returns the k nearest chunks with cosine
// similarity scores, best first.
func (vs *PgvectorStore) Search(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}

	embeddings, err := vs.embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if err := vs.checkDimensions(embeddings, 1); err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`
		SELECT source_id, file_name, upload_time, page, chunk_index, content,
		       1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vs.config.Collection)

	rows, err := vs.pool.Query(ctx, stmt, pgvector.NewVector(embeddings[0]), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredChunk
	for rows.Next() {
		var r models.ScoredChunk
		err := rows.Scan(
			&r.SourceID,
			&r.FileName,
			&r.UploadTime,
			&r.Page,
			&r.Index,
			&r.Text,
			&r.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// DeleteBySource removes every chunk stamped with sourceID. Deleting an
// absent source reports (false, nil).
func (vs *PgvectorStore) DeleteBySource(ctx context.Context, sourceID string) (bool, error) {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE source_id = $1", vs.config.Collection)

	tag, err := vs.pool.Exec(ctx, stmt, sourceID)
	if err != nil {
		return false, fmt.Errorf("failed to delete source %s: %w", sourceID, err)
	}

	return tag.RowsAffected() > 0, nil
}

func (vs *PgvectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// checkDimensions catches an embedding model that disagrees with the
// provisioned vector column. That is an operator error, not a retryable one.
func (vs *PgvectorStore) checkDimensions(embeddings [][]float32, want int) error {
	if len(embeddings) != want {
		return fmt.Errorf("embedding service returned %d vectors for %d texts", len(embeddings), want)
	}
	for _, e := range embeddings {
		if len(e) != vs.config.VectorDim {
			return fmt.Errorf("embedding dimension %d does not match provisioned vector(%d)",
				len(e), vs.config.VectorDim)
		}
	}
	return nil
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
