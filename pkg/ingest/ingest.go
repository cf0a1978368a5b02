package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lichenchen/pharmaquery/internal/models"
	"github.com/lichenchen/pharmaquery/internal/types"
	"github.com/lichenchen/pharmaquery/pkg/extract"
	"github.com/lichenchen/pharmaquery/pkg/splitter"
)

type IngestorConfig struct {
	TempDir  string
	Splitter splitter.SplitterConfig
}

// Ingestor turns uploads into stored chunks. Every chunk derived from one
// upload carries the same freshly generated source ID, which is the only
// handle for deleting that upload again.
type Ingestor struct {
	config       IngestorConfig
	splitter     splitter.Splitter
	store        types.VectorStore
	extractorFor func(path string) types.Extractor
}

func NewWithConfig(config IngestorConfig, store types.VectorStore) *Ingestor {
	if config.TempDir == "" {
		config.TempDir = filepath.Join(os.TempDir(), "pharmaquery")
	}

	return &Ingestor{
		config:       config,
		splitter:     splitter.NewWithConfig(config.Splitter),
		store:        store,
		extractorFor: extract.ForPath,
	}
}

// WithExtractor overrides extractor selection, mainly for tests and for
// callers that front a remote extraction service.
func (ing *Ingestor) WithExtractor(fn func(path string) types.Extractor) *Ingestor {
	ing.extractorFor = fn
	return ing
}

// Upload is one file handed in by the caller. When Content is nil, Name is
// taken as a path (or URL) to extract in place.
type Upload struct {
	Name    string
	Content io.Reader
}

// Receipt reports a completed ingestion.
type Receipt struct {
	Source     models.Source
	ChunkCount int
}

// Result pairs a receipt with the per-file error from a batch run.
type Result struct {
	Name string
	Receipt
	Err error
}

// Ingest processes a single upload: stage it to a temp file, extract page
// text, split, stamp provenance, and upsert the whole batch. The temp file
// is removed whether or not any step succeeds.
func (ing *Ingestor) Ingest(ctx context.Context, up Upload) (Receipt, error) {
	source := models.Source{
		ID:         uuid.NewString(),
		FileName:   filepath.Base(up.Name),
		UploadTime: time.Now(),
	}

	path := up.Name
	if up.Content != nil {
		tmp, size, err := ing.saveTemp(source.ID, up)
		if err != nil {
			return Receipt{}, err
		}
		defer os.Remove(tmp)
		path = tmp
		source.ByteSize = size
	}

	// Selection and extraction both see the staged path; its name keeps the
	// upload's extension.
	pages, err := ing.extractorFor(path).Extract(path)
	if err != nil {
		return Receipt{}, fmt.Errorf("extraction failed for %s: %w", up.Name, err)
	}

	chunks := ing.stamp(source, pages)
	if len(chunks) > 0 {
		if err := ing.store.Upsert(ctx, chunks); err != nil {
			return Receipt{}, fmt.Errorf("failed to store %s: %w", up.Name, err)
		}
	}

	return Receipt{Source: source, ChunkCount: len(chunks)}, nil
}

// IngestAll runs uploads concurrently. Files are independent write sets, so
// one failing upload never touches the others; each Result carries its own
// error.
func (ing *Ingestor) IngestAll(ctx context.Context, uploads []Upload) []Result {
	results := make([]Result, len(uploads))

	var wg sync.WaitGroup
	for i, up := range uploads {
		wg.Add(1)
		go func(i int, up Upload) {
			defer wg.Done()
			receipt, err := ing.Ingest(ctx, up)
			results[i] = Result{Name: up.Name, Receipt: receipt, Err: err}
		}(i, up)
	}
	wg.Wait()

	return results
}

// IngestPath ingests a local file or a URL.
func (ing *Ingestor) IngestPath(ctx context.Context, path string) (Receipt, error) {
	return ing.Ingest(ctx, Upload{Name: path})
}

func (ing *Ingestor) saveTemp(sourceID string, up Upload) (string, int64, error) {
	if err := os.MkdirAll(ing.config.TempDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create temp dir: %w", err)
	}

	path := filepath.Join(ing.config.TempDir, sourceID+"_"+filepath.Base(up.Name))
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to stage upload: %w", err)
	}

	size, err := io.Copy(f, up.Content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("failed to stage upload: %w", err)
	}

	return path, size, nil
}

func (ing *Ingestor) stamp(source models.Source, pages []models.Page) []models.Chunk {
	var chunks []models.Chunk
	for _, page := range pages {
		for _, text := range ing.splitter.Split(page.Text) {
			chunks = append(chunks, models.Chunk{
				Text:       text,
				SourceID:   source.ID,
				FileName:   source.FileName,
				UploadTime: source.UploadTime,
				Page:       page.Number,
				Index:      len(chunks),
			})
		}
	}
	return chunks
}
