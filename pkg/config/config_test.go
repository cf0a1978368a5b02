package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfig(t, `
embedding:
  base_url: http://embed.internal:50001/v1
  model: custom-embedder
  dimension: 1024

llm:
  model: custom-llm
  temperature: 0.2
  no_think: true

rerank:
  enabled: true
  top_k: 5

store:
  backend: chroma
  url: http://localhost:8000
  collection: trials

splitter:
  chunk_size: 400
  chunk_overlap: 40
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://embed.internal:50001/v1", cfg.Embedding.BaseURL)
	assert.Equal(t, "custom-embedder", cfg.Embedding.Model)
	assert.Equal(t, 1024, cfg.Embedding.Dimension)
	assert.Equal(t, "custom-llm", cfg.LLM.Model)
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
	assert.True(t, cfg.LLM.NoThink)
	assert.True(t, cfg.Rerank.Enabled)
	assert.Equal(t, 5, cfg.Rerank.TopK)
	assert.Equal(t, "chroma", cfg.Store.Backend)
	assert.Equal(t, "trials", cfg.Store.Collection)
	assert.Equal(t, 400, cfg.Splitter.ChunkSize)
	assert.Equal(t, 40, cfg.Splitter.ChunkOverlap)
}

func TestLoadConfig_DefaultsFillGaps(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: tiny-model
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "tiny-model", cfg.LLM.Model)
	assert.Equal(t, 300, cfg.LLM.MaxTokens)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, 5, cfg.LLM.SearchK)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, "pgvector", cfg.Store.Backend)
	assert.Equal(t, "pharma_chunks", cfg.Store.Collection)
	assert.Equal(t, 200, cfg.Splitter.ChunkSize)
	assert.Equal(t, 20, cfg.Splitter.ChunkOverlap)
	assert.Equal(t, 3, cfg.Rerank.TopK)
	assert.False(t, cfg.Rerank.Enabled)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "llm: [not a mapping")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CHROMA_URL", "http://chroma.internal:8000")
	t.Setenv("LLM_API_KEY", "sk-test")

	path := writeConfig(t, `
llm:
  model: tiny-model
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// With no backend configured, CHROMA_URL selects chroma and sets the
	// address in one step.
	assert.Equal(t, "chroma", cfg.Store.Backend)
	assert.Equal(t, "http://chroma.internal:8000", cfg.Store.URL)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoadConfig_ExplicitBackendBeatsChromaEnv(t *testing.T) {
	t.Setenv("CHROMA_URL", "http://chroma.internal:8000")

	path := writeConfig(t, `
store:
  backend: pgvector
  url: postgres://localhost/pharma
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "pgvector", cfg.Store.Backend)
	assert.Equal(t, "postgres://localhost/pharma", cfg.Store.URL)
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	cfg, err := getDefaultConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Validate())
}

func TestValidate_ReportsEveryBadField(t *testing.T) {
	cfg, err := getDefaultConfig()
	require.NoError(t, err)

	cfg.Embedding.Dimension = 0
	cfg.LLM.Temperature = 2.5
	cfg.Store.Backend = "faiss"
	cfg.Splitter.ChunkOverlap = cfg.Splitter.ChunkSize

	errs := cfg.Validate()
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{
		"embedding.dimension",
		"llm.temperature",
		"store.backend",
		"splitter.chunk_overlap",
	}, fields)
}

func TestValidate_RerankCheckedOnlyWhenEnabled(t *testing.T) {
	cfg, err := getDefaultConfig()
	require.NoError(t, err)

	cfg.Rerank.TopK = -1
	assert.Empty(t, cfg.Validate())

	cfg.Rerank.Enabled = true
	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "rerank.top_k", errs[0].Field)
}
