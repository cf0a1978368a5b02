package rerank_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lichenchen/pharmaquery/internal/models"
	"github.com/lichenchen/pharmaquery/pkg/rerank"
)

func candidates(texts ...string) []models.ScoredChunk {
	docs := make([]models.ScoredChunk, len(texts))
	for i, text := range texts {
		docs[i].Text = text
		docs[i].SourceID = "src"
		docs[i].Index = i
	}
	return docs
}

func newReranker(url string, topK int) *rerank.Reranker {
	return rerank.NewWithConfig(rerank.RerankConfig{
		Enabled: true,
		BaseURL: url,
		Model:   "test-reranker",
		TopK:    topK,
	})
}

func TestRerank_ReordersAndTruncates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"index":2,"relevance_score":0.9},
			{"index":0,"relevance_score":0.5},
			{"index":1,"relevance_score":0.1}
		]}`))
	}))
	defer server.Close()

	r := newReranker(server.URL, 2)
	out := r.Rerank(context.Background(), "q", candidates("a", "b", "c"))

	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].Text)
	assert.Equal(t, "a", out[1].Text)
	assert.InDelta(t, 0.9, out[0].Score, 1e-6)
}

func TestRerank_DisabledReturnsInputUnchanged(t *testing.T) {
	r := rerank.NewWithConfig(rerank.RerankConfig{Enabled: false})

	docs := candidates("a", "b", "c")
	out := r.Rerank(context.Background(), "q", docs)

	assert.Equal(t, docs, out)
}

func TestRerank_SingleCandidateSkipsService(t *testing.T) {
	// Any call would hit an unreachable URL; a single candidate must not.
	r := newReranker("http://127.0.0.1:1", 3)

	docs := candidates("only")
	out := r.Rerank(context.Background(), "q", docs)
	assert.Equal(t, docs, out)
}

func TestRerank_ServerErrorFailsOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	r := newReranker(server.URL, 2)
	docs := candidates("a", "b", "c")
	out := r.Rerank(context.Background(), "q", docs)

	// Fail-open returns all three in original order, not a truncated two.
	assert.Equal(t, docs, out)
}

func TestRerank_MalformedPayloadFailsOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unexpected":"shape"}`))
	}))
	defer server.Close()

	r := newReranker(server.URL, 2)
	docs := candidates("a", "b", "c")
	assert.Equal(t, docs, r.Rerank(context.Background(), "q", docs))
}

func TestRerank_OutOfRangeIndexFailsOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"index":7,"relevance_score":0.9}]}`))
	}))
	defer server.Close()

	r := newReranker(server.URL, 2)
	docs := candidates("a", "b", "c")
	assert.Equal(t, docs, r.Rerank(context.Background(), "q", docs))
}

func TestRerank_TimeoutFailsOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"results":[{"index":0,"relevance_score":1}]}`))
	}))
	defer server.Close()

	r := rerank.NewWithConfig(rerank.RerankConfig{
		Enabled: true,
		BaseURL: server.URL,
		TopK:    2,
		Timeout: 20 * time.Millisecond,
	})

	docs := candidates("a", "b", "c")
	assert.Equal(t, docs, r.Rerank(context.Background(), "q", docs))
}

func TestRerank_DuplicateTextsTrackedByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"index":1,"relevance_score":0.8},{"index":0,"relevance_score":0.2}]}`))
	}))
	defer server.Close()

	docs := candidates("same", "same")
	docs[0].Page = 1
	docs[1].Page = 2

	r := newReranker(server.URL, 2)
	out := r.Rerank(context.Background(), "q", docs)

	require.Len(t, out, 2)
	assert.Equal(t, 2, out[0].Page)
	assert.Equal(t, 1, out[1].Page)
}
