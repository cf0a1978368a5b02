package llm_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lichenchen/pharmaquery/internal/models"
	"github.com/lichenchen/pharmaquery/pkg/llm"
)

// fakeStore serves canned retrieval results without a backend.
type fakeStore struct {
	results []models.ScoredChunk
	err     error
	lastK   int
}

func (s *fakeStore) Upsert(context.Context, []models.Chunk) error { return nil }

func (s *fakeStore) Search(_ context.Context, _ string, k int) ([]models.ScoredChunk, error) {
	s.lastK = k
	return s.results, s.err
}

func (s *fakeStore) DeleteBySource(context.Context, string) (bool, error) { return false, nil }

func (s *fakeStore) Close() {}

func sseHandler(t *testing.T, fragments []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		for _, frag := range fragments {
			fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", frag)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	})
}

func newEngine(t *testing.T, baseURL string, store *fakeStore, noThink bool) *llm.ChatEngine {
	t.Helper()
	engine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       "test-model",
		Temperature: 0.7,
		MaxTokens:   100,
		BaseURL:     baseURL,
		APIKey:      "test",
		SearchK:     5,
		NoThink:     noThink,
	}, store, nil)
	require.NoError(t, err)
	return engine
}

func TestNewWithConfig_RejectsBadTemperature(t *testing.T) {
	_, err := llm.NewWithConfig(llm.ChatConfig{Temperature: 3}, &fakeStore{}, nil)
	assert.Error(t, err)

	_, err = llm.NewWithConfig(llm.ChatConfig{Temperature: -1}, &fakeStore{}, nil)
	assert.Error(t, err)
}

func TestChatStream_StreamsFragments(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, []string{"Aspirin ", "thins ", "blood."}))
	defer server.Close()

	store := &fakeStore{results: []models.ScoredChunk{
		{Chunk: models.Chunk{Text: "Aspirin is an antiplatelet agent."}},
	}}
	engine := newEngine(t, server.URL, store, false)

	stream, err := engine.ChatStream(context.Background(), "what does aspirin do?", nil)
	require.NoError(t, err)

	var answer strings.Builder
	for token := range stream {
		require.NoError(t, token.Err)
		answer.WriteString(token.Content)
	}
	assert.Equal(t, "Aspirin thins blood.", answer.String())
	assert.Equal(t, 5, store.lastK)
}

func TestChatStream_NoThinkStripsAcrossFragments(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, []string{"<thi", "nk>secret</think>answer"}))
	defer server.Close()

	engine := newEngine(t, server.URL, &fakeStore{}, true)

	stream, err := engine.ChatStream(context.Background(), "q", nil)
	require.NoError(t, err)

	var answer strings.Builder
	for token := range stream {
		require.NoError(t, token.Err)
		answer.WriteString(token.Content)
	}
	assert.Equal(t, "answer", answer.String())
}

func TestChatStream_RetrievalFailureIsImmediate(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	engine := newEngine(t, "http://127.0.0.1:1", store, false)

	stream, err := engine.ChatStream(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Nil(t, stream)
	assert.Contains(t, err.Error(), "retrieval failed")
}

func TestChatStream_GenerationFailureIsTerminalToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	engine := newEngine(t, server.URL, &fakeStore{}, false)

	stream, err := engine.ChatStream(context.Background(), "q", nil)
	require.NoError(t, err)

	var sawErr bool
	for token := range stream {
		if token.Err != nil {
			sawErr = true
		}
	}
	assert.True(t, sawErr, "stream must end with a terminal error token")
}

func TestChatStream_CancellationReleasesStream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; ; i++ {
			select {
			case <-r.Context().Done():
				close(release)
				return
			default:
			}
			fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"tok \"}}]}\n\n")
			flusher.Flush()
			time.Sleep(10 * time.Millisecond)
		}
	}))
	defer server.Close()

	engine := newEngine(t, server.URL, &fakeStore{}, false)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := engine.ChatStream(ctx, "q", nil)
	require.NoError(t, err)

	// Consume one fragment, then walk away.
	<-stream
	cancel()

	// The producer goroutine must close the channel promptly instead of
	// blocking on the abandoned consumer.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-stream:
			if !open {
				select {
				case <-release:
				case <-time.After(2 * time.Second):
					t.Fatal("server never observed the disconnect")
				}
				return
			}
		case <-deadline:
			t.Fatal("stream not closed after cancellation")
		}
	}
}

func TestChatStream_HistoryDoesNotLeakIntoEngine(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, []string{"hi"}))
	defer server.Close()

	engine := newEngine(t, server.URL, &fakeStore{}, false)
	history := []models.Message{
		{Role: models.RoleUser, Content: "earlier question"},
		{Role: models.RoleAssistant, Content: "earlier answer"},
	}

	for i := 0; i < 2; i++ {
		stream, err := engine.ChatStream(context.Background(), "next", history)
		require.NoError(t, err)
		for range stream {
		}
	}
	// History stayed the caller's: same slice, unchanged.
	require.Len(t, history, 2)
	assert.Equal(t, "earlier question", history[0].Content)
}
