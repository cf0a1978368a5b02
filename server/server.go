package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/lichenchen/pharmaquery/internal/models"
	"github.com/lichenchen/pharmaquery/internal/types"
	"github.com/lichenchen/pharmaquery/pkg/config"
	"github.com/lichenchen/pharmaquery/pkg/ingest"
	"github.com/lichenchen/pharmaquery/pkg/llm"
	"github.com/lichenchen/pharmaquery/pkg/rerank"
	"github.com/lichenchen/pharmaquery/pkg/splitter"
	"github.com/lichenchen/pharmaquery/pkg/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the WebSocket envelope in both directions. Queries carry the
// client's own history; the server keeps no session state.
type Message struct {
	Type    string           `json:"type"`
	Content string           `json:"content"`
	History []models.Message `json:"history,omitempty"`
}

// Server exposes the retrieval core over HTTP: streamed answers on /ws,
// uploads on /ingest, provenance deletion on /sources/{id}.
type Server struct {
	engine      *llm.ChatEngine
	ingestor    *ingest.Ingestor
	vectorStore types.VectorStore
}

func New(cfg *config.Config) (*Server, error) {
	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:   cfg.Embedding.Model,
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
	})
	if err != nil {
		return nil, err
	}

	vectorStore, err := store.NewWithConfig(store.Config{
		Backend:    store.Backend(cfg.Store.Backend),
		URL:        cfg.Store.URL,
		Collection: cfg.Store.Collection,
		VectorDim:  cfg.Embedding.Dimension,
		BatchSize:  cfg.Store.BatchSize,
	}, embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	reranker := rerank.NewWithConfig(rerank.RerankConfig{
		Enabled: cfg.Rerank.Enabled,
		BaseURL: cfg.Rerank.BaseURL,
		APIKey:  cfg.Rerank.APIKey,
		Model:   cfg.Rerank.Model,
		TopK:    cfg.Rerank.TopK,
	})

	engine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		SearchK:     cfg.LLM.SearchK,
		NoThink:     cfg.LLM.NoThink,
	}, vectorStore, reranker)
	if err != nil {
		vectorStore.Close()
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	ingestor := ingest.NewWithConfig(ingest.IngestorConfig{
		TempDir: cfg.Ingest.TempDir,
		Splitter: splitter.SplitterConfig{
			ChunkSize:    cfg.Splitter.ChunkSize,
			ChunkOverlap: cfg.Splitter.ChunkOverlap,
		},
	}, vectorStore)

	return &Server{
		engine:      engine,
		ingestor:    ingestor,
		vectorStore: vectorStore,
	}, nil
}

func (s *Server) Close() {
	s.vectorStore.Close()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/ingest", s.handleIngest)
	mux.HandleFunc("/sources/", s.handleDeleteSource)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

func (s *Server) ListenAndServe(addr string) error {
	log.Printf("Starting server on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendMessage(conn, "error", fmt.Sprintf("bad message: %v", err))
			continue
		}
		if msg.Type != "query" || strings.TrimSpace(msg.Content) == "" {
			s.sendMessage(conn, "error", "expected a query message with content")
			continue
		}

		s.streamAnswer(ctx, conn, msg)
	}
}

func (s *Server) streamAnswer(ctx context.Context, conn *websocket.Conn, msg Message) {
	stream, err := s.engine.ChatStream(ctx, msg.Content, msg.History)
	if err != nil {
		s.sendMessage(conn, "error", err.Error())
		return
	}

	for token := range stream {
		if token.Err != nil {
			s.sendMessage(conn, "error", token.Err.Error())
			return
		}
		s.sendMessage(conn, "stream", token.Content)
	}
	s.sendMessage(conn, "done", "")
}

type ingestResponse struct {
	SourceID   string `json:"source_id,omitempty"`
	FileName   string `json:"file_name"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expected multipart upload", http.StatusBadRequest)
		return
	}

	// Multipart parts must be consumed in order, so files are ingested one
	// at a time here; the CLI path uses IngestAll for parallelism. A failed
	// file is reported in its slot and does not stop the rest.
	var results []ingestResponse
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		if part.FileName() == "" {
			continue
		}

		receipt, err := s.ingestor.Ingest(r.Context(), ingest.Upload{Name: part.FileName(), Content: part})
		if err != nil {
			results = append(results, ingestResponse{FileName: part.FileName(), Error: err.Error()})
			continue
		}
		results = append(results, ingestResponse{
			SourceID:   receipt.Source.ID,
			FileName:   part.FileName(),
			ChunkCount: receipt.ChunkCount,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sourceID := strings.TrimPrefix(r.URL.Path, "/sources/")
	if sourceID == "" {
		http.Error(w, "missing source id", http.StatusBadRequest)
		return
	}

	found, err := s.vectorStore.DeleteBySource(r.Context(), sourceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "source not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"deleted": sourceID})
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) {
	msg := Message{
		Type:    msgType,
		Content: content,
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}
