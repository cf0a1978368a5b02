package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/lichenchen/pharmaquery/internal/models"
)

type RerankConfig struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Model   string
	TopK    int
	Timeout time.Duration
}

// Reranker asks a cross-encoder service to reorder retrieval candidates.
// It is strictly best-effort: any service problem leaves the candidates in
// their original order, and the caller cannot tell the difference from a
// service that agreed with the retriever.
type Reranker struct {
	config RerankConfig
	client *http.Client
}

func NewWithConfig(config RerankConfig) *Reranker {
	if config.TopK == 0 {
		config.TopK = 3
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &Reranker{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank returns at most TopK candidates in the order the service reports,
// or the input unchanged when reranking is disabled, unnecessary, or the
// service misbehaves in any way. Candidates are identified by position in
// the request, so duplicate texts stay distinct.
func (r *Reranker) Rerank(ctx context.Context, query string, docs []models.ScoredChunk) []models.ScoredChunk {
	if !r.config.Enabled || len(docs) <= 1 {
		return docs
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	resp, err := r.call(ctx, rerankRequest{
		Model:     r.config.Model,
		Query:     query,
		Documents: texts,
		TopN:      r.config.TopK,
	})
	if err != nil {
		log.Printf("rerank: %v; keeping original order", err)
		return docs
	}
	if len(resp.Results) == 0 {
		log.Printf("rerank: response carried no results; keeping original order")
		return docs
	}

	reranked := make([]models.ScoredChunk, 0, len(resp.Results))
	for _, result := range resp.Results {
		if result.Index < 0 || result.Index >= len(docs) {
			log.Printf("rerank: result index %d out of range; keeping original order", result.Index)
			return docs
		}
		doc := docs[result.Index]
		doc.Score = result.RelevanceScore
		reranked = append(reranked, doc)
	}

	if len(reranked) > r.config.TopK {
		reranked = reranked[:r.config.TopK]
	}
	return reranked
}

func (r *Reranker) call(ctx context.Context, request rerankRequest) (*rerankResponse, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.BaseURL+"/rerank", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank service returned %s", resp.Status)
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	return &out, nil
}
