package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seemantic/seemantic/pkg/config"
	"github.com/seemantic/seemantic/pkg/httpclient"
	"github.com/seemantic/seemantic/pkg/model"
)

const (
	taskPassage = "retrieval.passage"
	taskQuery   = "retrieval.query"
)

// JinaEmbedder implements Embedder against the Jina embeddings API.
type JinaEmbedder struct {
	client    *httpclient.Client
	apiKey    string
	baseURL   string
	model     string
	dimension int
	metric    model.DistanceMetric
	maxChars  int
}

// jinaEmbedRequest is the request payload for the embeddings endpoint.
type jinaEmbedRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task"`
	LateChunking  bool     `json:"late_chunking"`
	Dimensions    int      `json:"dimensions"`
	EmbeddingType string   `json:"embedding_type"`
	Input         []string `json:"input"`
}

// jinaEmbedResponse is the response from the embeddings endpoint.
type jinaEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// NewJinaEmbedderFromConfig creates a JinaEmbedder.
func NewJinaEmbedderFromConfig(cfg *config.EmbedderConfig) (*JinaEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Jina embedder")
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
	)
	return &JinaEmbedder{
		client:    client,
		apiKey:    cfg.APIKey,
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		metric:    model.DistanceMetric(cfg.DistanceMetric),
		maxChars:  cfg.MaxChars,
	}, nil
}

// EmbedDocument embeds the given chunks of a parsed document. Chunks
// are grouped into provider calls whose concatenated character length
// stays under the configured budget.
func (e *JinaEmbedder) EmbedDocument(ctx context.Context, parsed model.ParsedDocument, chunks []model.Chunk) ([]model.EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content(parsed.Markdown)
	}

	result := make([]model.EmbeddedChunk, 0, len(chunks))
	next := 0
	for _, batch := range batchByChars(texts, e.maxChars) {
		vectors, err := e.embed(ctx, taskPassage, batch)
		if err != nil {
			return nil, err
		}
		for _, vector := range vectors {
			result = append(result, model.EmbeddedChunk{
				Chunk:  chunks[next],
				Vector: vector,
			})
			next++
		}
	}

	if len(result) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(result), len(chunks))
	}
	return result, nil
}

// EmbedQuery embeds a search query.
func (e *JinaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, taskQuery, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for a single query", len(vectors))
	}
	return vectors[0], nil
}

// Dimension returns the output vector dimension.
func (e *JinaEmbedder) Dimension() int {
	return e.dimension
}

// DistanceMetric returns the metric declared by the model.
func (e *JinaEmbedder) DistanceMetric() model.DistanceMetric {
	return e.metric
}

func (e *JinaEmbedder) embed(ctx context.Context, task string, input []string) ([][]float32, error) {
	req := jinaEmbedRequest{
		Model:         e.model,
		Task:          task,
		LateChunking:  false,
		Dimensions:    e.dimension,
		EmbeddingType: "float",
		Input:         input,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach embedding provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding provider returned status %d: %s", resp.StatusCode, string(detail))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response jinaEmbedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Data) != len(input) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(response.Data), len(input))
	}

	// Sort embeddings by index to match input order.
	vectors := make([][]float32, len(response.Data))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("provider returned out-of-range embedding index %d", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}

	return vectors, nil
}

var _ Embedder = (*JinaEmbedder)(nil)
