// Package generator produces grounded answers from retrieved passages
// by streaming a chat completion from an OpenAI-compatible API.
package generator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seemantic/seemantic/pkg/config"
	"github.com/seemantic/seemantic/pkg/httpclient"
	"github.com/seemantic/seemantic/pkg/search"
)

const promptTemplate = `Context information is below.
---------------------
%s
---------------------
Given the context information and not prior knowledge, answer the query.
Query: %s
Answer:`

// Generator streams answer tokens for a query grounded in passages.
type Generator interface {
	Generate(ctx context.Context, query string, results []search.DocumentResult) (<-chan string, error)
}

// ChatGenerator talks to an OpenAI-compatible /chat/completions
// endpoint with streaming enabled.
type ChatGenerator struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
	model   string
}

var _ Generator = (*ChatGenerator)(nil)

// NewChatGeneratorFromConfig creates a ChatGenerator.
func NewChatGeneratorFromConfig(cfg *config.GeneratorConfig) (*ChatGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("generator API key is required")
	}
	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
		httpclient.WithMaxRetries(2),
	)
	return &ChatGenerator{
		client:  client,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// buildPrompt renders retrieved passages into the grounding prompt,
// one titled block per document.
func buildPrompt(query string, results []search.DocumentResult) string {
	var sb strings.Builder
	for _, result := range results {
		fmt.Fprintf(&sb, "__Document %s__:\n", result.URI)
		for _, passage := range result.Passages {
			sb.WriteString(passage.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return fmt.Sprintf(promptTemplate, strings.TrimSpace(sb.String()), query)
}

// Generate streams answer deltas. The returned channel is closed when
// the stream ends or ctx is cancelled.
func (g *ChatGenerator) Generate(ctx context.Context, query string, results []search.DocumentResult) (<-chan string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    g.model,
		Messages: []chatMessage{{Role: "user", Content: buildPrompt(query, results)}},
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(detail))
	}

	deltas := make(chan string)
	go func() {
		defer close(deltas)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}
			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case deltas <- chunk.Choices[0].Delta.Content:
			case <-ctx.Done():
				return
			}
		}
	}()
	return deltas, nil
}
