package generator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seemantic/seemantic/pkg/config"
	"github.com/seemantic/seemantic/pkg/model"
	"github.com/seemantic/seemantic/pkg/search"
)

func TestBuildPrompt(t *testing.T) {
	results := []search.DocumentResult{
		{URI: "docs/a.md", Passages: []search.Passage{
			{Span: model.Chunk{Start: 0, End: 5}, Content: "first passage"},
			{Span: model.Chunk{Start: 5, End: 9}, Content: "second passage"},
		}},
		{URI: "docs/b.md", Passages: []search.Passage{
			{Span: model.Chunk{Start: 0, End: 3}, Content: "other doc"},
		}},
	}

	prompt := buildPrompt("what is this", results)
	assert.Contains(t, prompt, "__Document docs/a.md__:")
	assert.Contains(t, prompt, "__Document docs/b.md__:")
	assert.Contains(t, prompt, "first passage")
	assert.Contains(t, prompt, "other doc")
	assert.Contains(t, prompt, "Query: what is this")
	assert.Contains(t, prompt, "Given the context information and not prior knowledge")
	// Context block comes before the query.
	assert.Less(t, strings.Index(prompt, "first passage"), strings.Index(prompt, "Query:"))
}

func TestGenerateStreamsDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, delta := range []string{"Hello", " there"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	gen, err := NewChatGeneratorFromConfig(&config.GeneratorConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "mistral-small-latest",
	})
	require.NoError(t, err)

	deltas, err := gen.Generate(context.Background(), "greeting", nil)
	require.NoError(t, err)

	var got []string
	for delta := range deltas {
		got = append(got, delta)
	}
	assert.Equal(t, []string{"Hello", " there"}, got)
}

func TestGenerateRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	gen, err := NewChatGeneratorFromConfig(&config.GeneratorConfig{
		BaseURL: srv.URL,
		APIKey:  "wrong",
		Model:   "mistral-small-latest",
	})
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNewChatGeneratorRequiresAPIKey(t *testing.T) {
	_, err := NewChatGeneratorFromConfig(&config.GeneratorConfig{BaseURL: "http://x"})
	assert.Error(t, err)
}
