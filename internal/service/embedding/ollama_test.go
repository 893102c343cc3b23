package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestOllamaProvider(t *testing.T) {
	var mu sync.Mutex
	var prompts []string

	// Mock Ollama server returning a 1024-dim embedding.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		mu.Lock()
		prompts = append(prompts, req.Prompt)
		mu.Unlock()

		// Return a mock 1024-dim embedding.
		vec := make([]float32, 1024)
		for i := range vec {
			vec[i] = float32(i) * 0.001
		}
		if err := json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: vec}); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	defer server.Close()

	t.Run("dimensions", func(t *testing.T) {
		p := NewOllamaProvider(server.URL, "test-model", 1024)
		if p.Dimensions() != 1024 {
			t.Errorf("expected 1024, got %d", p.Dimensions())
		}
	})

	t.Run("document mode embeds verbatim", func(t *testing.T) {
		p := NewOllamaProvider(server.URL, "test-model", 1024)
		mu.Lock()
		prompts = nil
		mu.Unlock()

		vec, err := p.Embed(context.Background(), ModeDocument, "heart disease records")
		if err != nil {
			t.Fatal(err)
		}
		if len(vec.Slice()) != 1024 {
			t.Errorf("expected 1024-dim vector, got %d", len(vec.Slice()))
		}
		mu.Lock()
		defer mu.Unlock()
		if prompts[0] != "heart disease records" {
			t.Errorf("document prompt was rewritten: %q", prompts[0])
		}
	})

	t.Run("query mode applies retrieval prefix", func(t *testing.T) {
		p := NewOllamaProvider(server.URL, "test-model", 1024)
		mu.Lock()
		prompts = nil
		mu.Unlock()

		if _, err := p.Embed(context.Background(), ModeQuery, "diabetes analysis"); err != nil {
			t.Fatal(err)
		}
		mu.Lock()
		defer mu.Unlock()
		if !strings.HasPrefix(prompts[0], queryPrefix) {
			t.Errorf("query prompt missing retrieval prefix: %q", prompts[0])
		}
		if !strings.HasSuffix(prompts[0], "diabetes analysis") {
			t.Errorf("query text missing from prompt: %q", prompts[0])
		}
	})

	t.Run("embed batch", func(t *testing.T) {
		p := NewOllamaProvider(server.URL, "test-model", 1024)
		vecs, err := p.EmbedBatch(context.Background(), ModeDocument, []string{"a", "b", "c"})
		if err != nil {
			t.Fatal(err)
		}
		if len(vecs) != 3 {
			t.Errorf("expected 3 vectors, got %d", len(vecs))
		}
		for i, vec := range vecs {
			if len(vec.Slice()) != 1024 {
				t.Errorf("vector %d: expected 1024-dim, got %d", i, len(vec.Slice()))
			}
		}
	})

	t.Run("embed batch empty", func(t *testing.T) {
		p := NewOllamaProvider(server.URL, "test-model", 1024)
		vecs, err := p.EmbedBatch(context.Background(), ModeDocument, nil)
		if err != nil {
			t.Fatal(err)
		}
		if vecs != nil {
			t.Errorf("expected nil for empty input, got %v", vecs)
		}
	})
}

func TestOllamaProviderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "test-model", 1024)
	if _, err := p.Embed(context.Background(), ModeQuery, "anything"); err == nil {
		t.Fatal("expected error from 500 response")
	}
}
