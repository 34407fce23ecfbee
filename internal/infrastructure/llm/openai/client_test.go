package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lawgraph/counsel/internal/core/domain"
)

func newChatServer(t *testing.T, content string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Fatalf("decode request: %v", err)
			}
		}
		response := map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": content}},
			},
			"usage": map[string]any{"prompt_tokens": 11, "completion_tokens": 4},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
}

func TestGenerateSendsSystemAndUserMessages(t *testing.T) {
	var captured map[string]any
	server := newChatServer(t, " an answer ", &captured)
	defer server.Close()

	var usageIn, usageOut int
	client := NewWithOptions("key", "gpt-4o-mini", "text-embedding-3-small", Options{
		BaseURL: server.URL,
		OnUsage: func(_, _ string, promptTokens, completionTokens int) {
			usageIn = promptTokens
			usageOut = completionTokens
		},
	})
	gen := NewGenerator(client)

	text, err := gen.Generate(context.Background(), "User question: what applies?", []string{"CHUNK_ID: c1\nbody"}, "system rules")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "an answer" {
		t.Fatalf("expected trimmed content, got %q", text)
	}
	messages, _ := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %v", captured["messages"])
	}
	first, _ := messages[0].(map[string]any)
	if first["role"] != "system" {
		t.Fatalf("expected system message first, got %v", first)
	}
	second, _ := messages[1].(map[string]any)
	content, _ := second["content"].(string)
	if !strings.Contains(content, "CHUNK_ID: c1") || !strings.Contains(content, "what applies?") {
		t.Fatalf("unexpected user content: %s", content)
	}
	if usageIn != 11 || usageOut != 4 {
		t.Fatalf("unexpected usage: %d %d", usageIn, usageOut)
	}
}

func TestClassifyIntentRequestsJSONObject(t *testing.T) {
	var captured map[string]any
	server := newChatServer(t, `{"label":"web","confidence":0.8,"reason":"needs fresh data"}`, &captured)
	defer server.Close()

	client := NewWithOptions("key", "gpt-4o-mini", "text-embedding-3-small", Options{BaseURL: server.URL})
	classifier := NewIntentClassifier(client)

	result, err := classifier.ClassifyIntent(context.Background(), "latest ruling on data transfers")
	if err != nil {
		t.Fatalf("ClassifyIntent() error = %v", err)
	}
	if result.Label != domain.IntentWeb || result.Confidence != 0.8 {
		t.Fatalf("unexpected result: %+v", result)
	}
	format, _ := captured["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", captured["response_format"])
	}
}

func TestEmbedOrdersVectorsByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		response := map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float64{0.3, 0.4}},
				{"object": "embedding", "index": 0, "embedding": []float64{0.1, 0.2}},
			},
			"usage": map[string]any{"prompt_tokens": 6},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewWithOptions("key", "gpt-4o-mini", "text-embedding-3-small", Options{BaseURL: server.URL})
	embedder := NewEmbedder(client)

	vectors, err := embedder.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected two vectors, got %d", len(vectors))
	}
	if vectors[0][0] != float32(0.1) || vectors[1][0] != float32(0.3) {
		t.Fatalf("vectors not ordered by index: %v", vectors)
	}
}
