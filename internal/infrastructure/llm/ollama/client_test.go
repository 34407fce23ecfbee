package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lawgraph/counsel/internal/core/domain"
	"github.com/lawgraph/counsel/internal/infrastructure/resilience"
)

func TestGenerateSendsSystemAndContexts(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":" grounded answer ","prompt_eval_count":5,"eval_count":7}`))
	}))
	defer server.Close()

	var usageOp string
	var usageIn, usageOut int
	client := NewWithOptions(server.URL, "gen", "embed", Options{
		OnUsage: func(operation, model string, promptTokens, completionTokens int) {
			usageOp = operation
			usageIn = promptTokens
			usageOut = completionTokens
		},
	})
	gen := NewGenerator(client)

	text, err := gen.Generate(context.Background(), "User question: what applies?", []string{"CHUNK_ID: c1\nbody"}, "system rules")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "grounded answer" {
		t.Fatalf("expected trimmed response, got %q", text)
	}
	prompt, _ := captured["prompt"].(string)
	if !strings.Contains(prompt, "CHUNK_ID: c1") || !strings.Contains(prompt, "what applies?") {
		t.Fatalf("unexpected prompt: %s", prompt)
	}
	if captured["system"] != "system rules" {
		t.Fatalf("expected system field, got %v", captured["system"])
	}
	if usageOp != "generate" || usageIn != 5 || usageOut != 7 {
		t.Fatalf("unexpected usage: %s %d %d", usageOp, usageIn, usageOut)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed")
	embedder := NewEmbedder(client)
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected status error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary kind for a 502, got %v", err)
	}
}

func TestEmbedRejectsCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2]]}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed")
	embedder := NewEmbedder(client)
	_, err := embedder.Embed(context.Background(), []string{"one", "two"})
	if err == nil || !strings.Contains(err.Error(), "mismatch") {
		t.Fatalf("expected count mismatch error, got %v", err)
	}
}

func TestClassifyIntentParsesStrictJSON(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"{\"label\":\"rag\",\"confidence\":0.9,\"reason\":\"legal terms\"}"}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed")
	classifier := NewIntentClassifier(client)
	result, err := classifier.ClassifyIntent(context.Background(), "What does section 12 say?")
	if err != nil {
		t.Fatalf("ClassifyIntent() error = %v", err)
	}
	if result.Label != domain.IntentRAG || result.Confidence != 0.9 || result.Reason != "legal terms" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if captured["format"] != "json" {
		t.Fatalf("expected json format request, got %v", captured["format"])
	}
}

func TestClassifyIntentRejectsUnknownLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"{\"label\":\"other\",\"confidence\":0.9,\"reason\":\"\"}"}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed")
	classifier := NewIntentClassifier(client)
	if _, err := classifier.ClassifyIntent(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for unknown label")
	}
}

func TestGenerateRetriesThroughExecutor(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
	client := NewWithOptions(server.URL, "gen", "embed", Options{ResilienceExecutor: exec})
	gen := NewGenerator(client)

	text, err := gen.Generate(context.Background(), "q", nil, "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "ok" || attempts != 2 {
		t.Fatalf("expected retry then success, got %q after %d attempts", text, attempts)
	}
}
