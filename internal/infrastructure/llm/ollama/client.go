package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lawgraph/counsel/internal/core/domain"
	"github.com/lawgraph/counsel/internal/infrastructure/resilience"
)

// UsageFunc receives approximate token counts reported by the model
// server, one call per completed request.
type UsageFunc func(operation, model string, promptTokens, completionTokens int)

type Client struct {
	baseURL     string
	genModel    string
	embedModel  string
	temperature float64
	numPredict  int
	httpClient  *http.Client
	executor    *resilience.Executor
	onUsage     UsageFunc
}

type Options struct {
	Timeout            time.Duration
	Temperature        float64
	NumPredict         int
	ResilienceExecutor *resilience.Executor
	OnUsage            UsageFunc
}

func New(baseURL, genModel, embedModel string) *Client {
	return NewWithOptions(baseURL, genModel, embedModel, Options{})
}

func NewWithOptions(baseURL, genModel, embedModel string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	temperature := options.Temperature
	if temperature <= 0 {
		temperature = 0.2
	}
	numPredict := options.NumPredict
	if numPredict <= 0 {
		numPredict = 1024
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		genModel:    genModel,
		embedModel:  embedModel,
		temperature: temperature,
		numPredict:  numPredict,
		httpClient:  &http.Client{Timeout: timeout},
		executor:    options.ResilienceExecutor,
		onUsage:     options.OnUsage,
	}
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, prompt string, contexts []string, system string) (string, error) {
	return g.client.generateText(ctx, buildGeneratePrompt(prompt, contexts), system)
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings      [][]float32 `json:"embeddings"`
		PromptEvalCount int         `json:"prompt_eval_count"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(response.Embeddings))
	}
	e.client.recordUsage("embed", e.client.embedModel, response.PromptEvalCount, 0)
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

type IntentClassifier struct {
	client *Client
}

func NewIntentClassifier(client *Client) *IntentClassifier {
	return &IntentClassifier{client: client}
}

func (c *IntentClassifier) ClassifyIntent(ctx context.Context, question string) (domain.IntentResult, error) {
	respText, err := c.client.generateJSON(ctx, buildIntentPrompt(question))
	if err != nil {
		return domain.IntentResult{}, err
	}

	var parsed struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &parsed); err != nil {
		return domain.IntentResult{}, fmt.Errorf("parse intent json: %w", err)
	}

	label := domain.Intent(strings.ToLower(strings.TrimSpace(parsed.Label)))
	switch label {
	case domain.IntentRAG, domain.IntentWeb, domain.IntentChitchat:
	default:
		return domain.IntentResult{}, fmt.Errorf("unexpected intent label %q", parsed.Label)
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	return domain.IntentResult{
		Label:      label,
		Confidence: parsed.Confidence,
		Reason:     strings.TrimSpace(parsed.Reason),
	}, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": c.temperature,
			"num_predict": c.numPredict,
		},
	}
	return c.generate(ctx, reqBody)
}

func (c *Client) generateText(ctx context.Context, prompt, system string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": c.temperature,
			"num_predict": c.numPredict,
		},
	}
	if system != "" {
		reqBody["system"] = system
	}
	return c.generate(ctx, reqBody)
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response        string `json:"response"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	c.recordUsage("generate", c.genModel, response.PromptEvalCount, response.EvalCount)
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) recordUsage(operation, model string, promptTokens, completionTokens int) {
	if c.onUsage == nil {
		return
	}
	if promptTokens <= 0 && completionTokens <= 0 {
		return
	}
	c.onUsage(operation, model, promptTokens, completionTokens)
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
