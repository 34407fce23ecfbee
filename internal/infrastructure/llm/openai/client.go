package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/lawgraph/counsel/internal/core/domain"
	"github.com/lawgraph/counsel/internal/infrastructure/resilience"
)

// UsageFunc receives token counts from API usage blocks, one call per
// completed request.
type UsageFunc func(operation, model string, promptTokens, completionTokens int)

type Client struct {
	api         openai.Client
	genModel    string
	embedModel  string
	temperature float64
	maxTokens   int
	executor    *resilience.Executor
	onUsage     UsageFunc
}

type Options struct {
	BaseURL            string
	Temperature        float64
	MaxTokens          int
	ResilienceExecutor *resilience.Executor
	OnUsage            UsageFunc
}

func New(apiKey, genModel, embedModel string) *Client {
	return NewWithOptions(apiKey, genModel, embedModel, Options{})
}

func NewWithOptions(apiKey, genModel, embedModel string, options Options) *Client {
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if options.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(options.BaseURL))
	}
	// Retries are owned by the resilience executor, not the SDK.
	clientOpts = append(clientOpts, option.WithMaxRetries(0))

	temperature := options.Temperature
	if temperature <= 0 {
		temperature = 0.2
	}
	maxTokens := options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Client{
		api:         openai.NewClient(clientOpts...),
		genModel:    genModel,
		embedModel:  embedModel,
		temperature: temperature,
		maxTokens:   maxTokens,
		executor:    options.ResilienceExecutor,
		onUsage:     options.OnUsage,
	}
}

func (c *Client) run(ctx context.Context, operation string, call func(context.Context) error) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "openai."+operation, call, classifyOpenAIError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(operation, err)
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

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, prompt string, contexts []string, system string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(buildUserContent(prompt, contexts)))

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(g.client.genModel),
		Messages:            messages,
		Temperature:         openai.Float(g.client.temperature),
		MaxCompletionTokens: openai.Int(int64(g.client.maxTokens)),
	}
	completion, err := g.client.chat(ctx, "chat", params)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

func (c *Client) chat(ctx context.Context, operation string, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	var completion *openai.ChatCompletion
	call := func(ctx context.Context) error {
		var err error
		completion, err = c.api.Chat.Completions.New(ctx, params)
		return err
	}
	if err := c.run(ctx, operation, call); err != nil {
		return nil, err
	}
	if completion == nil || len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai %s: empty completion", operation)
	}
	c.recordUsage(operation, c.genModel, int(completion.Usage.PromptTokens), int(completion.Usage.CompletionTokens))
	return completion, nil
}

func buildUserContent(prompt string, contexts []string) string {
	if len(contexts) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString("Context:\n\n")
	for _, block := range contexts {
		b.WriteString(block)
		b.WriteString("\n\n")
	}
	b.WriteString(prompt)
	return b.String()
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

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.client.embedModel),
	}
	var resp *openai.CreateEmbeddingResponse
	call := func(ctx context.Context) error {
		var err error
		resp, err = e.client.api.Embeddings.New(ctx, params)
		return err
	}
	if err := e.client.run(ctx, "embed", call); err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Data) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Data)
		}
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), got)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vectors[d.Index] = vec
	}
	e.client.recordUsage("embed", e.client.embedModel, int(resp.Usage.PromptTokens), 0)
	return vectors, nil
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

const intentSystemPrompt = `You route user questions for a legal question-answering service.
Return strict JSON object with keys:
label (one of "rag", "web", "chitchat"), confidence (number from 0 to 1), reason (string).
Use "rag" when the internal legal corpus can answer, "web" when fresh external information is required, "chitchat" for smalltalk.
No markdown, no extra keys.`

func (c *IntentClassifier) ClassifyIntent(ctx context.Context, question string) (domain.IntentResult, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.client.genModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(intentSystemPrompt),
			openai.UserMessage(question),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	completion, err := c.client.chat(ctx, "classify_intent", params)
	if err != nil {
		return domain.IntentResult{}, err
	}

	var parsed struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	raw := extractJSONObject(completion.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
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

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
