package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lawgraph/counsel/internal/config"
	"github.com/lawgraph/counsel/internal/core/ports"
	"github.com/lawgraph/counsel/internal/core/safety"
	"github.com/lawgraph/counsel/internal/core/usecase"
	"github.com/lawgraph/counsel/internal/infrastructure/lexical/memindex"
	"github.com/lawgraph/counsel/internal/infrastructure/llm/ollama"
	openaillm "github.com/lawgraph/counsel/internal/infrastructure/llm/openai"
	"github.com/lawgraph/counsel/internal/infrastructure/queue/nats"
	"github.com/lawgraph/counsel/internal/infrastructure/repository/postgres"
	"github.com/lawgraph/counsel/internal/infrastructure/rerank/crossencoder"
	"github.com/lawgraph/counsel/internal/infrastructure/rerank/overlap"
	"github.com/lawgraph/counsel/internal/infrastructure/resilience"
	"github.com/lawgraph/counsel/internal/infrastructure/tokenizer"
	"github.com/lawgraph/counsel/internal/infrastructure/vector/qdrant"
	"github.com/lawgraph/counsel/internal/infrastructure/websearch/duckduckgo"
	"github.com/lawgraph/counsel/internal/observability/logging"
	"github.com/lawgraph/counsel/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Log    *slog.Logger

	Queue    ports.AuditTrail
	Ask      ports.QuestionService
	Indexer  ports.CorpusIndexer
	Sessions ports.SessionStore
	Audits   ports.AuditStore

	APIMetrics    *metrics.HTTPServerMetrics
	WorkerMetrics *metrics.WorkerMetrics

	closeFn func()
}

// New wires the full pipeline. Both binaries call it; service names the
// process in logs and token-usage series.
func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	log := logging.NewLogger(service, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	chunks := postgres.NewChunkRepository(db)
	audits := postgres.NewAuditRepository(db)
	sessions := postgres.NewSessionRepository(db)

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	apiMetrics := metrics.NewHTTPServerMetrics("api")
	workerMetrics := metrics.NewWorkerMetrics("worker")
	onUsage := func(operation, model string, promptTokens, completionTokens int) {
		apiMetrics.RecordTokenUsage(service, operation, model, promptTokens, completionTokens)
	}

	var (
		generator ports.AnswerGenerator
		embedder  ports.Embedder
		intents   ports.IntentModel
	)
	switch cfg.LLMProvider {
	case "openai":
		client := openaillm.NewWithOptions(cfg.OpenAIAPIKey, cfg.OpenAIGenModel, cfg.OpenAIEmbedModel, openaillm.Options{
			BaseURL:            cfg.OpenAIBaseURL,
			ResilienceExecutor: executor,
			OnUsage:            onUsage,
		})
		generator = openaillm.NewGenerator(client)
		embedder = openaillm.NewEmbedder(client)
		intents = openaillm.NewIntentClassifier(client)
	case "ollama", "":
		client := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
			ResilienceExecutor: executor,
			OnUsage:            onUsage,
		})
		generator = ollama.NewGenerator(client)
		embedder = ollama.NewEmbedder(client)
		intents = ollama.NewIntentClassifier(client)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}

	vectors := qdrant.NewWithOptions(cfg.QdrantURL, cfg.QdrantCollection, qdrant.Options{
		ResilienceExecutor: executor,
	})

	var lexical ports.LexicalSearcher
	switch cfg.LexicalBackend {
	case "qdrant":
		// Sparse vectors live next to the dense ones in the same collection.
		lexical = vectors
	case "memindex", "":
		index := memindex.New(chunks, log)
		if err := index.Reload(ctx); err != nil {
			return nil, fmt.Errorf("build lexical index: %w", err)
		}
		lexical = index
	default:
		return nil, fmt.Errorf("unknown lexical backend %q", cfg.LexicalBackend)
	}

	// An empty backend infers http from a configured URL, otherwise none.
	rerankBackend := cfg.RerankBackend
	if rerankBackend == "" {
		if cfg.RerankerURL != "" {
			rerankBackend = "http"
		} else {
			rerankBackend = "none"
		}
	}
	var reranker ports.Reranker
	switch rerankBackend {
	case "http":
		if cfg.RerankerURL == "" {
			return nil, fmt.Errorf("rerank backend http needs RERANKER_URL")
		}
		reranker = crossencoder.NewWithOptions(cfg.RerankerURL, crossencoder.Options{
			ResilienceExecutor: executor,
		})
	case "overlap":
		reranker = overlap.New()
	case "none":
	default:
		return nil, fmt.Errorf("unknown rerank backend %q", cfg.RerankBackend)
	}

	rules, err := safety.LoadRules(cfg.SafetyRulesPath)
	if err != nil {
		return nil, fmt.Errorf("load safety rules: %w", err)
	}
	guard := safety.NewGuard(rules, safety.DefaultPolicy())

	counter, err := tokenizer.New(cfg.TokenEncoding)
	if err != nil {
		return nil, fmt.Errorf("init tokenizer: %w", err)
	}

	// A disabled web search leaves the port nil; the web stage then answers
	// from the question alone.
	var web ports.WebSearcher
	if cfg.WebSearchEnabled {
		web = duckduckgo.New(cfg.WebSearchURL)
	}

	retriever := usecase.NewHybridRetriever(embedder, vectors, lexical, reranker, chunks, usecase.RetrievalConfig{
		KVector:         cfg.RetrievalKVec,
		KLexical:        cfg.RetrievalKLex,
		RRFK:            cfg.RetrievalRRFK,
		Rerank:          reranker != nil,
		RerankK:         cfg.RerankTopN,
		MaxPassageChars: cfg.RerankMaxChars,
		DefaultTopK:     cfg.RetrievalTopK,
	}, log)

	intentRouter := usecase.NewIntentRouter(intents, usecase.RouterConfig{
		Mode:          cfg.RouterMode,
		MinConfidence: cfg.RouterFloor,
	}, log)

	rewriter := usecase.NewRewriter(generator, embedder, retriever, usecase.RewriteConfig{
		SimilarityThreshold: cfg.RewriteSimilarity,
	}, log)

	synthesizer := usecase.NewSynthesizer(retriever, chunks, generator, counter, guard, usecase.SynthesizerConfig{
		Mode:            cfg.AnswerMode,
		TopKCtx:         cfg.TopKCtx,
		ConfidenceGate:  cfg.ConfidenceGate,
		MaxPromptTokens: cfg.MaxPromptTokens,
	}, log)

	orchestrator := usecase.NewOrchestrator(intentRouter, rewriter, synthesizer, guard, web, queue, usecase.OrchestratorConfig{
		MaxRewrites:    cfg.MaxRewrites,
		TopKCtx:        cfg.TopKCtx,
		ConfidenceGate: cfg.ConfidenceGate,
		WebResults:     cfg.WebResults,
	}, log)

	indexer := usecase.NewIndexSyncer(chunks, embedder, vectors, usecase.IndexSyncConfig{
		BatchSize: cfg.IndexEmbedBatch,
	}, log)

	return &App{
		Config: cfg,
		Log:    log,

		Queue:    queue,
		Ask:      orchestrator,
		Indexer:  indexer,
		Sessions: sessions,
		Audits:   audits,

		APIMetrics:    apiMetrics,
		WorkerMetrics: workerMetrics,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
