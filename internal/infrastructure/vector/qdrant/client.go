package qdrant

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lawgraph/counsel/internal/core/domain"
	"github.com/lawgraph/counsel/internal/infrastructure/resilience"
)

const (
	defaultTimeout = 60 * time.Second

	denseVectorName  = "dense"
	sparseVectorName = "lexical"

	// Search hits carry a snippet, not the stored text; full text is
	// hydrated from the chunk store when a stage needs it.
	snippetChars = 400
)

// Client speaks the Qdrant HTTP JSON API for one collection holding a dense
// vector and a sparse lexical vector per chunk. It serves both retrieval legs:
// SearchVector over the dense vectors and SearchLexical over the sparse ones.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, collection string) *Client {
	return NewWithOptions(baseURL, collection, Options{})
}

func NewWithOptions(baseURL, collection string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.ResilienceExecutor,
	}
}

type queryResponse struct {
	Result struct {
		Points []queryPoint `json:"points"`
	} `json:"result"`
}

type queryPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// SearchVector ranks chunks by similarity to the query embedding.
func (c *Client) SearchVector(ctx context.Context, queryVector []float32, topK int) ([]domain.Hit, error) {
	if len(queryVector) == 0 || topK <= 0 {
		return nil, nil
	}

	payload := map[string]any{
		"query":        queryVector,
		"using":        denseVectorName,
		"limit":        topK,
		"with_payload": true,
	}

	var resp queryResponse
	path := fmt.Sprintf("/collections/%s/points/query", c.collection)
	if err := c.do(ctx, http.MethodPost, path, payload, &resp, "search_vector"); err != nil {
		return nil, err
	}
	return pointsToHits(resp.Result.Points), nil
}

// SearchLexical ranks chunks by sparse term overlap with the query.
func (c *Client) SearchLexical(ctx context.Context, query string, topK int) ([]domain.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	sparse := encodeSparseQuery(query)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}

	payload := map[string]any{
		"query":        sparse,
		"using":        sparseVectorName,
		"limit":        topK,
		"with_payload": true,
	}

	var resp queryResponse
	path := fmt.Sprintf("/collections/%s/points/query", c.collection)
	if err := c.do(ctx, http.MethodPost, path, payload, &resp, "search_lexical"); err != nil {
		return nil, err
	}
	return pointsToHits(resp.Result.Points), nil
}

// UpsertChunks writes chunks with their dense vectors and derived sparse
// vectors. vectors must pair with chunks by index.
func (c *Client) UpsertChunks(ctx context.Context, chunks []domain.StoredChunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch: %d vs %d", len(chunks), len(vectors))
	}

	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  map[string]any `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, point{
			ID: uuid.NewString(),
			Vector: map[string]any{
				denseVectorName:  vectors[i],
				sparseVectorName: encodeSparseDocument(chunk.Text, chunk.Meta.Section),
			},
			Payload: map[string]any{
				"chunk_id": chunk.ID,
				"source":   chunk.Meta.Source,
				"path":     chunk.Meta.Path,
				"section":  chunk.Meta.Section,
				"text":     chunk.Text,
			},
		})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	return c.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil, "upsert")
}

// EnsureCollection creates the collection with the dense and sparse vector
// schemas. An existing collection is left untouched.
func (c *Client) EnsureCollection(ctx context.Context, vectorSize int) error {
	return c.ensureCollection(ctx, vectorSize)
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	payload := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{
				"size":     vectorSize,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	}

	path := fmt.Sprintf("/collections/%s", c.collection)
	err := c.do(ctx, http.MethodPut, path, payload, nil, "ensure")
	if err != nil && !isConflict(err) {
		return err
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

func pointsToHits(points []queryPoint) []domain.Hit {
	hits := make([]domain.Hit, 0, len(points))
	for _, p := range points {
		id := getStringPayload(p.Payload, "chunk_id")
		if id == "" {
			id = fmt.Sprintf("%v", p.ID)
		}
		text := getStringPayload(p.Payload, "text")
		if len(text) > snippetChars {
			text = text[:snippetChars]
		}
		hits = append(hits, domain.Hit{
			ID:      id,
			Text:    text,
			Section: getStringPayload(p.Payload, "section"),
			Source:  getStringPayload(p.Payload, "source"),
			Path:    getStringPayload(p.Payload, "path"),
			Score:   p.Score,
			Rank:    len(hits) + 1,
		})
	}
	return hits
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
