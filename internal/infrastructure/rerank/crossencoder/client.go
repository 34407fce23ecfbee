package crossencoder

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lawgraph/counsel/internal/infrastructure/resilience"
)

const defaultTimeout = 30 * time.Second

// Client scores (query, passage) pairs against an external cross-encoder
// service. Request: {"query", "candidates":[{"id","text"}], "top_n"}.
// Response: {"ranking":[{"id","score"}]}, higher score is better.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string) *Client {
	return NewWithOptions(baseURL, Options{})
}

func NewWithOptions(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.ResilienceExecutor,
	}
}

type scoreCandidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type scoreRequest struct {
	Query      string           `json:"query"`
	Candidates []scoreCandidate `json:"candidates"`
	TopN       int              `json:"top_n"`
}

type scoreResponse struct {
	Ranking []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"ranking"`
}

// ScorePairs returns one score per passage, paired by index. Candidate ids on
// the wire are the passage indexes; the service must rank every candidate, so
// top_n is always the full candidate count.
func (c *Client) ScorePairs(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	payload := scoreRequest{Query: query, TopN: len(passages)}
	payload.Candidates = make([]scoreCandidate, len(passages))
	for i, p := range passages {
		payload.Candidates[i] = scoreCandidate{ID: strconv.Itoa(i), Text: p}
	}

	var resp scoreResponse
	if err := c.postJSON(ctx, payload, &resp, "score"); err != nil {
		return nil, err
	}

	scores := make([]float64, len(passages))
	seen := make([]bool, len(passages))
	for _, r := range resp.Ranking {
		i, err := strconv.Atoi(r.ID)
		if err != nil || i < 0 || i >= len(passages) {
			return nil, fmt.Errorf("rerank ranking references unknown candidate %q", r.ID)
		}
		if seen[i] {
			return nil, fmt.Errorf("rerank ranking repeats candidate %q", r.ID)
		}
		seen[i] = true
		scores[i] = r.Score
	}
	for i := range seen {
		if !seen[i] {
			return nil, fmt.Errorf("rerank ranking missing candidate %d of %d", i, len(passages))
		}
	}
	return scores, nil
}
