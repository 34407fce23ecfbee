package duckduckgo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/lawgraph/counsel/internal/core/domain"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxResults = 5

	// The endpoint serves an anomaly page to clients without a browser
	// User-Agent.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// Client scrapes the DuckDuckGo HTML endpoint. The endpoint bans aggressive
// callers, so every request goes through a client-side rate limiter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

func New(baseURL string) *Client {
	return NewWithOptions(baseURL, Options{})
}

func NewWithOptions(baseURL string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := options.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := options.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (c *Client) SearchWeb(ctx context.Context, query string, n int) ([]domain.WebResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if n <= 0 {
		n = defaultMaxResults
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("web search throttle: %w", err)
	}

	endpoint := c.baseURL + "/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build web search request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search status: %s", resp.Status)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse web search page: %w", err)
	}
	return parseResults(doc, n), nil
}
