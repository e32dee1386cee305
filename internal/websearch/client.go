// Package websearch is a stateless helper that runs a web search
// through a SerpAPI-compatible endpoint and condenses the top organic
// results into a short markdown summary.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeturtle/reviewd/internal/config"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyQuery indicates an empty search query.
	ErrEmptyQuery = errors.New("empty search query")

	// ErrSearchFailed indicates the search request failed.
	ErrSearchFailed = errors.New("web search failed")
)

// maxResults is how many organic results make it into the summary.
const maxResults = 3

// Config holds configuration for the search client.
type Config struct {
	// BaseURL is the search endpoint.
	BaseURL string

	// APIKey authenticates against the endpoint.
	APIKey config.Secret

	// Timeout bounds each search request. Default 15s.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if !c.APIKey.IsSet() {
		return fmt.Errorf("%w: API key required", ErrInvalidConfig)
	}
	return nil
}

// Client performs web searches.
type Client struct {
	config Config
	client *http.Client
}

// NewClient creates a search client with the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// organicResult is one entry of the endpoint's organic_results list.
type organicResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type searchResponse struct {
	OrganicResults []organicResult `json:"organic_results"`
}

// Result is the condensed outcome of one search.
type Result struct {
	Query   string `json:"query"`
	Summary string `json:"web_search_summary"`
}

// Search runs a query and summarizes the top organic results. A query
// with no results yields an empty summary, not an error.
func (c *Client) Search(ctx context.Context, query string) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("engine", "google")
	params.Set("api_key", c.config.APIKey.Value())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrSearchFailed, resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &Result{Query: query, Summary: summarize(parsed.OrganicResults)}, nil
}

// summarize renders the top results as markdown bullet points.
func summarize(results []organicResult) string {
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- **%s**: %s (%s)\n", r.Title, r.Snippet, r.Link)
	}
	return strings.TrimRight(b.String(), "\n")
}
