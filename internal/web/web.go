// Package web provides the outward-facing tools of the agent: Google
// Programmable Search lookups and webpage loading with text extraction.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/llmosd/llmosd/internal/config"
)

const (
	cseEndpoint  = "https://www.googleapis.com/customsearch/v1"
	webUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	defaultPageMaxBytes   = 2 << 20
	defaultRequestTimeout = 30 * time.Second
	maxRedirects          = 3
)

// SearchItem is one Custom Search hit.
type SearchItem struct {
	URL     string
	Title   string
	Snippet string
}

// Client wraps the Custom Search JSON API and a plain page fetcher.
// Search responses are cached per query for the client's lifetime; the
// limiter keeps us under the API's free-tier rate.
type Client struct {
	apiKey         string
	engineID       string
	searchEndpoint string
	http           *http.Client
	limiter        *rate.Limiter
	pageMaxBytes   int64

	mu    sync.Mutex
	cache map[string][]SearchItem
}

// New builds a Client from config. Returns nil when no API key is
// configured; callers treat a nil client as "web tools unavailable".
func New(cfg config.WebConfig) *Client {
	if cfg.APIKey == "" || cfg.SearchEngineID == "" {
		return nil
	}
	timeout := defaultRequestTimeout
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	qps := cfg.MaxQPS
	if qps <= 0 {
		qps = 1
	}
	maxBytes := cfg.PageMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultPageMaxBytes
	}
	return &Client{
		apiKey:         cfg.APIKey,
		engineID:       cfg.SearchEngineID,
		searchEndpoint: cseEndpoint,
		http:           &http.Client{Timeout: timeout},
		limiter:        rate.NewLimiter(rate.Limit(qps), 1),
		pageMaxBytes:   maxBytes,
		cache:          map[string][]SearchItem{},
	}
}

// Search returns the requested page of results for query and the total
// number of hits the API returned. Each query hits the API once; paging
// walks the cached result list.
func (c *Client) Search(ctx context.Context, query string, count, offset int) ([]SearchItem, int, error) {
	c.mu.Lock()
	items, ok := c.cache[query]
	c.mu.Unlock()

	if !ok {
		var err error
		items, err = c.fetchResults(ctx, query)
		if err != nil {
			return nil, 0, err
		}
		c.mu.Lock()
		c.cache[query] = items
		c.mu.Unlock()
	}

	if offset < 0 {
		offset = 0
	}
	if offset > len(items) {
		offset = len(items)
	}
	if count <= 0 {
		count = len(items)
	}
	end := offset + count
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end], len(items), nil
}

func (c *Client) fetchResults(ctx context.Context, query string) ([]SearchItem, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("cx", c.engineID)
	q.Set("q", query)

	req, err := http.NewRequestWithContext(ctx, "GET", c.searchEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.pageMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("custom search API returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var cseResp struct {
		Items []struct {
			Link    string `json:"link"`
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &cseResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	items := make([]SearchItem, 0, len(cseResp.Items))
	for _, it := range cseResp.Items {
		items = append(items, SearchItem{URL: it.Link, Title: it.Title, Snippet: it.Snippet})
	}
	return items, nil
}

// LoadPage fetches url and returns a status line followed by the
// page's extracted text.
func (c *Client) LoadPage(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("only http and https urls are supported")
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing hostname in url")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", webUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	client := &http.Client{
		Timeout: c.http.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.pageMaxBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	switch {
	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "application/xhtml"):
		text = htmlToText(string(body))
	case strings.Contains(contentType, "application/json"):
		text = prettyJSON(body)
	default:
		text = string(body)
	}

	return fmt.Sprintf("[%s]\n%s", resp.Status, text), nil
}

func prettyJSON(body []byte) string {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body)
	}
	formatted, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return string(body)
	}
	return string(formatted)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
