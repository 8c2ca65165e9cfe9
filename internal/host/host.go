// Package host is the client for an Ollama-compatible model server. The
// runtime treats the host as an external oracle: chat completions,
// one-off generations for model warm-up, and embeddings.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/llmosd/llmosd/internal/telemetry"
)

// Message is one chat message on the host wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are per-request model options.
type Options struct {
	NumCtx int `json:"num_ctx,omitempty"`
}

// FormatJSON asks the host to constrain output to valid JSON. A schema
// object marshalled to json.RawMessage constrains it further.
var FormatJSON = json.RawMessage(`"json"`)

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  Options         `json:"options"`
	Format   json.RawMessage `json:"format,omitempty"`
}

type chatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Client talks to one model host.
type Client struct {
	baseURL     string
	client      *http.Client
	retryConfig RetryConfig
}

func New(serverURL string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(serverURL, "/"),
		client:      &http.Client{Timeout: 600 * time.Second},
		retryConfig: DefaultRetryConfig(),
	}
}

// WithTimeout returns the client with a custom per-request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.client = &http.Client{Timeout: d}
	return c
}

// WithRetryConfig returns the client with custom retry behaviour.
func (c *Client) WithRetryConfig(cfg RetryConfig) *Client {
	c.retryConfig = cfg
	return c
}

// BaseURL returns the configured host URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Chat runs a non-streaming chat completion and returns the assistant
// message content.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts Options, format json.RawMessage) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "host.chat",
		attribute.String("model", model),
		attribute.Int("messages", len(messages)),
		attribute.Int("num_ctx", opts.NumCtx),
	)
	body := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  opts,
		Format:   format,
	}
	content, err := RetryDo(ctx, c.retryConfig, func() (string, error) {
		respBody, err := c.doRequest(ctx, "/api/chat", body)
		if err != nil {
			return "", err
		}
		defer respBody.Close()

		var resp chatResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return "", fmt.Errorf("host: decode chat response: %w", err)
		}
		return resp.Message.Content, nil
	})
	telemetry.End(span, err)
	return content, err
}

// Generate runs a one-off completion. An empty prompt makes the host
// load the model without generating, which is how warm-up works.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	body := generateRequest{Model: model, Prompt: prompt, Stream: false}
	return RetryDo(ctx, c.retryConfig, func() (string, error) {
		respBody, err := c.doRequest(ctx, "/api/generate", body)
		if err != nil {
			return "", err
		}
		defer respBody.Close()

		var resp generateResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return "", fmt.Errorf("host: decode generate response: %w", err)
		}
		return resp.Response, nil
	})
}

// Embed returns one embedding vector per input string.
func (c *Client) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	ctx, span := telemetry.StartSpan(ctx, "host.embed",
		attribute.String("model", model),
		attribute.Int("inputs", len(input)),
	)
	body := embedRequest{Model: model, Input: input}
	vecs, err := RetryDo(ctx, c.retryConfig, func() ([][]float32, error) {
		respBody, err := c.doRequest(ctx, "/api/embed", body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp embedResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("host: decode embed response: %w", err)
		}
		if len(resp.Embeddings) != len(input) {
			return nil, fmt.Errorf("host: got %d embeddings for %d inputs", len(resp.Embeddings), len(input))
		}
		return resp.Embeddings, nil
	})
	telemetry.End(span, err)
	return vecs, err
}

// Tags lists the models the host has pulled.
func (c *Client) Tags(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("host: create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("host: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("host: decode tags response: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Ping checks the host root, which answers with a liveness banner.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("host: create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("host: request failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("host: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("host: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("host: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return resp.Body, nil
}
