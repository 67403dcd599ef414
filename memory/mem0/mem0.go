// Package mem0 implements valet.MemoryClient over the mem0 managed memory
// API. Facts are extracted server-side from raw conversation text and
// retrieved by semantic relevance.
package mem0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	valet "github.com/valet-ai/valet"
)

const defaultBaseURL = "https://api.mem0.ai"

// Client talks to the mem0 REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (self-hosted deployments, tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a mem0 client. Wrap it with valet.WithMemoryRetry for
// transient-error handling:
//
//	mem := valet.NewMemoryManager(valet.WithMemoryRetry(mem0.New(apiKey)))
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	return c
}

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

type searchRequest struct {
	Query     string        `json:"query"`
	Filters   searchFilters `json:"filters"`
	TopK      int           `json:"top_k"`
	Threshold float64       `json:"threshold"`
}

type searchFilters struct {
	UserID string `json:"user_id"`
}

type searchResponse struct {
	Results []valet.MemoryRecord `json:"results"`
}

// Search returns memories relevant to query for the user, best first,
// filtered server-side to scores >= minScore.
func (c *Client) Search(ctx context.Context, userID, query string, topK int, minScore float64) ([]valet.MemoryRecord, error) {
	body := searchRequest{
		Query:     query,
		Filters:   searchFilters{UserID: userID},
		TopK:      topK,
		Threshold: minScore,
	}

	var resp searchResponse
	if err := c.post(ctx, "/v1/memories/search/", body, &resp); err != nil {
		return nil, err
	}
	c.logger.Debug("memory search", "user", userID, "results", len(resp.Results))
	return resp.Results, nil
}

type addRequest struct {
	Messages []addMessage `json:"messages"`
	UserID   string       `json:"user_id"`
}

type addMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Add submits raw conversation text for the user. The service extracts and
// stores facts asynchronously; a 2xx response only acknowledges receipt.
func (c *Client) Add(ctx context.Context, userID, text string) error {
	body := addRequest{
		Messages: []addMessage{{Role: "user", Content: text}},
		UserID:   userID,
	}
	return c.post(ctx, "/v1/memories/", body, nil)
}

// post sends a JSON request and decodes the response into out (when non-nil).
// Non-2xx responses become *valet.ErrHTTP for the retry middleware.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return &valet.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(b),
			RetryAfter: valet.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ valet.MemoryClient = (*Client)(nil)
