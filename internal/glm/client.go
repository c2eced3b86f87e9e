package glm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wrenly/hearth/internal/httpkit"
)

// DefaultBaseURL is the vendor production endpoint.
const DefaultBaseURL = "https://open.bigmodel.cn/api/paas/v4"

// Client is a chat-completion vendor client. Construct it once at startup
// and inject it; it owns its HTTP client and is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the vendor endpoint (used by tests and proxies).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithTimeout sets the per-request timeout. Callers validate the
// configured range upstream; the default is 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = httpkit.NewClient(httpkit.WithTimeout(d))
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l.With("provider", "glm") }
}

// NewClient creates a vendor client with bearer-token auth.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		logger:     slog.Default().With("provider", "glm"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Complete sends a chat-completion request and returns the decoded
// response. Failures are classified into *APIError; there is no
// automatic retry here — retry policy belongs to the caller.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	var resp ChatResponse
	if err := c.postJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return nil, err
	}

	// Some failure classes arrive as an error object inside a 200.
	if resp.Error != nil {
		apiErr := classifyVendorError(resp.Error)
		c.logger.Warn("vendor error in 200 response",
			"kind", apiErr.Kind.String(),
			"message", apiErr.Message,
			"request_id", req.RequestID,
		)
		return nil, apiErr
	}

	c.logger.Debug("completion received",
		"model", resp.Model,
		"choices", len(resp.Choices),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	return &resp, nil
}

// ImageResult is the response from the image-generation endpoint.
type ImageResult struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *VendorErrorBody `json:"error,omitempty"`
}

// GenerateImage requests an image for the given prompt and returns the
// first result URL.
func (c *Client) GenerateImage(ctx context.Context, model, prompt string) (string, error) {
	req := map[string]any{
		"model":  model,
		"prompt": prompt,
	}
	var resp ImageResult
	if err := c.postJSON(ctx, "/images/generations", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", classifyVendorError(resp.Error)
	}
	if len(resp.Data) == 0 {
		return "", &APIError{Kind: KindVendor, Message: "image generation returned no data"}
	}
	return resp.Data[0].URL, nil
}

// AnalyzeImage sends an image URL (or data URI) with a prompt to a
// vision-capable model and returns the description text.
func (c *Client) AnalyzeImage(ctx context.Context, model, imageURL, prompt string) (string, error) {
	return c.analyzeMedia(ctx, model, "image_url", imageURL, prompt)
}

// AnalyzeVideo sends a video URL with a prompt to a vision-capable model
// and returns the description text.
func (c *Client) AnalyzeVideo(ctx context.Context, model, videoURL, prompt string) (string, error) {
	return c.analyzeMedia(ctx, model, "video_url", videoURL, prompt)
}

// analyzeMedia shares the request shaping for image and video analysis.
// Vision requests carry structured content parts rather than plain text,
// so the message is built as a raw map instead of reusing Message.
func (c *Client) analyzeMedia(ctx context.Context, model, kind, mediaURL, prompt string) (string, error) {
	req := map[string]any{
		"model":      model,
		"request_id": uuid.NewString(),
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": kind, kind: map[string]any{"url": mediaURL}},
					{"type": "text", "text": prompt},
				},
			},
		},
	}

	var resp ChatResponse
	if err := c.postJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", classifyVendorError(resp.Error)
	}
	return resp.First().Content, nil
}

// SearchResult is a single web-search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Content string `json:"content"`
	Media   string `json:"media,omitempty"`
}

// WebSearch runs a vendor-side web search for the query.
func (c *Client) WebSearch(ctx context.Context, engine, query string) ([]SearchResult, error) {
	req := map[string]any{
		"search_engine": engine,
		"search_query":  query,
		"request_id":    uuid.NewString(),
	}
	var resp struct {
		SearchResult []SearchResult   `json:"search_result"`
		Error        *VendorErrorBody `json:"error,omitempty"`
	}
	if err := c.postJSON(ctx, "/web_search", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, classifyVendorError(resp.Error)
	}
	return resp.SearchResult, nil
}

// postJSON performs a bearer-authenticated POST and decodes the 200
// response into result. Non-200 statuses become classified *APIError
// values with the vendor message extracted when present.
func (c *Client) postJSON(ctx context.Context, path string, body, result any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "request payload", "path", path, "json", string(jsonData))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		raw := httpkit.ReadErrorBody(resp.Body, 4096)
		apiErr := classifyStatus(resp.StatusCode, extractVendorMessage(raw))
		c.logger.Error("API error",
			"path", path,
			"status", resp.StatusCode,
			"kind", apiErr.Kind.String(),
		)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// extractVendorMessage pulls the error message out of a vendor error
// body, falling back to the raw text for non-JSON bodies.
func extractVendorMessage(raw string) string {
	var body struct {
		Error *VendorErrorBody `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err == nil && body.Error != nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return raw
}
