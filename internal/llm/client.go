package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/spherical/module-creator/internal/domain"
	"github.com/spherical/module-creator/internal/observability"
)

// Defaults used when a Config leaves Endpoint or Model empty.
const (
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"
	DefaultModel    = "gpt-3.5-turbo"
)

const (
	// maxErrorBody caps how much of a failed response is kept for logs.
	maxErrorBody = 4 << 10
)

// Client handles communication with a chat-completions API
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryConfig
	log        *observability.Logger
}

// Config configures a Client. Zero values fall back to defaults, except
// APIKey which is required.
type Config struct {
	Endpoint          string
	Model             string
	APIKey            string
	RequestsPerSecond float64
	Retry             RetryConfig
	HTTPClient        *http.Client
	Logger            *observability.Logger
}

// CompletionRequest is one prompt sent as a single user message.
type CompletionRequest struct {
	Prompt string
	// JSONMode asks the service to constrain its output to a JSON object.
	JSONMode bool
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat selects a constrained output mode.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Request represents the API request structure
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Response represents the API response structure
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice represents a single completion choice
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token accounting when the service provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StatusError is returned as the cause of an upstream error when the
// service answers with a non-success status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a new completion client
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.ConfigError("completion API key is not set", nil)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Nop()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(limit, 1),
		retry:      cfg.Retry.normalized(),
		log:        cfg.Logger.WithComponent("llm"),
	}, nil
}

// Model returns the model name sent with every request.
func (c *Client) Model() string {
	return c.model
}

// Complete sends one completion request and returns the content of the
// first choice. Transport failures and non-success statuses are upstream
// errors; an unreadable envelope is a malformed response.
func (c *Client) Complete(ctx context.Context, creq CompletionRequest) (string, error) {
	body, err := json.Marshal(c.buildRequest(creq))
	if err != nil {
		return "", domain.UpstreamError("failed to marshal request", err)
	}

	start := time.Now()
	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		return c.httpClient.Do(req)
	})
	if err != nil {
		return "", domain.UpstreamError("failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", domain.UpstreamError(
			fmt.Sprintf("API returned status %d", resp.StatusCode),
			&StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)},
		)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return "", domain.UpstreamError("failed to read response", err)
		}
		return "", domain.MalformedResponseError("failed to decode response envelope", err)
	}
	if len(out.Choices) == 0 {
		return "", domain.MalformedResponseError("response has no choices", nil)
	}

	evt := c.log.Debug().
		Str("model", c.model).
		Bool("json_mode", creq.JSONMode).
		Str("finish_reason", out.Choices[0].FinishReason).
		Dur("elapsed", time.Since(start))
	if out.Usage != nil {
		evt = evt.Int("prompt_tokens", out.Usage.PromptTokens).
			Int("completion_tokens", out.Usage.CompletionTokens)
	}
	evt.Msg("completion received")

	return out.Choices[0].Message.Content, nil
}

// buildRequest constructs the API request for a single user prompt
func (c *Client) buildRequest(creq CompletionRequest) *Request {
	req := &Request{
		Model:    c.model,
		Messages: []Message{{Role: "user", Content: creq.Prompt}},
	}
	if creq.JSONMode {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}
	return req
}
