// Package llm talks to an OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/marketpulse/pulse/internal/utils"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var (
	// ErrRejected is returned when the provider refuses a request (4xx other
	// than 429). Retrying the same request will not help.
	ErrRejected = errors.New("llm request rejected")
	// ErrEmptyResponse is returned when the completion has no content
	ErrEmptyResponse = errors.New("llm returned an empty completion")
)

// Message is one chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSON asks the provider for a JSON object response
	JSON bool
}

// Client completes prompts
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to Client
type ClientFunc func(ctx context.Context, req Request) (string, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Config configures the HTTP client
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// HTTPClient is the resty-backed Client
type HTTPClient struct {
	http *resty.Client
	cfg  Config
	log  zerolog.Logger
}

// NewHTTPClient creates a client for cfg.BaseURL
func NewHTTPClient(cfg Config, log zerolog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}

	r := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		r.SetAuthToken(cfg.APIKey)
	}

	return &HTTPClient{
		http: r,
		cfg:  cfg,
		log:  log.With().Str("component", "llm_client").Logger(),
	}
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []Message         `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

// Complete sends req to /chat/completions and returns the first choice's content.
// Network errors, 429 and 5xx responses are transient; other 4xx wrap ErrRejected.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (string, error) {
	body := chatRequest{
		Model:       c.cfg.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = c.cfg.MaxTokens
	}
	if body.Temperature == 0 {
		body.Temperature = c.cfg.Temperature
	}
	if req.System != "" {
		body.Messages = append(body.Messages, Message{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, Message{Role: "user", Content: req.Prompt})
	if req.JSON {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}

	raw := resp.String()
	status := resp.StatusCode()
	if status >= http.StatusBadRequest {
		msg := gjson.Get(raw, "error.message").String()
		if msg == "" {
			msg = utils.Truncate(raw, 200)
		}
		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
			return "", fmt.Errorf("llm provider returned %d: %s", status, msg)
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, status, msg)
	}

	content := gjson.Get(raw, "choices.0.message.content")
	if !content.Exists() || strings.TrimSpace(content.String()) == "" {
		return "", ErrEmptyResponse
	}

	c.log.Debug().
		Str("model", c.cfg.Model).
		Dur("took", time.Since(start)).
		Int64("prompt_tokens", gjson.Get(raw, "usage.prompt_tokens").Int()).
		Int64("completion_tokens", gjson.Get(raw, "usage.completion_tokens").Int()).
		Msg("LLM completion")

	return content.String(), nil
}
