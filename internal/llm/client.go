// Package llm talks to the Anthropic Messages API and turns its replies into
// product summaries and scores.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// Defaults for the Messages API.
const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultModel      = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens  = 4096
	DefaultAPIVersion = "2023-06-01"
	DefaultTimeout    = 30 * time.Second
)

// Config captures the runtime settings required to talk to the LLM.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	APIVersion string
}

// Client issues single Messages API calls. The SDK's own retries are off;
// failures come back tagged with a retry class for the caller's policy.
type Client struct {
	cfg        Config
	httpClient *http.Client
	api        anthropic.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	client := &Client{cfg: cfg, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(client)
	}
	client.api = anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(client.httpClient),
		option.WithHeader("anthropic-version", cfg.APIVersion),
		option.WithMaxRetries(0),
	)
	return client
}

// Model reports the model name sent with every request.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Complete sends prompt as a single user turn and returns the first text block.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", retry.Terminal(errors.New("llm complete: api key required"))
	}
	if strings.TrimSpace(prompt) == "" {
		return "", retry.Terminal(errors.New("llm complete: prompt required"))
	}
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: int64(c.cfg.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classify(err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return block.Text, nil
		}
	}
	return "", retry.Terminal(fmt.Errorf("llm complete: no text content (stop_reason=%q)", string(msg.StopReason)))
}

// classify maps an SDK failure onto a retry class. API errors are classified by
// status and Retry-After; anything else (network, decode) is retryable.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return fmt.Errorf("llm complete: %w", retry.FromStatus(apiErr.StatusCode, header, []byte(apiErr.RawJSON())))
	}
	return retry.Retryable(fmt.Errorf("llm complete: %w", err))
}
