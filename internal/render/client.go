// Package render calls the external video renderer service.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// Request asks the renderer to produce one video.
type Request struct {
	VideoID   string          `json:"videoId"`
	ProductID string          `json:"productId"`
	Format    pipeline.Format `json:"format"`
}

// Result locates the rendered asset.
type Result struct {
	StorageKey   string  `json:"storageKey"`
	DurationSec  float64 `json:"durationSec"`
	ThumbnailKey string  `json:"thumbnailKey,omitempty"`
}

// Client posts render requests to {BaseURL}/render.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client. A nil httpClient uses a default one; per-call
// deadlines come from the caller's context.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("renderer base url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}, nil
}

// Render requests a video. The video ID doubles as the idempotency key so a
// retried call does not start a second render.
func (c *Client) Render(ctx context.Context, in Request) (Result, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return Result{}, retry.Terminal(fmt.Errorf("encode render request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return Result{}, retry.Terminal(fmt.Errorf("build render request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", in.VideoID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, retry.Retryable(fmt.Errorf("render: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, retry.Retryable(fmt.Errorf("render: read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("renderer returned %d: %w", resp.StatusCode,
			retry.FromStatus(resp.StatusCode, resp.Header, raw))
	}

	var out Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, retry.Terminal(fmt.Errorf("invalid response from video renderer: %w", err))
	}
	if strings.TrimSpace(out.StorageKey) == "" || out.DurationSec < 0 {
		return Result{}, retry.Terminal(errors.New("invalid response from video renderer: missing storageKey"))
	}
	return out, nil
}
