// Package instagram publishes Reels through the Instagram Graph API.
package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JakeFAU/agentic-reviewer/internal/distribution"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// DefaultBaseURL is the versioned Graph API root.
const DefaultBaseURL = "https://graph.facebook.com/v21.0"

// Config identifies the business account and its token.
type Config struct {
	AccessToken       string
	BusinessAccountID string
	BaseURL           string
}

// Publisher creates a media container from a public video URL and publishes it.
type Publisher struct {
	cfg        Config
	httpClient *http.Client
}

// New validates cfg. A nil httpClient uses a default one.
func New(cfg Config, httpClient *http.Client) (*Publisher, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" || strings.TrimSpace(cfg.BusinessAccountID) == "" {
		return nil, errors.New("instagram access token and business account id are required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Publisher{cfg: cfg, httpClient: httpClient}, nil
}

// Platform implements distribution.Publisher.
func (p *Publisher) Platform() pipeline.Platform { return pipeline.PlatformInstagram }

type graphResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Publish needs asset.PublicURL; Instagram pulls the video itself.
func (p *Publisher) Publish(ctx context.Context, asset distribution.Asset) (distribution.Receipt, error) {
	if asset.PublicURL == "" {
		return distribution.Receipt{}, retry.Terminal(errors.New("instagram: video needs a public url"))
	}
	container, err := p.call(ctx, "/"+p.cfg.BusinessAccountID+"/media", map[string]string{
		"media_type":   "REELS",
		"video_url":    asset.PublicURL,
		"caption":      asset.Description,
		"access_token": p.cfg.AccessToken,
	})
	if err != nil {
		return distribution.Receipt{}, fmt.Errorf("instagram create container: %w", err)
	}
	media, err := p.call(ctx, "/"+p.cfg.BusinessAccountID+"/media_publish", map[string]string{
		"creation_id":  container,
		"access_token": p.cfg.AccessToken,
	})
	if err != nil {
		return distribution.Receipt{}, fmt.Errorf("instagram publish: %w", err)
	}
	return distribution.Receipt{ExternalID: media}, nil
}

func (p *Publisher) call(ctx context.Context, path string, payload map[string]string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", retry.Terminal(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", retry.Terminal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", retry.Retryable(err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", retry.Retryable(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", distribution.StatusError(pipeline.PlatformInstagram, resp, raw)
	}
	var out graphResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", retry.Terminal(fmt.Errorf("decode graph response: %w", err))
	}
	if out.Error != nil {
		return "", retry.Terminal(fmt.Errorf("graph error %d: %s", out.Error.Code, out.Error.Message))
	}
	if out.ID == "" {
		return "", retry.Terminal(errors.New("graph response without id"))
	}
	return out.ID, nil
}
