// Package tiktok uploads videos through the TikTok Content Posting API.
package tiktok

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

// DefaultBaseURL is the Content Posting API root.
const DefaultBaseURL = "https://open.tiktokapis.com"

// Config holds the creator access token.
type Config struct {
	AccessToken  string
	BaseURL      string
	PrivacyLevel string
}

// Publisher posts videos via the two-step init and upload flow.
type Publisher struct {
	cfg        Config
	httpClient *http.Client
}

// New validates cfg. A nil httpClient uses a default one.
func New(cfg Config, httpClient *http.Client) (*Publisher, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("tiktok access token is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PrivacyLevel == "" {
		cfg.PrivacyLevel = "PUBLIC_TO_EVERYONE"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Publisher{cfg: cfg, httpClient: httpClient}, nil
}

// Platform implements distribution.Publisher.
func (p *Publisher) Platform() pipeline.Platform { return pipeline.PlatformTikTok }

type initRequest struct {
	PostInfo struct {
		Title        string `json:"title"`
		PrivacyLevel string `json:"privacy_level"`
	} `json:"post_info"`
	SourceInfo struct {
		Source    string `json:"source"`
		VideoSize int    `json:"video_size"`
		ChunkSize int    `json:"chunk_size"`
		Chunks    int    `json:"total_chunk_count"`
	} `json:"source_info"`
}

type initResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
		UploadURL string `json:"upload_url"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Publish initialises a file upload and sends the whole video as one chunk.
func (p *Publisher) Publish(ctx context.Context, asset distribution.Asset) (distribution.Receipt, error) {
	size := len(asset.Data)
	if size == 0 {
		return distribution.Receipt{}, retry.Terminal(errors.New("tiktok: empty video"))
	}
	var init initRequest
	init.PostInfo.Title = asset.Title
	init.PostInfo.PrivacyLevel = p.cfg.PrivacyLevel
	init.SourceInfo.Source = "FILE_UPLOAD"
	init.SourceInfo.VideoSize = size
	init.SourceInfo.ChunkSize = size
	init.SourceInfo.Chunks = 1

	var out initResponse
	if err := p.postJSON(ctx, p.cfg.BaseURL+"/v2/post/publish/video/init/", init, &out); err != nil {
		return distribution.Receipt{}, err
	}
	if out.Error.Code != "" && out.Error.Code != "ok" {
		return distribution.Receipt{}, retry.Terminal(fmt.Errorf("tiktok init: %s: %s", out.Error.Code, out.Error.Message))
	}
	if out.Data.UploadURL == "" || out.Data.PublishID == "" {
		return distribution.Receipt{}, retry.Terminal(errors.New("tiktok init: missing upload url"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, out.Data.UploadURL, bytes.NewReader(asset.Data))
	if err != nil {
		return distribution.Receipt{}, retry.Terminal(fmt.Errorf("tiktok upload: %w", err))
	}
	contentType := asset.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", size-1, size))
	if err := p.do(req, nil); err != nil {
		return distribution.Receipt{}, err
	}
	return distribution.Receipt{ExternalID: out.Data.PublishID}, nil
}

func (p *Publisher) postJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return retry.Terminal(fmt.Errorf("tiktok: encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Terminal(fmt.Errorf("tiktok: build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	return p.do(req, out)
}

func (p *Publisher) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("tiktok: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return retry.Retryable(fmt.Errorf("tiktok: read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return distribution.StatusError(pipeline.PlatformTikTok, resp, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return retry.Terminal(fmt.Errorf("tiktok: decode response: %w", err))
	}
	return nil
}
