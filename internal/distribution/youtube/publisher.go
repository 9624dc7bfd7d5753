// Package youtube uploads videos through the YouTube Data API.
package youtube

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/JakeFAU/agentic-reviewer/internal/distribution"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// scienceAndTechnology is the YouTube category for product reviews.
const scienceAndTechnology = "28"

// Config holds the OAuth client and the channel's refresh token.
type Config struct {
	ClientID      string
	ClientSecret  string
	RefreshToken  string
	PrivacyStatus string
}

// Publisher uploads to a single YouTube channel.
type Publisher struct {
	service *yt.Service
	privacy string
}

// New builds a publisher authenticated with the channel's refresh token.
// Extra options (endpoint, HTTP client) are passed to the API client.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Publisher, error) {
	if len(opts) == 0 {
		if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
			return nil, errors.New("youtube client id, secret and refresh token are required")
		}
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{yt.YoutubeUploadScope},
		}
		source := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		opts = append(opts, option.WithTokenSource(source))
	}
	service, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	privacy := cfg.PrivacyStatus
	if privacy == "" {
		privacy = "public"
	}
	return &Publisher{service: service, privacy: privacy}, nil
}

// Platform implements distribution.Publisher.
func (p *Publisher) Platform() pipeline.Platform { return pipeline.PlatformYouTube }

// Publish uploads the asset bytes as a new video.
func (p *Publisher) Publish(ctx context.Context, asset distribution.Asset) (distribution.Receipt, error) {
	if len(asset.Data) == 0 {
		return distribution.Receipt{}, retry.Terminal(errors.New("youtube: empty video"))
	}
	video := &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:       asset.Title,
			Description: asset.Description,
			Tags:        asset.Tags,
			CategoryId:  scienceAndTechnology,
		},
		Status: &yt.VideoStatus{
			PrivacyStatus:           p.privacy,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}
	contentType := asset.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}
	uploaded, err := p.service.Videos.
		Insert([]string{"snippet", "status"}, video).
		Media(bytes.NewReader(asset.Data), googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return distribution.Receipt{}, classify(err)
	}
	return distribution.Receipt{
		ExternalID:  uploaded.Id,
		ExternalURL: "https://youtube.com/watch?v=" + uploaded.Id,
	}, nil
}

func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("youtube upload: %w", retry.FromStatus(apiErr.Code, apiErr.Header, []byte(apiErr.Body)))
	}
	return retry.Retryable(fmt.Errorf("youtube upload: %w", err))
}
