// Package memory provides a dry-run platform publisher.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/agentic-reviewer/internal/distribution"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
)

// Publisher records uploads without contacting any platform.
type Publisher struct {
	platform pipeline.Platform
	fail     error

	mu      sync.Mutex
	uploads []distribution.Asset
}

// New returns a dry-run publisher for platform.
func New(platform pipeline.Platform) *Publisher {
	return &Publisher{platform: platform}
}

// Failing returns a publisher whose every upload fails with err.
func Failing(platform pipeline.Platform, err error) *Publisher {
	return &Publisher{platform: platform, fail: err}
}

// Platform implements distribution.Publisher.
func (p *Publisher) Platform() pipeline.Platform { return p.platform }

// Publish records asset and returns a synthetic receipt.
func (p *Publisher) Publish(_ context.Context, asset distribution.Asset) (distribution.Receipt, error) {
	if p.fail != nil {
		return distribution.Receipt{}, p.fail
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads = append(p.uploads, asset)
	id := fmt.Sprintf("dryrun-%s-%s", p.platform, asset.IdempotencyKey)
	return distribution.Receipt{
		ExternalID:  id,
		ExternalURL: fmt.Sprintf("memory://%s/%s", p.platform, id),
	}, nil
}

// Uploads returns the recorded assets.
func (p *Publisher) Uploads() []distribution.Asset {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]distribution.Asset(nil), p.uploads...)
}
