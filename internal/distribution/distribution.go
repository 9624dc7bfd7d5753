// Package distribution defines the platform publishers that upload rendered
// videos and the registry the pipeline selects them from.
package distribution

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// Asset is a rendered video ready for upload.
type Asset struct {
	// Key is the blob key the video was read from.
	Key         string
	Data        []byte
	ContentType string
	// PublicURL is where platforms that pull media (Instagram) can fetch it.
	PublicURL   string
	Title       string
	Description string
	Tags        []string
	// IdempotencyKey is stable across retries of the same publication.
	IdempotencyKey string
}

// Receipt identifies an upload on the remote platform.
type Receipt struct {
	ExternalID  string
	ExternalURL string
}

// Publisher uploads assets to one platform.
type Publisher interface {
	Platform() pipeline.Platform
	Publish(ctx context.Context, asset Asset) (Receipt, error)
}

// Registry maps platforms to publishers.
type Registry struct {
	mu         sync.RWMutex
	publishers map[pipeline.Platform]Publisher
}

// NewRegistry registers pubs; a later publisher for the same platform wins.
func NewRegistry(pubs ...Publisher) *Registry {
	r := &Registry{publishers: make(map[pipeline.Platform]Publisher)}
	for _, p := range pubs {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the publisher for p.Platform().
func (r *Registry) Register(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[p.Platform()] = p
}

// Get returns the publisher for platform.
func (r *Registry) Get(platform pipeline.Platform) (Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.publishers[platform]
	if !ok {
		return nil, fmt.Errorf("no publisher configured for %s", platform)
	}
	return p, nil
}

// Platforms lists registered platforms in name order.
func (r *Registry) Platforms() []pipeline.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pipeline.Platform, 0, len(r.publishers))
	for p := range r.publishers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StatusError converts a non-2xx platform response into a retry-tagged error.
func StatusError(platform pipeline.Platform, resp *http.Response, body []byte) error {
	return fmt.Errorf("%s returned %d: %w", platform, resp.StatusCode,
		retry.FromStatus(resp.StatusCode, resp.Header, body))
}
