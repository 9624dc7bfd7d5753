package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	collyfetcher "github.com/JakeFAU/agentic-reviewer/internal/fetcher/colly"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// Fetcher performs a single HTTP exchange. Non-2xx responses come back as
// retry-classified errors.
type Fetcher interface {
	Fetch(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// fetchJSON runs request under the retry policy and decodes the body into out.
// A body that does not decode is terminal; retrying would not change it.
func fetchJSON(ctx context.Context, f Fetcher, policy retry.Policy, request collyfetcher.Request, out any) error {
	if request.Headers == nil {
		request.Headers = http.Header{}
	}
	if request.Headers.Get("Accept") == "" {
		request.Headers.Set("Accept", "application/json")
	}
	resp, err := retry.Do(ctx, policy, func(ctx context.Context) (collyfetcher.Response, error) {
		return f.Fetch(ctx, request)
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return retry.Terminal(fmt.Errorf("decode %s: %w", request.URL, err))
	}
	return nil
}
