package browser

import (
	"context"
	"time"
)

// PoolRenderer loads pages on tabs borrowed from a Pool.
type PoolRenderer struct {
	Pool    *Pool
	Timeout time.Duration
}

// RenderHTML navigates a pooled page to rawURL and returns the settled DOM.
func (r PoolRenderer) RenderHTML(ctx context.Context, rawURL string) (string, error) {
	return WithPage(ctx, r.Pool, func(ctx context.Context, page Page) (string, error) {
		return RenderHTML(ctx, page, rawURL, r.Timeout)
	})
}

// Capture screenshots and extracts rawURL on a pooled page.
func (r PoolRenderer) Capture(ctx context.Context, rawURL string) (Capture, error) {
	return WithPage(ctx, r.Pool, func(ctx context.Context, page Page) (Capture, error) {
		return CapturePage(ctx, page, rawURL, r.Timeout)
	})
}
