package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromedpConfig controls the launched Chrome process.
type ChromedpConfig struct {
	UserAgent     string
	Headless      bool
	NoSandbox     bool
	LaunchTimeout time.Duration
}

// ChromedpLauncher starts headless Chrome through chromedp's exec allocator.
func ChromedpLauncher(cfg ChromedpConfig) Launcher {
	return func(ctx context.Context) (Instance, error) {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if cfg.Headless {
			opts = append(opts, chromedp.Flag("headless", "new"))
		} else {
			opts = append(opts, chromedp.Flag("headless", false))
		}
		if cfg.NoSandbox {
			opts = append(opts, chromedp.NoSandbox)
		}
		if cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
		}

		// The browser outlives the lease that launched it, so it hangs off Background.
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		timeout := cfg.LaunchTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		started := make(chan error, 1)
		go func() { started <- chromedp.Run(browserCtx) }()
		select {
		case err := <-started:
			if err != nil {
				browserCancel()
				allocCancel()
				return nil, fmt.Errorf("start chrome: %w", err)
			}
		case <-time.After(timeout):
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("start chrome: timed out after %s", timeout)
		case <-ctx.Done():
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("start chrome: %w", ctx.Err())
		}

		return &chromedpInstance{
			allocCancel:   allocCancel,
			browserCtx:    browserCtx,
			browserCancel: browserCancel,
		}, nil
	}
}

type chromedpInstance struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func (b *chromedpInstance) NewPage(_ context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &chromedpPage{ctx: tabCtx, cancel: cancel}, nil
}

// Connected reports whether the browser process is still attached.
func (b *chromedpInstance) Connected() bool {
	return b.browserCtx.Err() == nil
}

func (b *chromedpInstance) Close() error {
	err := chromedp.Cancel(b.browserCtx)
	b.browserCancel()
	b.allocCancel()
	if err != nil {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

type chromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (p *chromedpPage) Context() context.Context {
	return p.ctx
}

func (p *chromedpPage) Close() error {
	p.cancel()
	return nil
}

// forwardCancel cancels the tab task when the caller's context ends.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
