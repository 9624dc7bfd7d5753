// Package browser owns the shared headless browser and leases pages from it
// through a bounded, recycling pool.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/agentic-reviewer/internal/telemetry"
)

// Page is one leased browser tab.
type Page interface {
	// Context carries the tab for chromedp actions.
	Context() context.Context
	Close() error
}

// Instance is the shared browser pages are opened from.
type Instance interface {
	NewPage(ctx context.Context) (Page, error)
	Connected() bool
	Close() error
}

// Launcher starts a new browser instance.
type Launcher func(ctx context.Context) (Instance, error)

// Config controls pool sizing.
type Config struct {
	// Capacity is the number of pages that may be leased at once.
	Capacity int
	// RecycleAfter is the number of pages issued before the browser is replaced.
	RecycleAfter int
}

const (
	defaultCapacity     = 3
	defaultRecycleAfter = 10
)

// ErrNoLauncher is returned by NewPool without a launcher.
var ErrNoLauncher = errors.New("browser launcher is required")

// Pool gates access to the shared browser. Waiters are served in FIFO order.
type Pool struct {
	cfg    Config
	launch Launcher
	sem    *semaphore.Weighted
	logger *zap.Logger

	mu      sync.Mutex
	current *instanceLease
	issued  int
}

// instanceLease tracks pages outstanding on one browser so a retired browser
// is only closed after its last page is released.
type instanceLease struct {
	inst    Instance
	active  int
	retired bool
}

// NewPool builds a pool. The browser is not started until the first lease.
func NewPool(cfg Config, launch Launcher, logger *zap.Logger) (*Pool, error) {
	if launch == nil {
		return nil, ErrNoLauncher
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.RecycleAfter <= 0 {
		cfg.RecycleAfter = defaultRecycleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:    cfg,
		launch: launch,
		sem:    semaphore.NewWeighted(int64(cfg.Capacity)),
		logger: logger,
	}, nil
}

// Do leases a page, runs fn with it and releases the page on every exit path.
// fn's error is returned unchanged.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context, page Page) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("browser slot wait canceled: %w", err)
	}
	defer p.sem.Release(1)

	page, owner, err := p.issue(ctx)
	if err != nil {
		return err
	}
	telemetry.IncActivePages()
	defer func() {
		telemetry.DecActivePages()
		p.release(owner, page)
	}()

	return fn(ctx, page)
}

// WithPage is Do for callbacks that produce a value.
func WithPage[T any](ctx context.Context, p *Pool, fn func(ctx context.Context, page Page) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context, page Page) error {
		var err error
		out, err = fn(ctx, page)
		return err
	})
	return out, err
}

// issue opens a page on the current browser, replacing the browser first when it
// has served RecycleAfter pages or dropped its connection.
func (p *Pool) issue(ctx context.Context) (Page, *instanceLease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reason := "initial"
	if p.current != nil {
		switch {
		case p.issued >= p.cfg.RecycleAfter:
			reason = "recycle"
			p.retireLocked(reason)
		case !p.current.inst.Connected():
			reason = "disconnected"
			p.retireLocked(reason)
		}
	}
	if p.current == nil {
		inst, err := p.launch(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("launch browser: %w", err)
		}
		p.current = &instanceLease{inst: inst}
		p.issued = 0
		telemetry.ObserveBrowserLaunch(reason)
		p.logger.Debug("browser launched", zap.String("reason", reason))
	}

	page, err := p.current.inst.NewPage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open page: %w", err)
	}
	p.issued++
	p.current.active++
	return page, p.current, nil
}

func (p *Pool) release(owner *instanceLease, page Page) {
	if err := page.Close(); err != nil {
		p.logger.Debug("page close failed", zap.Error(err))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	owner.active--
	if owner.retired && owner.active == 0 {
		p.closeInstance(owner.inst, "drained")
	}
}

// retireLocked detaches the current browser. It closes now if idle, otherwise
// when its last page is released.
func (p *Pool) retireLocked(reason string) {
	lease := p.current
	p.current = nil
	p.issued = 0
	lease.retired = true
	if lease.active == 0 {
		p.closeInstance(lease.inst, reason)
	}
}

func (p *Pool) closeInstance(inst Instance, reason string) {
	if err := inst.Close(); err != nil {
		p.logger.Warn("browser close failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	p.logger.Debug("browser closed", zap.String("reason", reason))
}

// Close tears down the shared browser. Pages already leased keep working until
// released. A later Do starts a fresh browser; the pool is reusable after Close.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.retireLocked("shutdown")
	}
}

// Capacity returns the configured concurrency bound.
func (p *Pool) Capacity() int {
	return p.cfg.Capacity
}
