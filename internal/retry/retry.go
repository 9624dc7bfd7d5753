package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/telemetry"
)

// Policy bounds a retried operation.
type Policy struct {
	// Name labels metrics and logs.
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Timeout bounds each attempt. Zero leaves the caller's deadline alone.
	Timeout time.Duration
	// Sleep replaces the wall-clock wait between attempts. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns 3 attempts with 1s base and 10s max delay.
func DefaultPolicy() Policy {
	return Policy{
		Name:        "default",
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// Named returns a copy of p labelled name.
func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

// Operation is one attempt of an external call.
type Operation[T any] func(ctx context.Context) (T, error)

// Do runs op until it succeeds, returns a terminal error, or runs out of attempts.
// Attempts never overlap. The error returned is the last one observed.
func Do[T any](ctx context.Context, p Policy, op Operation[T]) (T, error) {
	p = p.normalized()
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		value, err := runAttempt(ctx, p.Timeout, op)
		if err == nil {
			telemetry.ObserveRetryAttempt(p.Name, "success")
			return value, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			telemetry.ObserveRetryAttempt(p.Name, "canceled")
			return zero, lastErr
		}
		delay, retry := p.delay(err, attempt)
		if !retry {
			telemetry.ObserveRetryAttempt(p.Name, "failed")
			return zero, lastErr
		}
		telemetry.ObserveRetryAttempt(p.Name, "retry")
		zap.L().Debug("retrying operation",
			zap.String("operation", p.Name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("class", Classify(err).String()),
			zap.Error(err),
		)
		if err := p.sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op Operation[T]) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	value, err := op(attemptCtx)
	if err != nil && attemptCtx.Err() != nil && ctx.Err() == nil {
		// The attempt deadline fired; that is a retryable timeout, not a caller cancel.
		return value, Retryable(err)
	}
	return value, err
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Name == "" {
		p.Name = "default"
	}
	return p
}

// delay decides whether another attempt is allowed and how long to wait first.
func (p Policy) delay(err error, attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	var hint time.Duration
	if tagged, ok := asError(err); ok {
		hint = tagged.RetryAfter
	}
	switch Classify(err) {
	case ClassTerminal:
		return 0, false
	case ClassRateLimited:
		if hint > 0 {
			return p.capDelay(hint), true
		}
		return p.backoff(attempt), true
	default:
		return p.backoff(attempt), true
	}
}

// backoff returns BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p Policy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if delay > p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	return p.capDelay(delay)
}

func (p Policy) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p Policy) sleep(ctx context.Context, delay time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, delay)
	}
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
