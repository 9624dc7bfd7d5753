package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/telemetry"
)

// SourceOutcome reports how one source fared in a run.
type SourceOutcome struct {
	Source   string
	Items    int
	Err      error
	Duration time.Duration
}

// Result is the deduplicated output of a run plus per-source visibility.
type Result struct {
	Items    []Item
	Outcomes []SourceOutcome
}

// Failed returns the outcomes that errored.
func (r Result) Failed() []SourceOutcome {
	var out []SourceOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Aggregator fans out to sources concurrently and merges what comes back.
type Aggregator struct {
	sources map[string]Source
	order   []string
	timeout time.Duration
	logger  *zap.Logger
}

// NewAggregator registers sources in the order given. That order is the
// default run order and decides which duplicate survives.
func NewAggregator(timeout time.Duration, logger *zap.Logger, sources ...Source) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		sources: make(map[string]Source, len(sources)),
		timeout: timeout,
		logger:  logger,
	}
	for _, s := range sources {
		if _, dup := a.sources[s.Name()]; dup {
			continue
		}
		a.sources[s.Name()] = s
		a.order = append(a.order, s.Name())
	}
	return a
}

// Names lists the registered sources in run order.
func (a *Aggregator) Names() []string {
	return append([]string(nil), a.order...)
}

// RunAll runs the named sources (all when names is empty) and never fails as a
// whole. Every source settles before results are merged; items are concatenated
// in the requested order and then deduplicated by normalized URL.
func (a *Aggregator) RunAll(ctx context.Context, names []string) Result {
	if len(names) == 0 {
		names = a.order
	}
	outcomes := make([]SourceOutcome, len(names))
	batches := make([][]Item, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		source, ok := a.sources[name]
		if !ok {
			outcomes[i] = SourceOutcome{Source: name, Err: fmt.Errorf("unknown source %q", name)}
			continue
		}
		wg.Add(1)
		go func(i int, source Source) {
			defer wg.Done()
			batches[i], outcomes[i] = a.runOne(ctx, source)
		}(i, source)
	}
	wg.Wait()

	var all []Item
	for i, batch := range batches {
		if outcomes[i].Err != nil {
			continue
		}
		all = append(all, batch...)
	}
	items := Dedupe(all)

	for _, o := range outcomes {
		telemetry.ObserveDiscoverySource(o.Source, o.Items, o.Err)
		if o.Err != nil {
			a.logger.Warn("discovery source failed",
				zap.String("source", o.Source),
				zap.Duration("duration", o.Duration),
				zap.Error(o.Err))
			continue
		}
		a.logger.Info("discovery source finished",
			zap.String("source", o.Source),
			zap.Int("items", o.Items),
			zap.Duration("duration", o.Duration))
	}
	return Result{Items: items, Outcomes: outcomes}
}

func (a *Aggregator) runOne(ctx context.Context, source Source) (items []Item, outcome SourceOutcome) {
	start := time.Now()
	outcome.Source = source.Name()
	defer func() {
		if r := recover(); r != nil {
			items = nil
			outcome.Err = fmt.Errorf("source panicked: %v", r)
		}
		outcome.Duration = time.Since(start)
	}()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	items, err := source.Discover(ctx)
	if err != nil {
		return nil, SourceOutcome{Source: source.Name(), Err: err, Duration: time.Since(start)}
	}
	return items, SourceOutcome{Source: source.Name(), Items: len(items), Duration: time.Since(start)}
}
