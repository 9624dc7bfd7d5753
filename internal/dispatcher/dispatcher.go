// Package dispatcher fronts the stage queue and runs the worker pool that
// drains it.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/worker"
)

// Dispatcher owns a fixed pool of workers sharing one queue. It satisfies
// pipeline.Queue so producers can enqueue through it.
type Dispatcher struct {
	queue   pipeline.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New builds a Dispatcher with n workers running stages from queue.
func New(queue pipeline.Queue, n int, stages worker.Stages, cfg worker.Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := make([]*worker.Worker, 0, max(n, 0))
	for i := range n {
		workers = append(workers, worker.New(queue, stages, cfg, logger.With(zap.Int("worker", i))))
	}
	return &Dispatcher{queue: queue, workers: workers, logger: logger}
}

// Size is the number of workers.
func (d *Dispatcher) Size() int { return len(d.workers) }

// Run starts every worker and blocks until all of them return, which they do
// once ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Go(func() { w.Run(ctx) })
	}
	d.logger.Info("workers started", zap.Int("workers", len(d.workers)))
	wg.Wait()
	d.logger.Info("workers stopped")
}

// Enqueue queues item. Only stages the workers run automatically are accepted.
func (d *Dispatcher) Enqueue(ctx context.Context, item pipeline.QueueItem) error {
	const op = "enqueue"
	if item.ProductID == "" {
		return pipeline.Errorf(pipeline.KindPrecondition, op, "product id is required")
	}
	if !automatic(item.Stage) {
		return pipeline.Errorf(pipeline.KindPrecondition, op, "stage %q is not automatic", item.Stage)
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Dequeue proxies to the underlying queue.
func (d *Dispatcher) Dequeue(ctx context.Context) (pipeline.QueueItem, error) {
	return d.queue.Dequeue(ctx)
}

func automatic(s pipeline.Stage) bool {
	_, hasNext := s.Next()
	return hasNext || s == pipeline.StageRender
}
