// Package worker advances products through the automatic pipeline stages.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/stage"
	"github.com/JakeFAU/agentic-reviewer/internal/telemetry"
)

// Stages is the slice of the orchestrator the worker drives.
type Stages interface {
	Enrich(ctx context.Context, productID string) (stage.EnrichResult, error)
	Summarize(ctx context.Context, productID string, force bool) (stage.StageResult, error)
	Score(ctx context.Context, productID string, force bool) (stage.StageResult, error)
	RenderVideo(ctx context.Context, productID string, format pipeline.Format) (stage.RenderResult, error)
}

// Config controls Worker behavior.
type Config struct {
	// MaxAttempts bounds how often a transient stage failure is requeued.
	MaxAttempts int
	// RetryDelay is multiplied by the attempt number before requeueing.
	RetryDelay time.Duration
	// Format is the video format rendered automatically.
	Format pipeline.Format
}

// Worker consumes queue items, runs one stage each and queues the next stage.
// The chain stops after render; distribution waits for a reviewer.
type Worker struct {
	queue  pipeline.Queue
	stages Stages
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue pipeline.Queue, stages Stages, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Format == "" {
		cfg.Format = pipeline.FormatYouTubeLong
	}
	return &Worker{queue: queue, stages: stages, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if !w.pause(ctx, time.Second) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued stage",
			zap.String("product_id", item.ProductID),
			zap.String("stage", string(item.Stage)))
		w.Process(ctx, item)
	}
}

// Process runs item's stage and queues whatever comes next.
func (w *Worker) Process(ctx context.Context, item pipeline.QueueItem) {
	telemetry.IncActiveWorkers()
	defer telemetry.DecActiveWorkers()

	fields := []zap.Field{
		zap.String("product_id", item.ProductID),
		zap.String("stage", string(item.Stage)),
		zap.Int("attempt", item.Attempt+1),
	}
	err := w.run(ctx, item)
	if err != nil {
		kind := pipeline.KindOf(err)
		if kind == pipeline.KindTransient && item.Attempt+1 < w.cfg.MaxAttempts {
			w.logger.Warn("stage failed; requeueing", append(fields, zap.Error(err))...)
			if !w.pause(ctx, w.cfg.RetryDelay*time.Duration(item.Attempt+1)) {
				return
			}
			item.Attempt++
			w.enqueue(ctx, item)
			return
		}
		w.logger.Error("stage failed; dropping", append(fields, zap.String("kind", kind.String()), zap.Error(err))...)
		return
	}

	next, ok := item.Stage.Next()
	if !ok {
		w.logger.Info("automatic pipeline finished", fields...)
		return
	}
	w.enqueue(ctx, pipeline.QueueItem{ProductID: item.ProductID, Stage: next})
}

func (w *Worker) run(ctx context.Context, item pipeline.QueueItem) error {
	switch item.Stage {
	case pipeline.StageEnrich:
		_, err := w.stages.Enrich(ctx, item.ProductID)
		return err
	case pipeline.StageSummarize:
		_, err := w.stages.Summarize(ctx, item.ProductID, false)
		return err
	case pipeline.StageScore:
		_, err := w.stages.Score(ctx, item.ProductID, false)
		return err
	case pipeline.StageRender:
		_, err := w.stages.RenderVideo(ctx, item.ProductID, w.cfg.Format)
		return err
	default:
		return pipeline.Errorf(pipeline.KindPrecondition, "worker", "stage %q is not automatic", item.Stage)
	}
}

func (w *Worker) enqueue(ctx context.Context, item pipeline.QueueItem) {
	if err := w.queue.Enqueue(ctx, item); err != nil {
		w.logger.Error("queue enqueue failed",
			zap.String("product_id", item.ProductID),
			zap.String("stage", string(item.Stage)),
			zap.Error(err))
	}
}

// pause waits d and reports whether ctx is still live.
func (w *Worker) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
