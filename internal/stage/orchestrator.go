// Package stage drives products and videos through the review pipeline. Each
// stage loads its record, checks preconditions and the duplicate-work guard,
// calls its collaborator under retry, then commits the resulting transition.
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/browser"
	"github.com/JakeFAU/agentic-reviewer/internal/distribution"
	"github.com/JakeFAU/agentic-reviewer/internal/llm"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/render"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
	"github.com/JakeFAU/agentic-reviewer/internal/telemetry"
)

// DefaultStageTimeout bounds one stage invocation, retries included.
const DefaultStageTimeout = 10 * time.Minute

// Capturer screenshots and extracts a page.
type Capturer interface {
	Capture(ctx context.Context, rawURL string) (browser.Capture, error)
}

// Summarizer produces a product review from page content.
type Summarizer interface {
	Summarize(ctx context.Context, in llm.SummaryInput) (llm.SummaryResult, error)
}

// Scorer rates a summarized product.
type Scorer interface {
	Score(ctx context.Context, in llm.ScoreInput) (llm.ScoreResult, error)
}

// Renderer turns a scored product into a stored video.
type Renderer interface {
	Render(ctx context.Context, in render.Request) (render.Result, error)
}

// Publishers resolves a distribution target.
type Publishers interface {
	Get(platform pipeline.Platform) (distribution.Publisher, error)
}

// Policies holds the retry policy for each external collaborator.
type Policies struct {
	Capture    retry.Policy
	LLM        retry.Policy
	Render     retry.Policy
	Distribute retry.Policy
}

// DefaultPolicies uses the default policy everywhere. Rendering is slow and
// not cheap to repeat, so it gets a single extra attempt.
func DefaultPolicies() Policies {
	base := retry.DefaultPolicy()
	renderPolicy := base.Named("render")
	renderPolicy.MaxAttempts = 2
	renderPolicy.Timeout = 5 * time.Minute
	return Policies{
		Capture:    base.Named("capture"),
		LLM:        base.Named("llm"),
		Render:     renderPolicy,
		Distribute: base.Named("distribute"),
	}
}

// withDefaults fills any policy left unset.
func (p Policies) withDefaults() Policies {
	d := DefaultPolicies()
	for _, pair := range []struct{ dst, def *retry.Policy }{
		{&p.Capture, &d.Capture}, {&p.LLM, &d.LLM}, {&p.Render, &d.Render}, {&p.Distribute, &d.Distribute},
	} {
		if pair.dst.MaxAttempts == 0 {
			*pair.dst = *pair.def
		}
	}
	return p
}

// Config wires an Orchestrator. Capturer, Summarizer, Scorer, Renderer and
// Publishers are only needed by the stages that use them.
type Config struct {
	Store      pipeline.Store
	Blobs      pipeline.BlobStore
	IDs        pipeline.IDGenerator
	Clock      pipeline.Clock
	Capturer   Capturer
	Summarizer Summarizer
	Scorer     Scorer
	Renderer   Renderer
	Publishers Publishers
	Publisher  pipeline.Publisher
	Topic      string
	Policies   Policies
	Timeout    time.Duration
	// RequireApproval blocks distribution of videos a reviewer has not approved.
	RequireApproval bool
	// PublicBaseURL prefixes storage keys for platforms that pull video by URL.
	PublicBaseURL string
	Logger        *zap.Logger
}

// Orchestrator runs pipeline stages.
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.IDs == nil || cfg.Clock == nil {
		return nil, errors.New("stage orchestrator requires store, ids and clock")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultStageTimeout
	}
	cfg.Policies = cfg.Policies.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, logger: logger}, nil
}

// StageResult is returned by the summarize and score stages.
type StageResult struct {
	ProductID string                 `json:"productId"`
	Status    pipeline.ProductStatus `json:"status"`
	Skipped   bool                   `json:"skipped"`
}

// detach keeps a stage running after its caller goes away. Only the stage
// timeout bounds it.
func (o *Orchestrator) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.Timeout)
}

func (o *Orchestrator) loadProduct(ctx context.Context, op, id string) (pipeline.Product, error) {
	if id == "" {
		return pipeline.Product{}, pipeline.Errorf(pipeline.KindPrecondition, op, "product id is required")
	}
	product, err := o.cfg.Store.GetProduct(ctx, id)
	if errors.Is(err, pipeline.ErrNotFound) {
		return pipeline.Product{}, pipeline.Errorf(pipeline.KindNotFound, op, "product %s not found", id)
	}
	if err != nil {
		return pipeline.Product{}, pipeline.Wrap(pipeline.KindPersistence, op, err)
	}
	return product, nil
}

func (o *Orchestrator) loadVideo(ctx context.Context, op, id string) (pipeline.Video, error) {
	if id == "" {
		return pipeline.Video{}, pipeline.Errorf(pipeline.KindPrecondition, op, "video id is required")
	}
	video, err := o.cfg.Store.GetVideo(ctx, id)
	if errors.Is(err, pipeline.ErrNotFound) {
		return pipeline.Video{}, pipeline.Errorf(pipeline.KindNotFound, op, "video %s not found", id)
	}
	if err != nil {
		return pipeline.Video{}, pipeline.Wrap(pipeline.KindPersistence, op, err)
	}
	return video, nil
}

// checkCanRun rejects stages the product's status does not allow.
func checkCanRun(op string, product pipeline.Product, stage pipeline.Stage) error {
	if pipeline.CanRun(product.Status, stage) {
		return nil
	}
	return pipeline.Wrap(pipeline.KindIllegalTransition, op,
		fmt.Errorf("%w: cannot %s a product in status %s", pipeline.ErrIllegalTransition, stage, product.Status))
}

// advance moves the product forward after stage succeeded.
func (o *Orchestrator) advance(ctx context.Context, op string, product pipeline.Product, stage pipeline.Stage) (pipeline.ProductStatus, error) {
	success, _ := pipeline.StageEvents(stage)
	next, err := pipeline.TransitionProduct(product.Status, success)
	if err != nil {
		return product.Status, pipeline.Wrap(pipeline.KindIllegalTransition, op, err)
	}
	if next == product.Status {
		return next, nil
	}
	if err := o.cfg.Store.UpdateProductStatus(ctx, product.ID, next, o.cfg.Clock.Now()); err != nil {
		return product.Status, o.persistenceGap(op, product.ID, err)
	}
	return next, nil
}

// catchUp advances a product whose stage artifact is already stored but whose
// status write was lost. A product that has moved past stage is left alone.
func (o *Orchestrator) catchUp(ctx context.Context, op string, product pipeline.Product, stage pipeline.Stage) (pipeline.ProductStatus, error) {
	if !pipeline.CanRun(product.Status, stage) {
		return product.Status, nil
	}
	status, err := o.advance(ctx, op, product, stage)
	if err != nil {
		return status, err
	}
	if status != product.Status {
		o.logger.Info("product status caught up",
			zap.String("product_id", product.ID),
			zap.String("stage", string(stage)),
			zap.String("from", string(product.Status)),
			zap.String("to", string(status)))
		o.stageCompleted(ctx, stage, product.ID, "", string(status))
	}
	return status, nil
}

// rollback restores the product to its last completed stage and returns cause
// classified for the caller.
func (o *Orchestrator) rollback(ctx context.Context, op string, product pipeline.Product, stage pipeline.Stage, cause error) error {
	to := pipeline.Rollback(product.Status, stage)
	if to != product.Status {
		if err := o.cfg.Store.UpdateProductStatus(ctx, product.ID, to, o.cfg.Clock.Now()); err != nil {
			o.logger.Error("product rollback failed",
				zap.String("product_id", product.ID),
				zap.String("stage", string(stage)),
				zap.String("rollback_to", string(to)),
				zap.Error(err))
		}
	}
	o.logger.Warn("stage failed",
		zap.String("product_id", product.ID),
		zap.String("stage", string(stage)),
		zap.String("status", string(to)),
		zap.Error(cause))
	return external(op, cause)
}

// persistenceGap reports a store write that failed after the external side
// effect already happened. Retrying the stage repeats that side effect.
func (o *Orchestrator) persistenceGap(op, id string, err error) error {
	o.logger.Error("store write failed after external call; retrying will repeat the external work",
		zap.String("op", op),
		zap.String("id", id),
		zap.Error(err))
	return pipeline.Wrap(pipeline.KindPersistence, op, err)
}

// external maps a collaborator failure onto the pipeline error kinds.
func external(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *pipeline.Error
	if errors.As(err, &classified) {
		return err
	}
	if retry.IsTerminal(err) {
		return pipeline.Wrap(pipeline.KindNonRetryable, op, err)
	}
	return pipeline.Wrap(pipeline.KindTransient, op, err)
}

func (o *Orchestrator) emit(ctx context.Context, event pipeline.Event) {
	if o.cfg.Publisher == nil || o.cfg.Topic == "" {
		return
	}
	event.At = o.cfg.Clock.Now()
	if _, err := o.cfg.Publisher.Publish(ctx, o.cfg.Topic, event); err != nil {
		o.logger.Warn("publish pipeline event failed",
			zap.String("type", event.Type),
			zap.String("product_id", event.ProductID),
			zap.Error(err))
	}
}

func (o *Orchestrator) stageCompleted(ctx context.Context, stage pipeline.Stage, productID, videoID, status string) {
	o.emit(ctx, pipeline.Event{
		Type:      pipeline.EventStageCompleted,
		ProductID: productID,
		VideoID:   videoID,
		Stage:     stage,
		Status:    status,
	})
}

// observe records a stage outcome. Call it deferred with the named error.
func observe(stage pipeline.Stage, start time.Time, skipped *bool, err *error) {
	outcome := "success"
	switch {
	case *err != nil:
		outcome = pipeline.KindOf(*err).String()
	case skipped != nil && *skipped:
		outcome = "skipped"
	}
	telemetry.ObserveStage(string(stage), outcome, time.Since(start))
}

func (o *Orchestrator) newID(op string) (string, error) {
	id, err := o.cfg.IDs.NewID()
	if err != nil {
		return "", pipeline.Wrap(pipeline.KindInternal, op, err)
	}
	return id, nil
}
