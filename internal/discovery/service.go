package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
)

// Runner is the aggregation step the service drives.
type Runner interface {
	RunAll(ctx context.Context, names []string) Result
	Names() []string
}

// Report summarizes one persisted discovery run.
type Report struct {
	RunID      string          `json:"runId"`
	Status     string          `json:"status"`
	Found      int             `json:"found"`
	New        int             `json:"new"`
	Duplicate  int             `json:"duplicate"`
	ProductIDs []string        `json:"productIds"`
	Sources    []SourceSummary `json:"sources"`
}

// SourceSummary is the API-facing view of a SourceOutcome.
type SourceSummary struct {
	Source     string `json:"source"`
	Items      int    `json:"items"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// Service records aggregated candidates as products.
type Service struct {
	store     pipeline.Store
	runner    Runner
	ids       pipeline.IDGenerator
	clock     pipeline.Clock
	publisher pipeline.Publisher
	topic     string
	queue     pipeline.Queue
	logger    *zap.Logger
}

// ServiceConfig wires a Service. Publisher and Queue are optional.
type ServiceConfig struct {
	Store     pipeline.Store
	Runner    Runner
	IDs       pipeline.IDGenerator
	Clock     pipeline.Clock
	Publisher pipeline.Publisher
	Topic     string
	Queue     pipeline.Queue
	Logger    *zap.Logger
}

// NewService validates cfg and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil || cfg.Runner == nil || cfg.IDs == nil || cfg.Clock == nil {
		return nil, errors.New("discovery service requires store, runner, ids and clock")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     cfg.Store,
		runner:    cfg.Runner,
		ids:       cfg.IDs,
		clock:     cfg.Clock,
		publisher: cfg.Publisher,
		topic:     cfg.Topic,
		queue:     cfg.Queue,
		logger:    logger,
	}, nil
}

// Discover runs the named sources (all registered sources when empty) and
// inserts every candidate not already known by URL. The run is marked failed
// only when every requested source failed.
func (s *Service) Discover(ctx context.Context, sources []string) (Report, error) {
	const op = "discovery.Discover"
	if len(sources) == 0 {
		sources = s.runner.Names()
	}
	runID, err := s.ids.NewID()
	if err != nil {
		return Report{}, pipeline.Wrap(pipeline.KindInternal, op, err)
	}
	run := pipeline.DiscoveryRun{
		ID:        runID,
		Sources:   sources,
		Status:    pipeline.RunRunning,
		StartedAt: s.clock.Now(),
	}
	if err := s.store.CreateDiscoveryRun(ctx, run); err != nil {
		return Report{}, pipeline.Wrap(pipeline.KindPersistence, op, err)
	}

	result := s.runner.RunAll(ctx, sources)
	report := Report{RunID: runID, Found: len(result.Items), ProductIDs: []string{}}
	for _, o := range result.Outcomes {
		summary := SourceSummary{Source: o.Source, Items: o.Items, DurationMs: o.Duration.Milliseconds()}
		if o.Err != nil {
			summary.Error = o.Err.Error()
		}
		report.Sources = append(report.Sources, summary)
	}

	var created []string
	for _, item := range result.Items {
		id, err := s.ids.NewID()
		if err != nil {
			return report, s.fail(ctx, run, pipeline.Wrap(pipeline.KindInternal, op, err))
		}
		now := s.clock.Now()
		product, isNew, err := s.store.InsertProductIfAbsent(ctx, pipeline.Product{
			ID:           id,
			Name:         item.Name,
			URL:          strings.TrimSpace(item.URL),
			Source:       item.Source,
			Description:  item.Description,
			Status:       pipeline.ProductDiscovered,
			DiscoveredAt: now,
			UpdatedAt:    now,
		})
		if err != nil {
			return report, s.fail(ctx, run, pipeline.Wrap(pipeline.KindPersistence, op, err))
		}
		if isNew {
			created = append(created, product.ID)
		}
	}
	report.New = len(created)
	report.Duplicate = report.Found - report.New
	report.ProductIDs = append(report.ProductIDs, created...)

	completed := s.clock.Now()
	run.ProductsFound = report.Found
	run.ProductsNew = report.New
	run.CompletedAt = &completed
	run.Status = pipeline.RunCompleted
	if failed := result.Failed(); len(result.Outcomes) > 0 && len(failed) == len(result.Outcomes) {
		run.Status = pipeline.RunFailed
		run.Error = joinOutcomeErrors(failed)
	}
	if err := s.store.CompleteDiscoveryRun(ctx, run); err != nil {
		return report, pipeline.Wrap(pipeline.KindPersistence, op, err)
	}
	report.Status = string(run.Status)

	s.logger.Info("discovery run finished",
		zap.String("run_id", runID),
		zap.String("status", report.Status),
		zap.Int("found", report.Found),
		zap.Int("new", report.New),
		zap.Int("duplicate", report.Duplicate))

	s.publish(ctx, pipeline.Event{
		Type:   pipeline.EventDiscoveryCompleted,
		RunID:  runID,
		Status: report.Status,
		At:     completed,
	})
	s.enqueue(ctx, created)
	return report, nil
}

func (s *Service) fail(ctx context.Context, run pipeline.DiscoveryRun, cause error) error {
	now := s.clock.Now()
	run.Status = pipeline.RunFailed
	run.Error = cause.Error()
	run.CompletedAt = &now
	if err := s.store.CompleteDiscoveryRun(ctx, run); err != nil {
		s.logger.Error("failed to mark discovery run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	return cause
}

func (s *Service) publish(ctx context.Context, event pipeline.Event) {
	if s.publisher == nil || s.topic == "" {
		return
	}
	if _, err := s.publisher.Publish(ctx, s.topic, event); err != nil {
		s.logger.Warn("publish discovery event failed", zap.String("run_id", event.RunID), zap.Error(err))
	}
}

func (s *Service) enqueue(ctx context.Context, productIDs []string) {
	if s.queue == nil {
		return
	}
	for _, id := range productIDs {
		if err := s.queue.Enqueue(ctx, pipeline.QueueItem{ProductID: id, Stage: pipeline.StageEnrich}); err != nil {
			s.logger.Warn("enqueue discovered product failed", zap.String("product_id", id), zap.Error(err))
		}
	}
}

func joinOutcomeErrors(outcomes []SourceOutcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		parts = append(parts, fmt.Sprintf("%s: %v", o.Source, o.Err))
	}
	return strings.Join(parts, "; ")
}
