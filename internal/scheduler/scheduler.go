// Package scheduler runs discovery on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/discovery"
)

// Discoverer runs one discovery pass.
type Discoverer interface {
	Discover(ctx context.Context, sources []string) (discovery.Report, error)
}

// Config controls the schedule.
type Config struct {
	// Spec is a five-field cron expression or a descriptor such as "@every 6h".
	Spec    string
	Sources []string
	// Timeout bounds one scheduled run.
	Timeout time.Duration
}

// Scheduler triggers discovery runs. A run still in progress when the next
// tick fires makes that tick a no-op.
type Scheduler struct {
	cron       *cron.Cron
	discoverer Discoverer
	cfg        Config
	logger     *zap.Logger
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates cfg.Spec and registers the discovery job.
func New(cfg Config, d Discoverer, logger *zap.Logger) (*Scheduler, error) {
	if d == nil {
		return nil, errors.New("scheduler requires a discoverer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}
	cronLogger := zapCronLogger{logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		discoverer: d,
		cfg:        cfg,
		logger:     logger,
	}
	if _, err := s.cron.AddFunc(cfg.Spec, s.tick); err != nil {
		return nil, fmt.Errorf("parse discovery schedule %q: %w", cfg.Spec, err)
	}
	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		s.logger.Info("discovery scheduled", zap.String("spec", s.cfg.Spec), zap.Time("next", entry.Next))
	}
}

// Stop halts the schedule and waits for a running job until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for scheduled discovery: %w", ctx.Err())
	}
}

// RunOnce performs one discovery pass now.
func (s *Scheduler) RunOnce(ctx context.Context) (discovery.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	report, err := s.discoverer.Discover(ctx, s.cfg.Sources)
	if err != nil {
		return report, err
	}
	s.logger.Info("scheduled discovery finished",
		zap.String("run_id", report.RunID),
		zap.String("status", report.Status),
		zap.Int("found", report.Found),
		zap.Int("new", report.New))
	return report, nil
}

func (s *Scheduler) tick() {
	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.Error("scheduled discovery failed", zap.Error(err))
	}
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	l *zap.SugaredLogger
}

func (z zapCronLogger) Info(msg string, keysAndValues ...any) {
	z.l.Debugw(msg, keysAndValues...)
}

func (z zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	z.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
