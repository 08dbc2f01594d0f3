// Package scheduler periodically re-triggers owners whose queues still hold
// pending entries, e.g. after a restart interrupted their runs.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/processor"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// OwnerSource lists owners with pending work.
type OwnerSource interface {
	OwnersWithPending(ctx context.Context, limit int) ([]string, error)
}

// Sweeper triggers a run for every owner with a pending backlog.
type Sweeper struct {
	source  OwnerSource
	trigger processor.Trigger
	spec    string
	limit   int
	logger  *logger.Logger
}

// New validates spec and constructs a sweeper.
func New(source OwnerSource, trigger processor.Trigger, spec string, limit int, log *logger.Logger) (*Sweeper, error) {
	if _, err := specParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("scheduler: invalid sweep schedule %q: %w", spec, err)
	}
	if limit <= 0 {
		limit = 100
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Sweeper{source: source, trigger: trigger, spec: spec, limit: limit, logger: log}, nil
}

// Run sweeps once immediately and then on schedule until ctx is cancelled.
// Overlapping sweeps are skipped.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweepAndLog(ctx)

	c := cron.New(
		cron.WithParser(specParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.spec, func() { s.sweepAndLog(ctx) }); err != nil {
		return fmt.Errorf("scheduler: register sweep: %w", err)
	}
	c.Start()
	s.logger.Info("scheduler: sweeper started", zap.String("schedule", s.spec))

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// Sweep triggers a run per owner with pending entries and returns how many were triggered.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	tracer := otel.Tracer("callqueue.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.sweep")
	defer span.End()

	owners, err := s.source.OwnersWithPending(sctx, s.limit)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("scheduler: list owners: %w", err)
	}
	span.SetAttributes(attribute.Int("owners.pending", len(owners)))

	triggered := 0
	for _, owner := range owners {
		if sctx.Err() != nil {
			return triggered, sctx.Err()
		}
		if err := s.trigger.Trigger(sctx, owner, domain.RunReasonSweep); err != nil {
			span.RecordError(err)
			s.logger.Warn("scheduler: trigger owner", zap.String("owner_id", owner), zap.Error(err))
			continue
		}
		triggered++
	}
	return triggered, nil
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler: sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("scheduler: sweep triggered runs", zap.Int("owners", n))
	}
}
