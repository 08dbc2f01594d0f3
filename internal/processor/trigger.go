package processor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

// Trigger requests a run for an owner without waiting for it.
type Trigger interface {
	Trigger(ctx context.Context, ownerID string, reason domain.RunReason) error
}

// Runner executes an owner run synchronously.
type Runner interface {
	RunForOwner(ctx context.Context, ownerID string) (RunResult, error)
}

// AsyncTrigger runs owners in background goroutines bound to a long-lived context.
type AsyncTrigger struct {
	base   context.Context
	runner Runner
	logger *logger.Logger
	wg     sync.WaitGroup
}

// NewAsyncTrigger constructs a trigger whose runs stop when base is cancelled.
func NewAsyncTrigger(base context.Context, runner Runner, log *logger.Logger) *AsyncTrigger {
	if log == nil {
		log = logger.NewNop()
	}
	return &AsyncTrigger{base: base, runner: runner, logger: log}
}

// Trigger starts a run and returns immediately. The request context is not
// used for the run so that it outlives the HTTP request.
func (t *AsyncTrigger) Trigger(_ context.Context, ownerID string, reason domain.RunReason) error {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		res, err := t.runner.RunForOwner(t.base, ownerID)
		if err != nil && t.base.Err() == nil {
			t.logger.Error("processor: background run",
				zap.String("owner_id", ownerID),
				zap.String("reason", string(reason)),
				zap.Error(err),
			)
			return
		}
		if res.Skipped {
			t.logger.Debug("processor: run already active", zap.String("owner_id", ownerID), zap.String("reason", string(reason)))
		}
	}()
	return nil
}

// Wait blocks until every started run has returned.
func (t *AsyncTrigger) Wait() {
	t.wg.Wait()
}
