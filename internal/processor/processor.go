// Package processor drains an owner's pending call-queue entries through the
// calling provider, one owner run at a time.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/phone"
	"github.com/acme/outbound-call-queue/internal/queue"
	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/internal/service/concurrency"
	"github.com/acme/outbound-call-queue/internal/telephony"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

const (
	releaseTimeout = 5 * time.Second
	settleTimeout  = 5 * time.Second
)

// Options tunes batching and pacing.
type Options struct {
	BatchSize   int
	CallDelay   time.Duration
	BatchPause  time.Duration
	CountryCode string
}

// DefaultOptions returns the standard pacing: batches of 5, 2s between calls, 1s between batches.
func DefaultOptions() Options {
	return Options{
		BatchSize:   5,
		CallDelay:   2 * time.Second,
		BatchPause:  time.Second,
		CountryCode: phone.DefaultCountryCode,
	}
}

// StatusPublisher receives one event per resolved attempt.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg queue.StatusMessage) error
}

// Dependencies groups the collaborators of a Processor. Attempts and Events are optional.
type Dependencies struct {
	Store      repository.CallQueueStore
	Dispatcher telephony.Dispatcher
	Guard      concurrency.OwnerGuard
	Attempts   repository.AttemptLog
	Events     StatusPublisher
	Logger     *logger.Logger
}

// RunResult summarises a single owner run.
type RunResult struct {
	Skipped   bool
	Batches   int
	Processed int
	Completed int
	Failed    int
}

// Processor runs owner queues.
type Processor struct {
	deps   Dependencies
	opts   Options
	tracer trace.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Processor.
func New(deps Dependencies, opts Options) *Processor {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.CallDelay < 0 {
		opts.CallDelay = 0
	}
	if opts.BatchPause < 0 {
		opts.BatchPause = 0
	}
	if opts.CountryCode == "" {
		opts.CountryCode = def.CountryCode
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	return &Processor{
		deps:   deps,
		opts:   opts,
		tracer: otel.Tracer("callqueue.processor"),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// RunForOwner processes the owner's pending entries until none remain. When a
// run is already active for the owner it returns immediately with Skipped set.
func (p *Processor) RunForOwner(ctx context.Context, ownerID string) (result RunResult, err error) {
	log := p.deps.Logger.WithContext(ctx).With(zap.String("owner_id", ownerID))

	lease, ok, err := p.deps.Guard.TryAcquire(ctx, ownerID)
	if err != nil {
		log.Error("processor: acquire owner guard", zap.Error(err))
		return result, fmt.Errorf("processor: acquire: %w", err)
	}
	if !ok {
		log.Debug("processor: run already active")
		result.Skipped = true
		return result, nil
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if rerr := lease.Release(rctx); rerr != nil {
			log.Warn("processor: release owner guard", zap.Error(rerr))
		}
		log.Info("processor: run finished",
			zap.Int("batches", result.Batches),
			zap.Int("processed", result.Processed),
			zap.Int("completed", result.Completed),
			zap.Int("failed", result.Failed),
			zap.Error(err),
		)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := p.deps.Store.NextPending(ctx, ownerID, p.opts.BatchSize)
		if err != nil {
			return result, fmt.Errorf("processor: fetch pending: %w", err)
		}
		if len(batch) == 0 {
			return result, nil
		}
		result.Batches++

		for i := range batch {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			// A single call may last a full provider timeout.
			if err := lease.Refresh(ctx); err != nil {
				return result, fmt.Errorf("processor: refresh lease: %w", err)
			}

			completed, err := p.processEntry(ctx, batch[i])
			if err != nil {
				return result, err
			}
			result.Processed++
			if completed {
				result.Completed++
			} else {
				result.Failed++
			}

			if i < len(batch)-1 {
				if err := p.sleep(ctx, p.opts.CallDelay); err != nil {
					return result, err
				}
			}
		}

		if err := p.sleep(ctx, p.opts.BatchPause); err != nil {
			return result, err
		}
	}
}

// processEntry runs one attempt. The returned error is reserved for store
// failures, which end the run; dispatch failures only mark the entry failed.
func (p *Processor) processEntry(ctx context.Context, entry domain.CallQueueEntry) (bool, error) {
	ctx, span := p.tracer.Start(ctx, "queue.dispatch", trace.WithAttributes(
		attribute.String("owner.id", entry.OwnerID),
		attribute.String("entry.id", entry.ID.String()),
		attribute.Int("attempt", entry.Attempts+1),
	))
	defer span.End()

	started := p.now().UTC()
	if err := p.deps.Store.BeginAttempt(ctx, entry.OwnerID, entry.ID, started); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin attempt")
		return false, fmt.Errorf("processor: begin attempt %s: %w", entry.ID, err)
	}
	entry.Attempts++

	callID, dispatchErr := p.dispatch(ctx, entry)

	// Outcome writes outlive run cancellation; an entry never stays processing.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	attempt := domain.CallAttempt{
		EntryID:        entry.ID,
		OwnerID:        entry.OwnerID,
		AttemptNum:     entry.Attempts,
		ProviderCallID: callID,
		StartedAt:      started,
		Duration:       p.now().UTC().Sub(started),
	}
	var kind domain.ErrorKind

	if dispatchErr == nil {
		if err := p.deps.Store.CompleteAttempt(settleCtx, entry.OwnerID, entry.ID, callID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "complete attempt")
			return false, fmt.Errorf("processor: complete attempt %s: %w", entry.ID, err)
		}
		attempt.Status = domain.EntryStatusCompleted
		span.SetAttributes(attribute.String("provider.call_id", callID))
	} else {
		kind = telephony.ErrorKindOf(dispatchErr)
		msg := telephony.ErrorMessage(dispatchErr)
		if err := p.deps.Store.FailAttempt(settleCtx, entry.OwnerID, entry.ID, msg, kind); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fail attempt")
			return false, fmt.Errorf("processor: fail attempt %s: %w", entry.ID, err)
		}
		attempt.Status = domain.EntryStatusFailed
		attempt.Error = msg
		span.RecordError(dispatchErr)
		span.SetStatus(codes.Error, string(kind))
	}

	p.report(settleCtx, attempt, kind)
	return dispatchErr == nil, nil
}

// dispatch formats the phone and submits the call. Panics are converted to
// local errors so one bad entry cannot take down the run.
func (p *Processor) dispatch(ctx context.Context, entry domain.CallQueueEntry) (callID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()

	formatted := phone.FormatForDispatch(entry.Phone, p.opts.CountryCode)
	if formatted == "+" {
		return "", errors.New("phone number has no digits")
	}

	res, err := p.deps.Dispatcher.SubmitCall(ctx, telephony.SubmitCallRequest{
		Phone:   formatted,
		Name:    entry.Name,
		OwnerID: entry.OwnerID,
		Metadata: map[string]string{
			"city":     entry.City,
			"email":    entry.Email,
			"notes":    entry.Notes,
			"entry_id": entry.ID.String(),
		},
	})
	if err != nil {
		return "", err
	}
	return res.CallID, nil
}

// report fans an attempt out to logs, the attempt log and the status stream.
// None of these can change the entry's outcome.
func (p *Processor) report(ctx context.Context, attempt domain.CallAttempt, kind domain.ErrorKind) {
	log := p.deps.Logger.WithContext(ctx).With(
		zap.String("owner_id", attempt.OwnerID),
		zap.String("entry_id", attempt.EntryID.String()),
		zap.Int("attempt", attempt.AttemptNum),
	)
	if attempt.Status == domain.EntryStatusCompleted {
		log.Info("processor: call submitted", zap.String("provider_call_id", attempt.ProviderCallID))
	} else {
		log.Warn("processor: call failed", zap.String("error_kind", string(kind)), zap.String("error", attempt.Error))
	}

	if p.deps.Attempts != nil {
		if err := p.deps.Attempts.AppendAttempt(ctx, attempt); err != nil {
			log.Warn("processor: append attempt log", zap.Error(err))
		}
	}

	if p.deps.Events != nil {
		msg := queue.StatusMessage{
			EntryID:        attempt.EntryID,
			OwnerID:        attempt.OwnerID,
			Status:         string(attempt.Status),
			Attempt:        attempt.AttemptNum,
			ProviderCallID: attempt.ProviderCallID,
			ErrorKind:      kind,
			Error:          attempt.Error,
			DurationMs:     attempt.Duration.Milliseconds(),
			OccurredAt:     p.now().UTC(),
		}
		if err := p.deps.Events.PublishStatus(ctx, msg); err != nil {
			log.Warn("processor: publish status", zap.Error(err))
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
