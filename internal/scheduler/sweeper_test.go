package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/acme/outbound-call-queue/internal/domain"
)

type staticOwners struct {
	owners []string
	err    error
	limit  int
}

func (s *staticOwners) OwnersWithPending(_ context.Context, limit int) ([]string, error) {
	s.limit = limit
	return s.owners, s.err
}

type recordingTrigger struct {
	mu      sync.Mutex
	owners  []string
	reasons []domain.RunReason
	failFor string
}

func (r *recordingTrigger) Trigger(_ context.Context, ownerID string, reason domain.RunReason) error {
	if ownerID == r.failFor {
		return errors.New("broker down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = append(r.owners, ownerID)
	r.reasons = append(r.reasons, reason)
	return nil
}

func TestSweepTriggersEveryPendingOwner(t *testing.T) {
	source := &staticOwners{owners: []string{"u1", "u2", "u3"}}
	trigger := &recordingTrigger{failFor: "u2"}
	s, err := New(source, trigger, "@every 5m", 0, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 || len(trigger.owners) != 2 || trigger.owners[1] != "u3" {
		t.Fatalf("unexpected triggers n=%d owners=%v", n, trigger.owners)
	}
	if trigger.reasons[0] != domain.RunReasonSweep {
		t.Fatalf("unexpected reason %q", trigger.reasons[0])
	}
	if source.limit != 100 {
		t.Fatalf("expected default limit, got %d", source.limit)
	}
}

func TestSweepPropagatesSourceError(t *testing.T) {
	s, _ := New(&staticOwners{err: errors.New("db down")}, &recordingTrigger{}, "*/5 * * * *", 10, nil)
	if _, err := s.Sweep(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	if _, err := New(&staticOwners{}, &recordingTrigger{}, "every now and then", 10, nil); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
}

func TestRunSweepsImmediatelyAndStopsOnCancel(t *testing.T) {
	source := &staticOwners{owners: []string{"u1"}}
	trigger := &recordingTrigger{}
	s, _ := New(source, trigger, "@every 1h", 10, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for {
		trigger.mu.Lock()
		n := len(trigger.owners)
		trigger.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
