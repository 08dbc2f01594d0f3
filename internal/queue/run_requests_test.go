package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/outbound-call-queue/internal/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	pending   []kafka.Message
	committed []kafka.Message
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.pending) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.pending[0]
	r.pending = r.pending[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestRunRequestPublisherKeysByOwner(t *testing.T) {
	w := &fakeWriter{}
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p := &RunRequestPublisher{writer: w, now: func() time.Time { return fixed }}

	if err := p.Trigger(context.Background(), "u1", domain.RunReasonRetryAll); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "u1" {
		t.Fatalf("unexpected key %q", w.msgs[0].Key)
	}
	var req RunRequest
	if err := json.Unmarshal(w.msgs[0].Value, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.OwnerID != "u1" || req.Reason != domain.RunReasonRetryAll || !req.RequestedAt.Equal(fixed) {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestRunRequestPublisherWrapsWriteError(t *testing.T) {
	p := &RunRequestPublisher{writer: &fakeWriter{err: errors.New("broker down")}, now: time.Now}
	if err := p.Trigger(context.Background(), "u1", domain.RunReasonUpload); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunRequestConsumerCommitsAfterHandling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	good, _ := json.Marshal(RunRequest{OwnerID: "u1", Reason: domain.RunReasonUpload})
	reader := &fakeReader{
		pending: []kafka.Message{
			{Offset: 1, Value: good},
			{Offset: 2, Value: []byte("not json")},
			{Offset: 3, Value: []byte(`{"reason":"upload"}`)},
		},
		cancel: cancel,
	}
	var mu sync.Mutex
	var reported []error
	c := &RunRequestConsumer{reader: reader, onError: func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}}

	var handled []string
	err := c.Run(ctx, func(_ context.Context, req RunRequest) error {
		handled = append(handled, req.OwnerID)
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if len(handled) != 1 || handled[0] != "u1" {
		t.Fatalf("unexpected handled owners: %v", handled)
	}
	if len(reader.committed) != 3 {
		t.Fatalf("expected every message committed, got %d", len(reader.committed))
	}
	if len(reported) != 2 {
		t.Fatalf("expected two decode errors, got %v", reported)
	}
}

func runRequestMessages(t *testing.T, owners ...string) []kafka.Message {
	t.Helper()
	msgs := make([]kafka.Message, 0, len(owners))
	for i, owner := range owners {
		value, err := json.Marshal(RunRequest{OwnerID: owner, Reason: domain.RunReasonUpload})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		msgs = append(msgs, kafka.Message{Offset: int64(i), Key: []byte(owner), Value: value})
	}
	return msgs
}

func TestRunRequestConsumerRunsOwnersConcurrently(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{pending: runRequestMessages(t, "u1", "u2"), cancel: cancel}
	c := &RunRequestConsumer{reader: reader, workers: 2}

	u2Started := make(chan struct{})
	var u1Overlapped atomic.Bool
	err := c.Run(ctx, func(_ context.Context, req RunRequest) error {
		switch req.OwnerID {
		case "u1":
			select {
			case <-u2Started:
				u1Overlapped.Store(true)
			case <-time.After(2 * time.Second):
			}
		case "u2":
			close(u2Started)
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if !u1Overlapped.Load() {
		t.Fatalf("expected u2 to start while u1 was still running")
	}
	if len(reader.committed) != 2 {
		t.Fatalf("expected both messages committed, got %d", len(reader.committed))
	}
}

func TestRunRequestConsumerBoundsInFlightHandlers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{pending: runRequestMessages(t, "u1", "u2", "u3", "u4", "u5", "u6"), cancel: cancel}
	c := &RunRequestConsumer{reader: reader, workers: 2}

	var inFlight, peak, done atomic.Int32
	err := c.Run(ctx, func(_ context.Context, _ RunRequest) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		done.Add(1)
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 handlers in flight, saw %d", peak.Load())
	}
	if done.Load() != 6 {
		t.Fatalf("expected Run to wait for every handler, %d finished", done.Load())
	}
}
