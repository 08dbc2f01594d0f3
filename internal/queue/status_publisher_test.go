package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
)

func TestStatusPublisherWritesAttemptEvent(t *testing.T) {
	w := &fakeWriter{}
	p := &StatusPublisher{writer: w, now: time.Now}
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	id := uuid.New()

	err := p.PublishStatus(context.Background(), StatusMessage{
		EntryID:    id,
		OwnerID:    "u1",
		Status:     "failed",
		Attempt:    2,
		ErrorKind:  domain.ErrorKindProvider,
		Error:      "Invalid destination number",
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	m := w.msgs[0]
	if string(m.Key) != "u1" || !m.Time.Equal(at) {
		t.Fatalf("unexpected key/time: %q %v", m.Key, m.Time)
	}
	headers := map[string]string{}
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["status"] != "failed" || headers["attempt"] != "2" {
		t.Fatalf("unexpected headers: %v", headers)
	}
	var decoded StatusMessage
	if err := json.Unmarshal(m.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.EntryID != id || decoded.ErrorKind != domain.ErrorKindProvider || decoded.ProviderCallID != "" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestStatusPublisherStampsMissingTime(t *testing.T) {
	w := &fakeWriter{}
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &StatusPublisher{writer: w, now: func() time.Time { return fixed }}

	if err := p.PublishStatus(context.Background(), StatusMessage{OwnerID: "u1", Status: "completed"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !w.msgs[0].Time.Equal(fixed) {
		t.Fatalf("expected stamped time, got %v", w.msgs[0].Time)
	}
}

func TestStatusPublisherWrapsWriteError(t *testing.T) {
	p := &StatusPublisher{writer: &fakeWriter{err: errors.New("broker down")}, now: time.Now}
	if err := p.PublishStatus(context.Background(), StatusMessage{OwnerID: "u1"}); err == nil {
		t.Fatalf("expected error")
	}
}
