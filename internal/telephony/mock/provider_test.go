package mock

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/telephony"
)

func newTestProvider(rate float64) *Provider {
	p := NewProvider(config.ProviderConfig{MockSuccessRate: rate})
	p.latency = 0
	p.rng = rand.New(rand.NewSource(1))
	return p
}

func TestSubmitCallStoresInteraction(t *testing.T) {
	p := newTestProvider(1)

	res, err := p.SubmitCall(context.Background(), telephony.SubmitCallRequest{Phone: "+919876543210", Name: "Asha"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.HasPrefix(res.CallID, "mock_") {
		t.Fatalf("unexpected call id %q", res.CallID)
	}

	snapshot, err := p.GetCallStatus(context.Background(), res.CallID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snapshot.ProviderStatus != "done" || snapshot.DurationSeconds < 15 || len(snapshot.Transcript) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if !strings.Contains(snapshot.Transcript[0].Message, "Asha") || snapshot.FetchedAt.IsZero() {
		t.Fatalf("unexpected transcript or fetch time: %+v", snapshot)
	}
}

func TestSubmitCallDistinctIDs(t *testing.T) {
	p := newTestProvider(1)
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		res, err := p.SubmitCall(context.Background(), telephony.SubmitCallRequest{Phone: "+15550100"})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if seen[res.CallID] {
			t.Fatalf("duplicate call id %q", res.CallID)
		}
		seen[res.CallID] = true
	}
}

func TestSubmitCallRejection(t *testing.T) {
	p := newTestProvider(1e-9)

	_, err := p.SubmitCall(context.Background(), telephony.SubmitCallRequest{Phone: "+15550100"})
	var de *telephony.DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if de.Kind != domain.ErrorKindProvider || de.StatusCode != 422 || !strings.Contains(de.Message, "+15550100") {
		t.Fatalf("unexpected error: %+v", de)
	}
}

func TestSubmitCallHonoursCancellation(t *testing.T) {
	p := NewProvider(config.ProviderConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.SubmitCall(ctx, telephony.SubmitCallRequest{Phone: "+15550100"})
	if telephony.ErrorKindOf(err) != domain.ErrorKindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestGetCallStatusUnknown(t *testing.T) {
	p := newTestProvider(1)
	_, err := p.GetCallStatus(context.Background(), "missing")
	var de *telephony.DispatchError
	if !errors.As(err, &de) || de.StatusCode != 404 {
		t.Fatalf("expected 404 dispatch error, got %v", err)
	}
}

func TestDefaultSuccessRate(t *testing.T) {
	if p := NewProvider(config.ProviderConfig{}); p.successRate != 0.8 {
		t.Fatalf("expected default success rate 0.8, got %v", p.successRate)
	}
}
