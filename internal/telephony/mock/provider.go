package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/telephony"
)

// Provider simulates the calling provider for local runs.
type Provider struct {
	mu          sync.Mutex
	successRate float64
	latency     time.Duration
	rng         *rand.Rand
	calls       map[string]domain.Interaction
}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.ProviderConfig) *Provider {
	rate := cfg.MockSuccessRate
	if rate <= 0 {
		rate = 0.8
	}
	return &Provider{
		successRate: rate,
		latency:     200 * time.Millisecond,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		calls:       make(map[string]domain.Interaction),
	}
}

// SubmitCall simulates a call submission.
func (p *Provider) SubmitCall(ctx context.Context, req telephony.SubmitCallRequest) (telephony.SubmitCallResult, error) {
	select {
	case <-ctx.Done():
		return telephony.SubmitCallResult{}, &telephony.DispatchError{Kind: domain.ErrorKindNetwork, Message: ctx.Err().Error()}
	case <-time.After(p.latency):
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rng.Float64() > p.successRate {
		return telephony.SubmitCallResult{}, &telephony.DispatchError{
			Kind:       domain.ErrorKindProvider,
			StatusCode: 422,
			Message:    fmt.Sprintf("simulated rejection for %s", req.Phone),
		}
	}

	id := "mock_" + uuid.NewString()
	duration := 15 + p.rng.Intn(120)
	p.calls[id] = domain.Interaction{
		ProviderStatus:  "done",
		DurationSeconds: duration,
		Transcript: []domain.TranscriptTurn{
			{Role: "agent", Message: "Hello " + req.Name + ", this is a test call.", AtSec: 0},
			{Role: "user", Message: "Thanks, goodbye.", AtSec: 4},
		},
		HangupBy:     "user",
		HangupReason: "call ended by remote party",
		Cost:         map[string]float64{"llm": 0.01, "telephony": float64(duration) * 0.001},
		TotalCost:    0.01 + float64(duration)*0.001,
	}
	return telephony.SubmitCallResult{CallID: id}, nil
}

// GetCallStatus returns the simulated interaction for callID.
func (p *Provider) GetCallStatus(ctx context.Context, callID string) (domain.Interaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot, ok := p.calls[callID]
	if !ok {
		return domain.Interaction{}, &telephony.DispatchError{Kind: domain.ErrorKindProvider, StatusCode: 404, Message: "conversation not found"}
	}
	snapshot.FetchedAt = time.Now().UTC()
	return snapshot, nil
}
