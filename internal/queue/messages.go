package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
)

// RunRequest asks a queue worker to drain one owner's pending entries.
type RunRequest struct {
	OwnerID     string           `json:"owner_id"`
	Reason      domain.RunReason `json:"reason"`
	RequestedAt time.Time        `json:"requested_at"`
}

// StatusMessage represents the outcome of a call attempt.
type StatusMessage struct {
	EntryID        uuid.UUID        `json:"entry_id"`
	OwnerID        string           `json:"owner_id"`
	Status         string           `json:"status"`
	Attempt        int              `json:"attempt"`
	ProviderCallID string           `json:"provider_call_id,omitempty"`
	ErrorKind      domain.ErrorKind `json:"error_kind,omitempty"`
	Error          string           `json:"error,omitempty"`
	DurationMs     int64            `json:"duration_ms"`
	OccurredAt     time.Time        `json:"occurred_at"`
}
