package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// CallQueueStore persists call-queue entries. Every operation is scoped by owner.
type CallQueueStore interface {
	InsertMany(ctx context.Context, entries []*domain.CallQueueEntry) error
	NextPending(ctx context.Context, ownerID string, limit int) ([]domain.CallQueueEntry, error)

	BeginAttempt(ctx context.Context, ownerID string, id uuid.UUID, at time.Time) error
	CompleteAttempt(ctx context.Context, ownerID string, id uuid.UUID, providerCallID string) error
	FailAttempt(ctx context.Context, ownerID string, id uuid.UUID, message string, kind domain.ErrorKind) error

	Get(ctx context.Context, ownerID string, id uuid.UUID) (*domain.CallQueueEntry, error)
	List(ctx context.Context, filter ListFilter) ([]domain.CallQueueEntry, int64, error)
	CountByStatus(ctx context.Context, ownerID string) (domain.StatusCounts, error)
	ExistingPhones(ctx context.Context, ownerID string, phones []string) ([]string, error)
	OwnersWithPending(ctx context.Context, limit int) ([]string, error)

	// ResetFailed moves failed entries back to pending. A nil ids slice selects
	// every failed entry of the owner.
	ResetFailed(ctx context.Context, ownerID string, ids []uuid.UUID) (int64, error)
	SaveInteraction(ctx context.Context, ownerID string, id uuid.UUID, interaction domain.Interaction) error
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
}

// AttemptLog keeps the append-only history of dispatch attempts.
type AttemptLog interface {
	AppendAttempt(ctx context.Context, attempt domain.CallAttempt) error
	ListAttempts(ctx context.Context, entryID uuid.UUID, limit int, pagingState []byte) ([]domain.CallAttempt, []byte, error)
}

// ListFilter narrows a paginated listing.
type ListFilter struct {
	OwnerID string
	Status  domain.EntryStatus
	Search  string
	Offset  int
	Limit   int
}
