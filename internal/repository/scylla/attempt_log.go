package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
)

// AttemptLog persists dispatch attempts in Scylla, partitioned by entry.
type AttemptLog struct {
	session *gocql.Session
}

// NewAttemptLog creates a new attempt log.
func NewAttemptLog(session *gocql.Session) *AttemptLog {
	return &AttemptLog{session: session}
}

// AppendAttempt appends a call attempt record.
func (l *AttemptLog) AppendAttempt(ctx context.Context, attempt domain.CallAttempt) error {
	durationMs := int64(attempt.Duration / time.Millisecond)
	if err := l.session.Query(`INSERT INTO call_attempts (entry_id, attempt_number, owner_id, status, provider_call_id, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.EntryID.String(), attempt.AttemptNum, attempt.OwnerID, string(attempt.Status),
		attempt.ProviderCallID, attempt.Error, attempt.StartedAt, durationMs,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt log: append: %w", err)
	}
	return nil
}

// ListAttempts lists an entry's attempts newest first with driver paging.
func (l *AttemptLog) ListAttempts(ctx context.Context, entryID uuid.UUID, limit int, pagingState []byte) ([]domain.CallAttempt, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := l.session.Query(`SELECT attempt_number, owner_id, status, provider_call_id, error, started_at, duration_ms
		FROM call_attempts WHERE entry_id = ?`, entryID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	attempts := make([]domain.CallAttempt, 0, limit)

	var (
		attemptNum     int
		ownerID        string
		status         string
		providerCallID string
		errMsg         string
		startedAt      time.Time
		durationMs     int64
	)

	for iter.Scan(&attemptNum, &ownerID, &status, &providerCallID, &errMsg, &startedAt, &durationMs) {
		attempts = append(attempts, domain.CallAttempt{
			EntryID:        entryID,
			OwnerID:        ownerID,
			AttemptNum:     attemptNum,
			Status:         domain.EntryStatus(status),
			ProviderCallID: providerCallID,
			Error:          errMsg,
			StartedAt:      startedAt,
			Duration:       time.Duration(durationMs) * time.Millisecond,
		})
		if len(attempts) == limit {
			break
		}
	}

	nextState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("attempt log: iter close: %w", err)
	}

	return attempts, nextState, nil
}
