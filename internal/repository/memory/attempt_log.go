package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

// AttemptLog is an in-memory repository.AttemptLog. Attempts are listed newest
// first; the paging state is the big-endian offset of the next page.
type AttemptLog struct {
	mu       sync.Mutex
	attempts map[uuid.UUID][]domain.CallAttempt
}

// NewAttemptLog constructs an empty attempt log.
func NewAttemptLog() *AttemptLog {
	return &AttemptLog{attempts: make(map[uuid.UUID][]domain.CallAttempt)}
}

func (l *AttemptLog) AppendAttempt(ctx context.Context, attempt domain.CallAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[attempt.EntryID] = append(l.attempts[attempt.EntryID], attempt)
	return nil
}

func (l *AttemptLog) ListAttempts(ctx context.Context, entryID uuid.UUID, limit int, pagingState []byte) ([]domain.CallAttempt, []byte, error) {
	if limit <= 0 {
		limit = 100
	}
	var raw uint64
	if len(pagingState) > 0 {
		if len(pagingState) != 8 {
			return nil, nil, fmt.Errorf("%w: attempt log: invalid paging state", apperrors.ErrValidation)
		}
		raw = binary.BigEndian.Uint64(pagingState)
	}

	l.mu.Lock()
	all := l.attempts[entryID]
	newestFirst := make([]domain.CallAttempt, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		newestFirst = append(newestFirst, all[i])
	}
	l.mu.Unlock()

	if raw > uint64(len(newestFirst)) {
		return nil, nil, fmt.Errorf("%w: attempt log: paging state out of range", apperrors.ErrValidation)
	}
	offset := int(raw)
	if offset == len(newestFirst) {
		return []domain.CallAttempt{}, nil, nil
	}
	end := len(newestFirst)
	var next []byte
	if limit < end-offset {
		end = offset + limit
		next = make([]byte, 8)
		binary.BigEndian.PutUint64(next, uint64(end))
	}
	return newestFirst[offset:end], next, nil
}
