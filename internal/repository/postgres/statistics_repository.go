package postgres

import (
	"context"
	"fmt"

	"github.com/acme/outbound-call-queue/internal/domain"
)

// CountByStatus aggregates the owner's full entry set by status.
func (r *CallQueueRepository) CountByStatus(ctx context.Context, ownerID string) (domain.StatusCounts, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'pending') AS pending,
		COUNT(*) FILTER (WHERE status = 'processing') AS processing,
		COUNT(*) FILTER (WHERE status = 'completed') AS completed,
		COUNT(*) FILTER (WHERE status = 'failed') AS failed
	FROM call_queue_entries WHERE owner_id = $1`, ownerID)

	var stats domain.StatusCounts
	if err := row.StructScan(&stats); err != nil {
		return domain.StatusCounts{}, fmt.Errorf("call queue stats: count by status: %w", err)
	}
	return stats, nil
}

// OwnersWithPending lists owners that still have pending entries, oldest backlog first.
func (r *CallQueueRepository) OwnersWithPending(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var owners []string
	err := r.db.SelectContext(ctx, &owners, `SELECT owner_id
		FROM call_queue_entries
		WHERE status = 'pending'
		GROUP BY owner_id
		ORDER BY MIN(created_at), MIN(seq)
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("call queue stats: owners with pending: %w", err)
	}
	return owners, nil
}
