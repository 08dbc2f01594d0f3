package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/repository"
)

const insertChunkSize = 500

// Rows of one upload share created_at; seq keeps their insertion order.
const (
	pendingOrder = `created_at ASC, seq ASC`
	listOrder    = `created_at DESC, seq DESC`
)

const entryColumns = `id, owner_id, name, phone, city, email, notes, status, attempts, last_attempt_at,
	provider_call_id, error_message, error_kind, interaction, created_at, updated_at`

// CallQueueRepository implements repository.CallQueueStore using PostgreSQL.
type CallQueueRepository struct {
	db *sqlx.DB
}

// NewCallQueueRepository constructs a new repository.
func NewCallQueueRepository(db *sqlx.DB) *CallQueueRepository {
	return &CallQueueRepository{db: db}
}

// InsertMany inserts entries in chunks inside a single transaction.
func (r *CallQueueRepository) InsertMany(ctx context.Context, entries []*domain.CallQueueEntry) error {
	if len(entries) == 0 {
		return nil
	}

	query := `INSERT INTO call_queue_entries (
		id, owner_id, name, phone, city, email, notes, status, attempts, created_at, updated_at
	) VALUES (:id, :owner_id, :name, :phone, :city, :email, :notes, :status, :attempts, :created_at, :updated_at)`

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for start := 0; start < len(entries); start += insertChunkSize {
			end := start + insertChunkSize
			if end > len(entries) {
				end = len(entries)
			}

			rows := make([]map[string]any, 0, end-start)
			for _, e := range entries[start:end] {
				rows = append(rows, map[string]any{
					"id":         e.ID,
					"owner_id":   e.OwnerID,
					"name":       e.Name,
					"phone":      e.Phone,
					"city":       nullString(e.City),
					"email":      nullString(e.Email),
					"notes":      nullString(e.Notes),
					"status":     string(e.Status),
					"attempts":   e.Attempts,
					"created_at": e.CreatedAt,
					"updated_at": e.UpdatedAt,
				})
			}

			if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
				return fmt.Errorf("call queue repo: bulk insert: %w", err)
			}
		}
		return nil
	})
}

// NextPending returns the owner's oldest pending entries.
func (r *CallQueueRepository) NextPending(ctx context.Context, ownerID string, limit int) ([]domain.CallQueueEntry, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+entryColumns+`
		FROM call_queue_entries
		WHERE owner_id = $1 AND status = 'pending'
		ORDER BY `+pendingOrder+`
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("call queue repo: next pending: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// BeginAttempt marks the entry processing and counts the attempt.
func (r *CallQueueRepository) BeginAttempt(ctx context.Context, ownerID string, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE call_queue_entries SET
		status = 'processing',
		attempts = attempts + 1,
		last_attempt_at = $3,
		updated_at = NOW()
	WHERE id = $1 AND owner_id = $2`, id, ownerID, at)
	if err != nil {
		return fmt.Errorf("call queue repo: begin attempt: %w", err)
	}
	return expectAffected(res, "begin attempt")
}

// CompleteAttempt records a successful dispatch.
func (r *CallQueueRepository) CompleteAttempt(ctx context.Context, ownerID string, id uuid.UUID, providerCallID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE call_queue_entries SET
		status = 'completed',
		provider_call_id = $3,
		error_message = NULL,
		error_kind = NULL,
		updated_at = NOW()
	WHERE id = $1 AND owner_id = $2`, id, ownerID, providerCallID)
	if err != nil {
		return fmt.Errorf("call queue repo: complete attempt: %w", err)
	}
	return expectAffected(res, "complete attempt")
}

// FailAttempt records a failed dispatch; a previous provider call id is kept.
func (r *CallQueueRepository) FailAttempt(ctx context.Context, ownerID string, id uuid.UUID, message string, kind domain.ErrorKind) error {
	res, err := r.db.ExecContext(ctx, `UPDATE call_queue_entries SET
		status = 'failed',
		error_message = $3,
		error_kind = $4,
		updated_at = NOW()
	WHERE id = $1 AND owner_id = $2`, id, ownerID, message, nullString(string(kind)))
	if err != nil {
		return fmt.Errorf("call queue repo: fail attempt: %w", err)
	}
	return expectAffected(res, "fail attempt")
}

// Get fetches one entry.
func (r *CallQueueRepository) Get(ctx context.Context, ownerID string, id uuid.UUID) (*domain.CallQueueEntry, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+entryColumns+`
		FROM call_queue_entries WHERE id = $1 AND owner_id = $2`, id, ownerID)

	var record entryRecord
	if err := row.StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call queue repo: get: %w", err)
	}

	entry := record.toDomain()
	return &entry, nil
}

// List returns one page of entries plus the filtered total.
func (r *CallQueueRepository) List(ctx context.Context, filter repository.ListFilter) ([]domain.CallQueueEntry, int64, error) {
	where, args := buildListWhere(filter)

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM call_queue_entries WHERE `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("call queue repo: count: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	query := `SELECT ` + entryColumns + ` FROM call_queue_entries WHERE ` + where +
		` ORDER BY ` + listOrder + ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("call queue repo: list: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ExistingPhones returns which of the given digit-only phones the owner already has.
func (r *CallQueueRepository) ExistingPhones(ctx context.Context, ownerID string, phones []string) ([]string, error) {
	if len(phones) == 0 {
		return nil, nil
	}

	var found []string
	err := r.db.SelectContext(ctx, &found, `SELECT DISTINCT regexp_replace(phone, '\D', '', 'g')
		FROM call_queue_entries
		WHERE owner_id = $1 AND regexp_replace(phone, '\D', '', 'g') = ANY($2)`, ownerID, phones)
	if err != nil {
		return nil, fmt.Errorf("call queue repo: existing phones: %w", err)
	}
	return found, nil
}

// ResetFailed moves failed entries back to pending.
func (r *CallQueueRepository) ResetFailed(ctx context.Context, ownerID string, ids []uuid.UUID) (int64, error) {
	query := `UPDATE call_queue_entries SET
		status = 'pending',
		error_message = NULL,
		error_kind = NULL,
		updated_at = NOW()
	WHERE owner_id = $1 AND status = 'failed'`
	args := []any{ownerID}
	if ids != nil {
		if len(ids) == 0 {
			return 0, nil
		}
		query += ` AND id = ANY($2)`
		args = append(args, ids)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("call queue repo: reset failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("call queue repo: rows affected: %w", err)
	}
	return n, nil
}

// SaveInteraction caches the provider snapshot on the entry.
func (r *CallQueueRepository) SaveInteraction(ctx context.Context, ownerID string, id uuid.UUID, interaction domain.Interaction) error {
	payload, err := json.Marshal(interaction)
	if err != nil {
		return fmt.Errorf("call queue repo: marshal interaction: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `UPDATE call_queue_entries SET interaction = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2`, id, ownerID, payload)
	if err != nil {
		return fmt.Errorf("call queue repo: save interaction: %w", err)
	}
	return expectAffected(res, "save interaction")
}

// Delete removes one entry.
func (r *CallQueueRepository) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM call_queue_entries WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("call queue repo: delete: %w", err)
	}
	return expectAffected(res, "delete")
}

func buildListWhere(filter repository.ListFilter) (string, []any) {
	clauses := []string{"owner_id = $1"}
	args := []any{filter.OwnerID}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, "status = $"+strconv.Itoa(len(args)))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		n := strconv.Itoa(len(args))
		clauses = append(clauses, "(name ILIKE $"+n+" OR phone ILIKE $"+n+")")
	}
	return strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func expectAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("call queue repo: %s rows affected: %w", op, err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanEntries(rows *sqlx.Rows) ([]domain.CallQueueEntry, error) {
	var results []domain.CallQueueEntry
	for rows.Next() {
		var record entryRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("call queue repo: scan: %w", err)
		}
		results = append(results, record.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("call queue repo: rows err: %w", err)
	}
	return results, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type entryRecord struct {
	ID             uuid.UUID      `db:"id"`
	OwnerID        string         `db:"owner_id"`
	Name           string         `db:"name"`
	Phone          string         `db:"phone"`
	City           sql.NullString `db:"city"`
	Email          sql.NullString `db:"email"`
	Notes          sql.NullString `db:"notes"`
	Status         string         `db:"status"`
	Attempts       int            `db:"attempts"`
	LastAttemptAt  sql.NullTime   `db:"last_attempt_at"`
	ProviderCallID sql.NullString `db:"provider_call_id"`
	ErrorMessage   sql.NullString `db:"error_message"`
	ErrorKind      sql.NullString `db:"error_kind"`
	Interaction    []byte         `db:"interaction"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r entryRecord) toDomain() domain.CallQueueEntry {
	entry := domain.CallQueueEntry{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		Name:           r.Name,
		Phone:          r.Phone,
		City:           r.City.String,
		Email:          r.Email.String,
		Notes:          r.Notes.String,
		Status:         domain.EntryStatus(r.Status),
		Attempts:       r.Attempts,
		ProviderCallID: r.ProviderCallID.String,
		ErrorMessage:   r.ErrorMessage.String,
		ErrorKind:      domain.ErrorKind(r.ErrorKind.String),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.LastAttemptAt.Valid {
		t := r.LastAttemptAt.Time
		entry.LastAttemptAt = &t
	}
	if len(r.Interaction) > 0 {
		var snapshot domain.Interaction
		if err := json.Unmarshal(r.Interaction, &snapshot); err == nil {
			entry.Interaction = &snapshot
		}
	}
	return entry
}
