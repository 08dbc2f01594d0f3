// Package callqueue implements the owner-facing call-queue operations.
package callqueue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/extractor"
	"github.com/acme/outbound-call-queue/internal/phone"
	"github.com/acme/outbound-call-queue/internal/processor"
	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/internal/service/common"
	"github.com/acme/outbound-call-queue/internal/telephony"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Service orchestrates uploads, listings, retries and call details for an owner's queue.
type Service struct {
	store      repository.CallQueueStore
	attempts   repository.AttemptLog
	dispatcher telephony.Dispatcher
	trigger    processor.Trigger
	upload     config.UploadConfig
	logger     *logger.Logger
	now        func() time.Time
}

// NewService constructs a call-queue service. attempts may be nil when no
// attempt log is configured.
func NewService(
	store repository.CallQueueStore,
	attempts repository.AttemptLog,
	dispatcher telephony.Dispatcher,
	trigger processor.Trigger,
	upload config.UploadConfig,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		store:      store,
		attempts:   attempts,
		dispatcher: dispatcher,
		trigger:    trigger,
		upload:     upload,
		logger:     log,
		now:        time.Now,
	}
}

// RowErrors is a validation failure that carries per-row messages.
type RowErrors struct {
	Reason string
	Rows   []string
}

func (e *RowErrors) Error() string {
	return fmt.Sprintf("%s: %s (%d row errors)", apperrors.ErrValidation, e.Reason, len(e.Rows))
}

func (e *RowErrors) Unwrap() error { return apperrors.ErrValidation }

// UploadResult summarises an accepted upload.
type UploadResult struct {
	TotalRows      int      `json:"total_rows"`
	ValidRows      int      `json:"valid_rows"`
	SavedCount     int      `json:"saved_count"`
	ErrorCount     int      `json:"error_count"`
	DuplicateCount int      `json:"duplicate_count"`
	Errors         []string `json:"errors"`
	Duplicates     []string `json:"duplicates"`
}

// Upload extracts contacts from a tabular file, queues them as pending and
// starts processing. Numbers the owner already has are reported as duplicates
// but still queued.
func (s *Service) Upload(ctx context.Context, ownerID, filename string, r io.Reader) (*UploadResult, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if !extractor.Supported(filename) {
		return nil, fmt.Errorf("%w: unsupported file %q, expected .csv or .xlsx", apperrors.ErrValidation, filename)
	}

	data, err := s.readUpload(r)
	if err != nil {
		return nil, err
	}

	report, err := extractor.Extract(filename, bytes.NewReader(data), extractor.Options{MaxRows: s.upload.MaxRows})
	if err != nil {
		return nil, err
	}
	if report.ValidRows == 0 {
		return nil, &RowErrors{Reason: "no valid contacts found in file", Rows: report.Errors}
	}

	digits := make([]string, 0, len(report.Contacts))
	for _, c := range report.Contacts {
		digits = append(digits, phone.Digits(c.Phone))
	}
	existing, err := s.store.ExistingPhones(ctx, ownerID, digits)
	if err != nil {
		return nil, fmt.Errorf("call queue service: lookup existing phones: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, d := range existing {
		known[d] = struct{}{}
	}

	now := s.now().UTC()
	entries := make([]*domain.CallQueueEntry, 0, len(report.Contacts))
	duplicates := make([]string, 0)
	for i, c := range report.Contacts {
		if _, dup := known[digits[i]]; dup {
			duplicates = append(duplicates, c.Phone)
		}
		entries = append(entries, domain.NewEntry(ownerID, c, now))
	}

	if err := s.store.InsertMany(ctx, entries); err != nil {
		return nil, fmt.Errorf("call queue service: insert entries: %w", err)
	}

	s.logger.WithContext(ctx).Info("call queue: upload accepted",
		zap.String("owner_id", ownerID),
		zap.String("filename", filename),
		zap.Int("saved", len(entries)),
		zap.Int("row_errors", len(report.Errors)),
		zap.Int("duplicates", len(duplicates)),
	)
	s.kick(ctx, ownerID, domain.RunReasonUpload)

	rowErrors := report.Errors
	if rowErrors == nil {
		rowErrors = []string{}
	}
	return &UploadResult{
		TotalRows:      report.TotalRows,
		ValidRows:      report.ValidRows,
		SavedCount:     len(entries),
		ErrorCount:     len(rowErrors),
		DuplicateCount: len(duplicates),
		Errors:         rowErrors,
		Duplicates:     duplicates,
	}, nil
}

func (s *Service) readUpload(r io.Reader) ([]byte, error) {
	if s.upload.MaxBytes <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("call queue service: read upload: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(s.upload.MaxBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("call queue service: read upload: %w", err)
	}
	if len(data) > s.upload.MaxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", apperrors.ErrValidation, s.upload.MaxBytes)
	}
	return data, nil
}

// ListQuery narrows a listing. Page is 1-based.
type ListQuery struct {
	OwnerID string
	Status  string
	Search  string
	Page    int
	Limit   int
}

// Pagination describes the returned page.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// ListResult is one page of entries plus owner-wide counts.
type ListResult struct {
	Entries    []domain.CallQueueEntry
	Pagination Pagination
	Counts     domain.StatusCounts
}

// List returns the owner's entries, newest first.
func (s *Service) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	if err := requireOwner(q.OwnerID); err != nil {
		return nil, err
	}
	status := domain.EntryStatus(strings.ToLower(strings.TrimSpace(q.Status)))
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, q.Status)
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := clampLimit(q.Limit)

	entries, total, err := s.store.List(ctx, repository.ListFilter{
		OwnerID: q.OwnerID,
		Status:  status,
		Search:  strings.TrimSpace(q.Search),
		Offset:  (page - 1) * limit,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("call queue service: list: %w", err)
	}
	counts, err := s.store.CountByStatus(ctx, q.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("call queue service: count: %w", err)
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &ListResult{
		Entries: entries,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
		},
		Counts: counts,
	}, nil
}

// Stats returns per-status counts for the owner.
func (s *Service) Stats(ctx context.Context, ownerID string) (domain.StatusCounts, error) {
	if err := requireOwner(ownerID); err != nil {
		return domain.StatusCounts{}, err
	}
	counts, err := s.store.CountByStatus(ctx, ownerID)
	if err != nil {
		return domain.StatusCounts{}, fmt.Errorf("call queue service: count: %w", err)
	}
	return counts, nil
}

// Get returns one entry owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID string, id uuid.UUID) (*domain.CallQueueEntry, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	entry, err := s.store.Get(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("call queue service: get %s: %w", id, err)
	}
	return entry, nil
}

// RetryEntries moves the selected failed entries back to pending. Entries
// that are not failed or not owned by ownerID are ignored.
func (s *Service) RetryEntries(ctx context.Context, ownerID string, ids []uuid.UUID) (int64, error) {
	if err := requireOwner(ownerID); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: at least one id is required", apperrors.ErrValidation)
	}
	return s.reset(ctx, ownerID, ids, domain.RunReasonRetry)
}

// RetryAllFailed moves every failed entry of the owner back to pending.
func (s *Service) RetryAllFailed(ctx context.Context, ownerID string) (int64, error) {
	if err := requireOwner(ownerID); err != nil {
		return 0, err
	}
	return s.reset(ctx, ownerID, nil, domain.RunReasonRetryAll)
}

func (s *Service) reset(ctx context.Context, ownerID string, ids []uuid.UUID, reason domain.RunReason) (int64, error) {
	n, err := s.store.ResetFailed(ctx, ownerID, ids)
	if err != nil {
		return 0, fmt.Errorf("call queue service: reset failed: %w", err)
	}
	if n > 0 {
		s.kick(ctx, ownerID, reason)
	}
	return n, nil
}

// Delete removes one entry.
func (s *Service) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, ownerID, id); err != nil {
		return fmt.Errorf("call queue service: delete %s: %w", id, err)
	}
	return nil
}

// kick requests a processor run. The queue is already persisted, so a failed
// trigger only delays processing until the next request.
func (s *Service) kick(ctx context.Context, ownerID string, reason domain.RunReason) {
	if s.trigger == nil {
		return
	}
	if err := s.trigger.Trigger(ctx, ownerID, reason); err != nil {
		s.logger.WithContext(ctx).Error("call queue: trigger run",
			zap.String("owner_id", ownerID),
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
	}
}

// InteractionView is the call detail returned to the owner.
type InteractionView struct {
	Entry       *domain.CallQueueEntry
	Available   bool
	Cached      bool
	Error       string
	Interaction *domain.Interaction
}

// Interaction fetches the live call snapshot for an entry and stores it. When
// the provider cannot be reached the last stored snapshot is returned instead.
func (s *Service) Interaction(ctx context.Context, ownerID string, id uuid.UUID) (*InteractionView, error) {
	entry, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	view := &InteractionView{Entry: entry}
	if entry.ProviderCallID == "" {
		return view, nil
	}

	live, err := s.dispatcher.GetCallStatus(ctx, entry.ProviderCallID)
	if err != nil {
		s.logger.WithContext(ctx).Warn("call queue: fetch interaction",
			zap.String("owner_id", ownerID),
			zap.String("entry_id", id.String()),
			zap.Error(err),
		)
		view.Cached = true
		view.Error = telephony.ErrorMessage(err)
		if entry.Interaction != nil {
			view.Available = true
			view.Interaction = entry.Interaction
		}
		return view, nil
	}

	merged := mergeInteraction(entry.Interaction, live)
	if err := s.store.SaveInteraction(ctx, ownerID, id, merged); err != nil {
		s.logger.WithContext(ctx).Warn("call queue: save interaction",
			zap.String("entry_id", id.String()),
			zap.Error(err),
		)
	} else {
		entry.Interaction = &merged
	}
	view.Available = true
	view.Interaction = &merged
	return view, nil
}

// mergeInteraction overlays live on stored, keeping stored values the live
// snapshot does not report.
func mergeInteraction(stored *domain.Interaction, live domain.Interaction) domain.Interaction {
	if stored == nil {
		return live
	}
	merged := live
	if merged.ProviderStatus == "" {
		merged.ProviderStatus = stored.ProviderStatus
	}
	if merged.DurationSeconds == 0 {
		merged.DurationSeconds = stored.DurationSeconds
	}
	if len(merged.Transcript) == 0 {
		merged.Transcript = stored.Transcript
	}
	if merged.RecordingURL == "" {
		merged.RecordingURL = stored.RecordingURL
	}
	if merged.HangupBy == "" {
		merged.HangupBy = stored.HangupBy
	}
	if merged.HangupReason == "" {
		merged.HangupReason = stored.HangupReason
	}
	if len(stored.ExtractedFields) > 0 {
		fields := make(map[string]any, len(stored.ExtractedFields)+len(live.ExtractedFields))
		for k, v := range stored.ExtractedFields {
			fields[k] = v
		}
		for k, v := range live.ExtractedFields {
			fields[k] = v
		}
		merged.ExtractedFields = fields
	}
	if len(merged.Cost) == 0 {
		merged.Cost = stored.Cost
	}
	if merged.TotalCost == 0 {
		merged.TotalCost = stored.TotalCost
	}
	return merged
}

// AttemptPage is one page of the attempt log.
type AttemptPage struct {
	Attempts      []domain.CallAttempt
	NextPageToken string
}

// Attempts lists dispatch attempts for an entry, newest first.
func (s *Service) Attempts(ctx context.Context, ownerID string, id uuid.UUID, limit int, pageToken string) (*AttemptPage, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	if s.attempts == nil {
		return nil, fmt.Errorf("%w: attempt log is not configured", apperrors.ErrUnavailable)
	}

	state, err := common.DecodePageToken(pageToken)
	if err != nil {
		return nil, err
	}

	attempts, next, err := s.attempts.ListAttempts(ctx, id, clampLimit(limit), state)
	if err != nil {
		return nil, fmt.Errorf("call queue service: list attempts: %w", err)
	}
	return &AttemptPage{Attempts: attempts, NextPageToken: common.EncodePageToken(next)}, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageLimit
	case limit > maxPageLimit:
		return maxPageLimit
	default:
		return limit
	}
}

func requireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("%w: owner id is required", apperrors.ErrUnauthorized)
	}
	return nil
}
