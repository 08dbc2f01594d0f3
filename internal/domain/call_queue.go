package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryStatus enumerates lifecycle stages of a queued contact.
type EntryStatus string

const (
	EntryStatusPending    EntryStatus = "pending"
	EntryStatusProcessing EntryStatus = "processing"
	EntryStatusCompleted  EntryStatus = "completed"
	EntryStatusFailed     EntryStatus = "failed"
)

// Valid reports whether s is a known status.
func (s EntryStatus) Valid() bool {
	switch s {
	case EntryStatusPending, EntryStatusProcessing, EntryStatusCompleted, EntryStatusFailed:
		return true
	}
	return false
}

// ErrorKind classifies the last dispatch failure of an entry.
type ErrorKind string

const (
	ErrorKindNone          ErrorKind = ""
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindProvider      ErrorKind = "provider"
	ErrorKindNetwork       ErrorKind = "network"
	ErrorKindLocal         ErrorKind = "local"
)

// Contact is a validated candidate row produced by the extractor.
type Contact struct {
	Name  string
	Phone string
	City  string
	Email string
	Notes string
}

// CallQueueEntry is one contact's call lifecycle.
type CallQueueEntry struct {
	ID      uuid.UUID
	OwnerID string

	Name  string
	Phone string
	City  string
	Email string
	Notes string

	Status         EntryStatus
	Attempts       int
	LastAttemptAt  *time.Time
	ProviderCallID string
	ErrorMessage   string
	ErrorKind      ErrorKind

	Interaction *Interaction

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewEntry builds a pending entry for the owner.
func NewEntry(ownerID string, c Contact, now time.Time) *CallQueueEntry {
	return &CallQueueEntry{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      c.Name,
		Phone:     c.Phone,
		City:      c.City,
		Email:     c.Email,
		Notes:     c.Notes,
		Status:    EntryStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Interaction is the provider-reported snapshot of a call.
type Interaction struct {
	ProviderStatus  string             `json:"provider_status"`
	DurationSeconds int                `json:"duration_seconds"`
	Transcript      []TranscriptTurn   `json:"transcript,omitempty"`
	RecordingURL    string             `json:"recording_url,omitempty"`
	HangupBy        string             `json:"hangup_by,omitempty"`
	HangupReason    string             `json:"hangup_reason,omitempty"`
	ExtractedFields map[string]any     `json:"extracted_fields,omitempty"`
	Cost            map[string]float64 `json:"cost,omitempty"`
	TotalCost       float64            `json:"total_cost"`
	FetchedAt       time.Time          `json:"fetched_at"`
}

// TranscriptTurn is one utterance in a call transcript.
type TranscriptTurn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
	AtSec   int    `json:"at_sec"`
}

// CallAttempt captures an individual dispatch attempt for observability.
type CallAttempt struct {
	EntryID        uuid.UUID
	OwnerID        string
	AttemptNum     int
	Status         EntryStatus
	ProviderCallID string
	Error          string
	StartedAt      time.Time
	Duration       time.Duration
}

// StatusCounts aggregates an owner's entries by status.
type StatusCounts struct {
	Total      int64 `db:"total"`
	Pending    int64 `db:"pending"`
	Processing int64 `db:"processing"`
	Completed  int64 `db:"completed"`
	Failed     int64 `db:"failed"`
}

// Add increments the bucket for status.
func (c *StatusCounts) Add(status EntryStatus, n int64) {
	switch status {
	case EntryStatusPending:
		c.Pending += n
	case EntryStatusProcessing:
		c.Processing += n
	case EntryStatusCompleted:
		c.Completed += n
	case EntryStatusFailed:
		c.Failed += n
	default:
		return
	}
	c.Total += n
}

// RunReason records why a queue run was requested.
type RunReason string

const (
	RunReasonUpload   RunReason = "upload"
	RunReasonRetry    RunReason = "retry"
	RunReasonRetryAll RunReason = "retry_all"
	RunReasonSweep    RunReason = "sweep"
)
