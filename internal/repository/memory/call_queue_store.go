// Package memory provides in-process stores for tests and local development.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/phone"
	"github.com/acme/outbound-call-queue/internal/repository"
)

// CallQueueStore is an in-memory repository.CallQueueStore. It enforces owner
// isolation on every read and write.
type CallQueueStore struct {
	mu      sync.Mutex
	seq     int64
	entries map[uuid.UUID]*storedEntry

	// FailNext, when set, is returned by the next call to NextPending.
	FailNext error
}

type storedEntry struct {
	seq   int64
	entry domain.CallQueueEntry
}

// NewCallQueueStore constructs an empty store.
func NewCallQueueStore() *CallQueueStore {
	return &CallQueueStore{entries: make(map[uuid.UUID]*storedEntry)}
}

func (s *CallQueueStore) InsertMany(ctx context.Context, entries []*domain.CallQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e == nil {
			continue
		}
		if _, exists := s.entries[e.ID]; exists {
			return repository.ErrConflict
		}
	}
	for _, e := range entries {
		if e == nil {
			continue
		}
		s.seq++
		s.entries[e.ID] = &storedEntry{seq: s.seq, entry: cloneEntry(*e)}
	}
	return nil
}

func (s *CallQueueStore) NextPending(ctx context.Context, ownerID string, limit int) ([]domain.CallQueueEntry, error) {
	if ownerID == "" {
		return nil, errors.New("owner_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailNext; err != nil {
		s.FailNext = nil
		return nil, err
	}

	matches := s.filterLocked(func(e *domain.CallQueueEntry) bool {
		return e.OwnerID == ownerID && e.Status == domain.EntryStatusPending
	})
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.entry.CreatedAt.Equal(b.entry.CreatedAt) {
			return a.entry.CreatedAt.Before(b.entry.CreatedAt)
		}
		return a.seq < b.seq
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return toEntries(matches), nil
}

func (s *CallQueueStore) BeginAttempt(ctx context.Context, ownerID string, id uuid.UUID, at time.Time) error {
	return s.mutate(ownerID, id, func(e *domain.CallQueueEntry) {
		e.Status = domain.EntryStatusProcessing
		e.Attempts++
		t := at
		e.LastAttemptAt = &t
	})
}

func (s *CallQueueStore) CompleteAttempt(ctx context.Context, ownerID string, id uuid.UUID, providerCallID string) error {
	return s.mutate(ownerID, id, func(e *domain.CallQueueEntry) {
		e.Status = domain.EntryStatusCompleted
		e.ProviderCallID = providerCallID
		e.ErrorMessage = ""
		e.ErrorKind = domain.ErrorKindNone
	})
}

func (s *CallQueueStore) FailAttempt(ctx context.Context, ownerID string, id uuid.UUID, message string, kind domain.ErrorKind) error {
	return s.mutate(ownerID, id, func(e *domain.CallQueueEntry) {
		e.Status = domain.EntryStatusFailed
		e.ErrorMessage = message
		e.ErrorKind = kind
	})
}

func (s *CallQueueStore) Get(ctx context.Context, ownerID string, id uuid.UUID) (*domain.CallQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.entries[id]
	if !ok || stored.entry.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	e := cloneEntry(stored.entry)
	return &e, nil
}

func (s *CallQueueStore) List(ctx context.Context, filter repository.ListFilter) ([]domain.CallQueueEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	matches := s.filterLocked(func(e *domain.CallQueueEntry) bool {
		if e.OwnerID != filter.OwnerID {
			return false
		}
		if filter.Status != "" && e.Status != filter.Status {
			return false
		}
		if search != "" && !strings.Contains(strings.ToLower(e.Name), search) && !strings.Contains(strings.ToLower(e.Phone), search) {
			return false
		}
		return true
	})
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.entry.CreatedAt.Equal(b.entry.CreatedAt) {
			return a.entry.CreatedAt.After(b.entry.CreatedAt)
		}
		return a.seq > b.seq
	})

	total := int64(len(matches))
	start := filter.Offset
	if start > len(matches) {
		start = len(matches)
	}
	end := len(matches)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return toEntries(matches[start:end]), total, nil
}

func (s *CallQueueStore) CountByStatus(ctx context.Context, ownerID string) (domain.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts domain.StatusCounts
	for _, stored := range s.entries {
		if stored.entry.OwnerID == ownerID {
			counts.Add(stored.entry.Status, 1)
		}
	}
	return counts, nil
}

func (s *CallQueueStore) ExistingPhones(ctx context.Context, ownerID string, phones []string) ([]string, error) {
	want := make(map[string]struct{}, len(phones))
	for _, p := range phones {
		want[p] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var found []string
	for _, stored := range s.entries {
		if stored.entry.OwnerID != ownerID {
			continue
		}
		d := phone.Digits(stored.entry.Phone)
		if _, ok := want[d]; !ok {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		found = append(found, d)
	}
	sort.Strings(found)
	return found, nil
}

func (s *CallQueueStore) OwnersWithPending(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldest := make(map[string]*storedEntry)
	for _, stored := range s.entries {
		if stored.entry.Status != domain.EntryStatusPending {
			continue
		}
		cur, ok := oldest[stored.entry.OwnerID]
		if !ok || stored.seq < cur.seq {
			oldest[stored.entry.OwnerID] = stored
		}
	}
	owners := make([]string, 0, len(oldest))
	for owner := range oldest {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool {
		return oldest[owners[i]].seq < oldest[owners[j]].seq
	})
	if limit > 0 && len(owners) > limit {
		owners = owners[:limit]
	}
	return owners, nil
}

func (s *CallQueueStore) ResetFailed(ctx context.Context, ownerID string, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var selected map[uuid.UUID]struct{}
	if ids != nil {
		selected = make(map[uuid.UUID]struct{}, len(ids))
		for _, id := range ids {
			selected[id] = struct{}{}
		}
	}

	var n int64
	for id, stored := range s.entries {
		e := &stored.entry
		if e.OwnerID != ownerID || e.Status != domain.EntryStatusFailed {
			continue
		}
		if selected != nil {
			if _, ok := selected[id]; !ok {
				continue
			}
		}
		e.Status = domain.EntryStatusPending
		e.ErrorMessage = ""
		e.ErrorKind = domain.ErrorKindNone
		e.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}

func (s *CallQueueStore) SaveInteraction(ctx context.Context, ownerID string, id uuid.UUID, interaction domain.Interaction) error {
	return s.mutate(ownerID, id, func(e *domain.CallQueueEntry) {
		snapshot := interaction
		e.Interaction = &snapshot
	})
}

func (s *CallQueueStore) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.entries[id]
	if !ok || stored.entry.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

func (s *CallQueueStore) mutate(ownerID string, id uuid.UUID, fn func(*domain.CallQueueEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.entries[id]
	if !ok || stored.entry.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	fn(&stored.entry)
	stored.entry.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *CallQueueStore) filterLocked(keep func(*domain.CallQueueEntry) bool) []*storedEntry {
	out := make([]*storedEntry, 0)
	for _, stored := range s.entries {
		if keep(&stored.entry) {
			out = append(out, stored)
		}
	}
	return out
}

func toEntries(stored []*storedEntry) []domain.CallQueueEntry {
	out := make([]domain.CallQueueEntry, 0, len(stored))
	for _, s := range stored {
		out = append(out, cloneEntry(s.entry))
	}
	return out
}

func cloneEntry(e domain.CallQueueEntry) domain.CallQueueEntry {
	if e.LastAttemptAt != nil {
		t := *e.LastAttemptAt
		e.LastAttemptAt = &t
	}
	if e.Interaction != nil {
		snapshot := *e.Interaction
		e.Interaction = &snapshot
	}
	return e
}
