package casestore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Repository.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	records map[string]*Record
	events  map[string][]*Event
	mu      sync.RWMutex
	closed  bool
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory repository
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		events:  make(map[string][]*Event),
		now:     time.Now,
	}
}

var _ Repository = (*MemoryStore)(nil)

// Close closes the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// FindPendingByIdentity returns the pending record for key
func (s *MemoryStore) FindPendingByIdentity(ctx context.Context, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	if rec := s.pendingLocked(key); rec != nil {
		return rec.Clone(), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) pendingLocked(key string) *Record {
	for _, rec := range s.records {
		if rec.IdentityKey == key && rec.Status == StatusPending {
			return rec
		}
	}
	return nil
}

// UpdateStatus moves a pending record to a terminal status
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status, note string) error {
	if err := checkUpdate(id, status); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return persistenceError("update status", err)
	}

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusPending {
		return ErrConflict
	}

	now := s.now()
	s.events[id] = append(s.events[id], newEvent(ctx, id, rec.Status, status, note, now))
	rec.Status = status
	rec.OutcomeNote = note
	rec.UpdatedAt = now
	return nil
}

// ListAll returns all records ordered by creation time
func (s *MemoryStore) ListAll(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		result = append(result, rec.Clone())
	}
	sortByCreation(result)
	return result, nil
}

// Get retrieves a record by ID
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Create inserts a new record
func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	prepared, err := prepareNew(rec, s.now())
	if err != nil {
		return err
	}
	if _, ok := s.records[prepared.ID]; ok {
		return ErrAlreadyExists
	}
	if prepared.Status == StatusPending && s.pendingLocked(prepared.IdentityKey) != nil {
		return ErrAlreadyExists
	}

	s.records[prepared.ID] = prepared.Clone()
	rec.adopt(prepared)
	return nil
}

// Count returns the number of records
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return int64(len(s.records)), nil
}

// History returns the audit trail of a record
func (s *MemoryStore) History(ctx context.Context, id string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if _, ok := s.records[id]; !ok {
		return nil, ErrNotFound
	}

	result := make([]*Event, 0, len(s.events[id]))
	for _, ev := range s.events[id] {
		cp := *ev
		result = append(result, &cp)
	}
	return result, nil
}

// sortByCreation 按创建时间排序，时间相同时按 ID 保证稳定
func sortByCreation(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
