// Package memory provides a map-backed implementation of
// [storage.StatusStore]. It is used for tests and single-process
// deployments that do not need durability across restarts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lingorelay/lingorelay/pkg/storage"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]*storage.StatusRecord
	clock   func() time.Time
}

var _ storage.StatusStore = (*Store)(nil)

type Opt func(*Store)

// WithClock overrides the time source. Used by tests.
func WithClock(clock func() time.Time) Opt {
	return func(s *Store) {
		s.clock = clock
	}
}

func New(opts ...Opt) *Store {
	s := &Store{
		records: map[string]*storage.StatusRecord{},
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Create(ctx context.Context, rec *storage.StatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return storage.ErrCollision
	}

	cp := *rec
	now := s.clock().UTC()
	if cp.Status == "" {
		cp.Status = storage.StatusPending
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.records[rec.ID] = &cp
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*storage.StatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, from, to storage.Status, translatedText, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	if rec.Status != from {
		return storage.ErrStaleTransition
	}

	rec.Status = to
	rec.UpdatedAt = s.clock().UTC()
	if translatedText != "" {
		rec.TranslatedText = translatedText
	}
	if errorMessage != "" {
		rec.ErrorMessage = errorMessage
	}
	return nil
}

func (s *Store) ListBySubmitter(ctx context.Context, submitterID string, limit, offset int) ([]*storage.StatusRecord, error) {
	s.mu.RLock()
	var matches []*storage.StatusRecord
	for _, rec := range s.records {
		if rec.SubmitterID == submitterID {
			cp := *rec
			matches = append(matches, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	if offset >= len(matches) {
		return nil, nil
	}
	matches = matches[offset:]
	if limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats storage.Stats
	for _, rec := range s.records {
		stats.Total++
		switch rec.Status {
		case storage.StatusCompleted:
			stats.Completed++
		case storage.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *Store) Close() {}
