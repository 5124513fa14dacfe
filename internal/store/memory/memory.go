// Package memory provides an in-process registry store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/MrSnakeDoc/realmlink/internal/domain"
)

// Store keeps records in a map guarded by a RWMutex.
// Create is atomic with respect to other calls on the same Store.
type Store struct {
	mu      sync.RWMutex
	records map[string]*domain.Record // realm|uuid -> record
	thisKey string
}

// New creates an empty memory store.
func New() *Store {
	return &Store{
		records: make(map[string]*domain.Record),
	}
}

func key(r *domain.Record) string {
	return r.RealmUUID + "|" + r.UUID
}

// Create inserts r unless its (uuid, realm) pair or a second "this" exists.
func (s *Store) Create(_ context.Context, r *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(r)
	if _, exists := s.records[k]; exists {
		return domain.ErrTaken
	}
	if isRootThis(r) {
		if s.thisKey != "" {
			return domain.ErrTaken
		}
		s.thisKey = k
	}
	s.records[k] = r.Clone()
	return nil
}

// Save overwrites an existing record.
func (s *Store) Save(_ context.Context, r *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(r)
	if _, exists := s.records[k]; !exists {
		return domain.ErrNotFound
	}
	s.records[k] = r.Clone()
	return nil
}

// Delete removes a record.
func (s *Store) Delete(_ context.Context, r *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(r)
	if _, exists := s.records[k]; !exists {
		return domain.ErrNotFound
	}
	delete(s.records, k)
	if s.thisKey == k {
		s.thisKey = ""
	}
	return nil
}

// Find returns copies of all records matching q, ordered by realm and uuid.
func (s *Store) Find(_ context.Context, q domain.Query) ([]*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.records))
	for k, r := range s.records {
		if q.Matches(r) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]*domain.Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.records[k].Clone())
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.records)), nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func isRootThis(r *domain.Record) bool {
	return r.IsThis && r.RealmUUID == ""
}
