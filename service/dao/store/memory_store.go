package store

import (
	"context"
	"sort"
	"sync"

	"github.com/viant/ktask/service/dao"
)

// MemoryStore is a generic in-memory implementation of dao.Service keyed by
// the value returned from keySelector.
type MemoryStore[K comparable, T any] struct {
	mu          sync.RWMutex
	records     map[K]*T
	keySelector func(*T) K
	filter      func(*T, []*dao.Parameter) bool
	less        func(a, b K) bool
}

// Option configures a MemoryStore.
type Option[K comparable, T any] func(*MemoryStore[K, T])

// WithFilter sets the predicate List applies to every record.
func WithFilter[K comparable, T any](filter func(*T, []*dao.Parameter) bool) Option[K, T] {
	return func(s *MemoryStore[K, T]) {
		s.filter = filter
	}
}

// WithOrder makes List return records sorted by key.
func WithOrder[K comparable, T any](less func(a, b K) bool) Option[K, T] {
	return func(s *MemoryStore[K, T]) {
		s.less = less
	}
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore[K comparable, T any](keySelector func(*T) K, options ...Option[K, T]) *MemoryStore[K, T] {
	ret := &MemoryStore[K, T]{
		records:     make(map[K]*T),
		keySelector: keySelector,
	}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}

// Save stores or overwrites a record.
func (s *MemoryStore[K, T]) Save(_ context.Context, v *T) error {
	if v == nil {
		return dao.ErrNilEntity
	}
	key := s.keySelector(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = v
	return nil
}

// Insert stores a record whose key must not be present yet.
func (s *MemoryStore[K, T]) Insert(_ context.Context, v *T) error {
	if v == nil {
		return dao.ErrNilEntity
	}
	key := s.keySelector(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return dao.ErrDuplicate
	}
	s.records[key] = v
	return nil
}

// Load returns a record by key.
func (s *MemoryStore[K, T]) Load(_ context.Context, key K) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[key]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return v, nil
}

// Delete removes a record.
func (s *MemoryStore[K, T]) Delete(_ context.Context, key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return dao.ErrNotFound
	}
	delete(s.records, key)
	return nil
}

// List returns the stored records passing the filter.
func (s *MemoryStore[K, T]) List(_ context.Context, parameters ...*dao.Parameter) ([]*T, error) {
	s.mu.RLock()
	keys := make([]K, 0, len(s.records))
	for k, v := range s.records {
		if s.filter != nil && !s.filter(v, parameters) {
			continue
		}
		keys = append(keys, k)
	}
	if s.less != nil {
		sort.Slice(keys, func(i, j int) bool { return s.less(keys[i], keys[j]) })
	}
	out := make([]*T, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.records[k])
	}
	s.mu.RUnlock()
	return out, nil
}

// Len returns the number of records.
func (s *MemoryStore[K, T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
