// Package memory is an in-process license store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"licensed/internal/license"
)

// Store keeps licenses in a map guarded by a mutex. Every method copies
// rows in and out, so callers never share memory with the store.
type Store struct {
	mu       sync.RWMutex
	licenses map[string]*license.License
}

// New creates an empty Store
func New() *Store {
	return &Store{licenses: make(map[string]*license.License)}
}

func (s *Store) FindByKey(ctx context.Context, key string) (*license.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	lic, ok := s.licenses[key]
	if !ok {
		return nil, license.ErrNotFound
	}
	return lic.Clone(), nil
}

func (s *Store) FindAllByOwner(ctx context.Context, owner string) ([]*license.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*license.License
	for _, lic := range s.licenses {
		if lic.Owner == owner {
			out = append(out, lic.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) InsertIfAbsent(ctx context.Context, l *license.License) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.licenses[l.Key]; ok {
		return license.ErrConflict
	}
	s.licenses[l.Key] = l.Clone()
	return nil
}

func (s *Store) UpdateConditional(ctx context.Context, key string, m license.Mutation, pred license.Predicate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, ok := s.licenses[key]
	if !ok {
		return license.ErrNotFound
	}
	if !pred.Holds(lic) {
		return license.ErrConditionFailed
	}
	m.Apply(lic)
	return nil
}

func (s *Store) UpdateUnconditional(ctx context.Context, key string, m license.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, ok := s.licenses[key]
	if !ok {
		return license.ErrNotFound
	}
	m.Apply(lic)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored licenses.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.licenses)
}

var _ license.Store = (*Store)(nil)
