// Package store persists trusted signing keys.
package store

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"hcert/internal/trustkeys/models"
	"hcert/pkg/platform/sentinel"
)

// InMemoryStore keeps trusted keys in a map keyed by kid.
type InMemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*models.TrustedKey
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{keys: make(map[string]*models.TrustedKey)}
}

func (s *InMemoryStore) Get(_ context.Context, kid []byte) (*models.TrustedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[string(kid)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *key
	return &cp, nil
}

// List returns all keys ordered by kid.
func (s *InMemoryStore) List(_ context.Context) ([]*models.TrustedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.TrustedKey, 0, len(s.keys))
	for _, key := range s.keys {
		cp := *key
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].KeyID, out[j].KeyID) < 0 })
	return out, nil
}

// Save upserts keys by kid.
func (s *InMemoryStore) Save(_ context.Context, keys ...*models.TrustedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		cp := *key
		s.keys[string(key.KeyID)] = &cp
	}
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, kid []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[string(kid)]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.keys, string(kid))
	return nil
}
