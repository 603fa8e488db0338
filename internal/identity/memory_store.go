package identity

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore implements Store with in-memory maps. Used when no
// DATABASE_URL is configured and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byKey  map[string]*Account
	byName map[string]*Account // lowercased name
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey:  make(map[string]*Account),
		byName: make(map[string]*Account),
	}
}

func (s *MemoryStore) Create(ctx context.Context, acct *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lower := strings.ToLower(acct.Name)
	if _, ok := s.byName[lower]; ok {
		return ErrNameTaken
	}
	cp := *acct
	s.byKey[acct.Key] = &cp
	s.byName[lower] = &cp
	return nil
}

func (s *MemoryStore) GetByKey(ctx context.Context, key string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.byKey[key]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (s *MemoryStore) GetByName(ctx context.Context, name string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (s *MemoryStore) Deactivate(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return ErrAccountNotFound
	}
	acct.Active = false
	return nil
}

func (s *MemoryStore) Upsert(ctx context.Context, acct *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byKey[acct.Key]; ok {
		delete(s.byName, strings.ToLower(old.Name))
	}
	cp := *acct
	s.byKey[acct.Key] = &cp
	s.byName[strings.ToLower(acct.Name)] = &cp
	return nil
}
