package moderation

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu     sync.RWMutex
	byName map[string]*Ban // lowercased name
}

// NewMemoryStore creates an empty in-memory ban store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byName: make(map[string]*Ban)}
}

func (s *MemoryStore) Insert(ctx context.Context, ban *Ban) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ban
	s.byName[strings.ToLower(ban.Name)] = &cp
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byName, strings.ToLower(name))
	return nil
}

func (s *MemoryStore) FindByNameOrKey(ctx context.Context, name, key string) (*Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ban, ok := s.byName[strings.ToLower(name)]; ok {
		cp := *ban
		return &cp, nil
	}
	if key != "" {
		for _, ban := range s.byName {
			if ban.Key == key {
				cp := *ban
				return &cp, nil
			}
		}
	}
	return nil, ErrBanNotFound
}

func (s *MemoryStore) List(ctx context.Context) ([]*Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bans := make([]*Ban, 0, len(s.byName))
	for _, ban := range s.byName {
		cp := *ban
		bans = append(bans, &cp)
	}
	sort.Slice(bans, func(i, j int) bool {
		return bans[i].CreatedAt.After(bans[j].CreatedAt)
	})
	return bans, nil
}
