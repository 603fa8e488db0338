package payment

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with an in-memory map.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Consume(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.TxRef]; ok {
		return ErrTxConsumed
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	s.records[rec.TxRef] = &cp
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, txRef)
	return nil
}

func (s *MemoryStore) AttachKey(ctx context.Context, txRef, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[txRef]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Key = key
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, txRef string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[txRef]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) CountVerified(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.records {
		if rec.Verified {
			n++
		}
	}
	return n, nil
}
