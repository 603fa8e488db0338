package chat

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []*Message
	nextID   int64
}

// NewMemoryStore creates an empty in-memory message log
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) Append(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = s.nextID
	s.nextID++
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.messages) - limit
	if start < 0 {
		start = 0
	}
	return copyMessages(s.messages[start:]), nil
}

func (s *MemoryStore) After(ctx context.Context, after int64) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Message
	for _, msg := range s.messages {
		if msg.ID > after {
			out = append(out, msg)
			if len(out) == MaxAfterResults {
				break
			}
		}
	}
	return copyMessages(out), nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages), nil
}

func copyMessages(in []*Message) []*Message {
	out := make([]*Message, len(in))
	for i, msg := range in {
		cp := *msg
		out[i] = &cp
	}
	return out
}
