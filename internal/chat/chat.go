// Package chat is the message log and the posting pipeline in front of it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/agentchat/internal/identity"
	"github.com/mbd888/agentchat/internal/metrics"
	"github.com/mbd888/agentchat/internal/moderation"
	"github.com/mbd888/agentchat/internal/ratelimit"
	"github.com/mbd888/agentchat/internal/traces"
	"github.com/mbd888/agentchat/internal/validation"
)

// Query bounds for GET /api/messages
const (
	DefaultListLimit = 100
	MaxListLimit     = 500
	MaxAfterResults  = 200
)

var (
	ErrEmptyContent = errors.New("content required (string, max 2000 chars)")
	ErrTooLong      = errors.New("content too long (max 2000 chars)")
	ErrInjection    = errors.New("message rejected: contains prompt injection patterns")
	ErrRateLimited  = errors.New("rate limited")
)

// BannedError carries the ban reason to the caller.
type BannedError struct {
	Reason string
}

func (e *BannedError) Error() string { return "you are banned: " + e.Reason }

// Message is one chat room entry. IDs are assigned by the store and
// strictly increase, which is what makes after-cursor polling work.
type Message struct {
	ID          int64     `json:"id"`
	Sender      string    `json:"sender"`
	Content     string    `json:"content"`
	IsAgent     bool      `json:"is_agent"`
	IsModerator bool      `json:"is_mod"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists the message log.
type Store interface {
	// Append stores the message and fills in ID and CreatedAt.
	Append(ctx context.Context, msg *Message) error
	// Recent returns up to limit newest messages in chronological order.
	Recent(ctx context.Context, limit int) ([]*Message, error)
	// After returns messages with ID > after, ascending, capped at
	// MaxAfterResults.
	After(ctx context.Context, after int64) ([]*Message, error)
	Count(ctx context.Context) (int, error)
}

// Broadcaster fans a posted message out to live subscribers.
// Satisfied by the realtime hub.
type Broadcaster interface {
	BroadcastMessage(msg *Message)
}

// Service runs the posting pipeline: content checks, injection filter,
// ban check, per-key rate limit, append, broadcast.
type Service struct {
	store   Store
	filter  *moderation.Policy
	mod     *moderation.Service
	limiter *ratelimit.Limiter
	hub     Broadcaster

	// publishMu orders the append→broadcast pair. The store assigns ids
	// and the hub preserves enqueue order, so holding the lock across
	// both keeps live delivery in id order under concurrent posts.
	publishMu sync.Mutex
}

// NewService wires the posting pipeline. limiter is the per-key message
// limiter; hub may be nil in tests.
func NewService(store Store, filter *moderation.Policy, mod *moderation.Service, limiter *ratelimit.Limiter, hub Broadcaster) *Service {
	return &Service{store: store, filter: filter, mod: mod, limiter: limiter, hub: hub}
}

// Store exposes the underlying message store.
func (s *Service) Store() Store { return s.store }

// Post validates and stores a message from acct, then broadcasts it.
// Checks run cheapest-first; the rate limit is only charged for messages
// that pass content and ban checks, so a banned caller cannot burn their
// window on rejected posts.
func (s *Service) Post(ctx context.Context, acct *identity.Account, content string) (*Message, error) {
	ctx, span := traces.StartSpan(ctx, "chat.Post",
		traces.Sender(acct.Name), traces.Tier(acct.Tier))
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" {
		metrics.MessagesRejectedTotal.WithLabelValues("empty").Inc()
		return nil, ErrEmptyContent
	}
	if len(content) > validation.MaxContentLength {
		metrics.MessagesRejectedTotal.WithLabelValues("too_long").Inc()
		return nil, ErrTooLong
	}
	if s.filter.Match(content) {
		metrics.MessagesRejectedTotal.WithLabelValues("injection").Inc()
		return nil, ErrInjection
	}

	ban, err := s.mod.IsBanned(ctx, acct.Name, acct.Key)
	if err != nil {
		return nil, fmt.Errorf("ban check: %w", err)
	}
	if ban != nil {
		metrics.MessagesRejectedTotal.WithLabelValues("banned").Inc()
		return nil, &BannedError{Reason: ban.Reason}
	}

	if !s.limiter.Allow(acct.Key) {
		metrics.MessagesRejectedTotal.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	msg := &Message{
		Sender:      acct.Name,
		Content:     content,
		IsAgent:     acct.IsAgent(),
		IsModerator: acct.IsModerator,
	}
	s.publishMu.Lock()
	err = s.store.Append(ctx, msg)
	if err == nil && s.hub != nil {
		s.hub.BroadcastMessage(msg)
	}
	s.publishMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues(acct.Tier).Inc()
	return msg, nil
}

// List serves the read API. after takes precedence over limit.
func (s *Service) List(ctx context.Context, limit int, after int64) ([]*Message, error) {
	if after > 0 {
		return s.store.After(ctx, after)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.store.Recent(ctx, limit)
}
