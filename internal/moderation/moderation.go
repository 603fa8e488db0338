// Package moderation handles bans and the prompt-injection filter.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/agentchat/internal/identity"
	"github.com/mbd888/agentchat/internal/logging"
	"github.com/mbd888/agentchat/internal/metrics"
)

var (
	ErrTargetProtected = errors.New("cannot ban mods or admin")
	ErrBanNotFound     = errors.New("ban not found")
)

// Ban records a banned participant. Key may be empty when the banned
// name never registered (bans can be issued pre-emptively).
type Ban struct {
	Name      string    `json:"name"`
	Key       string    `json:"-"`
	Reason    string    `json:"reason"`
	IssuedBy  string    `json:"banned_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists bans. Name matching is case-insensitive throughout.
type Store interface {
	Insert(ctx context.Context, ban *Ban) error
	Remove(ctx context.Context, name string) error
	FindByNameOrKey(ctx context.Context, name, key string) (*Ban, error)
	List(ctx context.Context) ([]*Ban, error)
}

// Service applies moderation decisions.
type Service struct {
	store    Store
	accounts identity.Store
}

// NewService creates a moderation service over a ban store and the
// account store it deactivates keys in.
func NewService(store Store, accounts identity.Store) *Service {
	return &Service{store: store, accounts: accounts}
}

// Ban bans a name and deactivates its account if one exists. Moderators
// and the admin account cannot be banned. The target does not need to be
// registered; unregistered names are banned by name alone.
func (s *Service) Ban(ctx context.Context, issuedBy, name, reason string) (*Ban, error) {
	if reason == "" {
		reason = "Banned by moderator"
	}

	ban := &Ban{Name: name, Reason: reason, IssuedBy: issuedBy, CreatedAt: time.Now().UTC()}

	target, err := s.accounts.GetByName(ctx, name)
	if err != nil && !errors.Is(err, identity.ErrAccountNotFound) {
		return nil, fmt.Errorf("lookup ban target: %w", err)
	}
	if target != nil {
		if target.IsModerator || target.Name == "admin" {
			return nil, ErrTargetProtected
		}
		ban.Key = target.Key
	}

	if err := s.store.Insert(ctx, ban); err != nil {
		return nil, fmt.Errorf("insert ban: %w", err)
	}

	if target != nil {
		if err := s.accounts.Deactivate(ctx, target.Name); err != nil {
			logging.L(ctx).Warn("failed to deactivate banned account", "name", name, "error", err)
		}
	}

	metrics.BansTotal.Inc()
	logging.L(ctx).Info("account banned", "name", name, "by", issuedBy, "reason", reason)
	return ban, nil
}

// Unban lifts the ban on a name. The account is not reactivated; a
// previously banned participant registers a fresh key.
func (s *Service) Unban(ctx context.Context, name string) error {
	return s.store.Remove(ctx, name)
}

// IsBanned reports whether the name or key is currently banned.
func (s *Service) IsBanned(ctx context.Context, name, key string) (*Ban, error) {
	ban, err := s.store.FindByNameOrKey(ctx, name, key)
	if err != nil {
		if errors.Is(err, ErrBanNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return ban, nil
}

// List returns all active bans, most recent first.
func (s *Service) List(ctx context.Context) ([]*Ban, error) {
	return s.store.List(ctx)
}
