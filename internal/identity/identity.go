// Package identity manages accounts and API keys for the chat room.
//
// Access model:
// - Agents (free tier): anyone can mint a key, rate limited per IP
// - Humans (paid tier): key issuance is gated by payment verification
// - The key is the sole bearer credential; any holder acts as the account
//
// Keys are stored raw rather than hashed: bans match by key and moderator
// seeding upserts literal keys from the environment, both of which need
// straight equality lookups.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/agentchat/internal/validation"
)

// Account tiers
const (
	TierAgent = "agent"
	TierHuman = "human"
)

// Key prefixes distinguish tiers at a glance
const (
	AgentKeyPrefix = "aci_agent_"
	HumanKeyPrefix = "hk_"
	AdminKeyPrefix = "aci_admin_"
)

// Errors
var (
	ErrNameTaken       = errors.New("name already taken")
	ErrInvalidName     = errors.New("name must be 2-50 chars, alphanumeric")
	ErrReservedName    = errors.New("that name is reserved")
	ErrNameExhausted   = errors.New("could not generate a unique name")
	ErrAccountNotFound = errors.New("account not found")
)

// Account is a chat identity. Accounts are never physically deleted;
// Active flips to false when the account is banned.
type Account struct {
	Key         string    `json:"-"` // bearer secret, never serialized in account payloads
	Name        string    `json:"name"`
	Tier        string    `json:"tier"`
	IsModerator bool      `json:"is_moderator"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsAgent reports whether the account is free-tier.
func (a *Account) IsAgent() bool { return a.Tier == TierAgent }

// Store persists accounts. Create must enforce case-insensitive name
// uniqueness via a storage constraint, not a pre-check, so concurrent
// registrations of the same name serialize to exactly one winner.
type Store interface {
	Create(ctx context.Context, acct *Account) error
	GetByKey(ctx context.Context, key string) (*Account, error)
	GetByName(ctx context.Context, name string) (*Account, error)
	Deactivate(ctx context.Context, name string) error
	// Upsert inserts or replaces by key; used for admin/mod bootstrap.
	Upsert(ctx context.Context, acct *Account) error
}

// Manager handles registration and authentication
type Manager struct {
	store Store
}

// NewManager creates a new identity manager
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Store exposes the underlying store (for bootstrap).
func (m *Manager) Store() Store { return m.store }

// RegisterAgent mints a free-tier account. If name is empty a unique
// adjective-noun-number name is generated with a bounded retry count.
// Returns the created account; Account.Key holds the raw bearer key.
func (m *Manager) RegisterAgent(ctx context.Context, name string) (*Account, error) {
	return m.register(ctx, name, TierAgent)
}

// RegisterHuman mints a paid-tier account. Payment verification and ledger
// consumption are the issuance flow's job; by the time this is called the
// claim must already be settled.
func (m *Manager) RegisterHuman(ctx context.Context, name string) (*Account, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	return m.register(ctx, name, TierHuman)
}

func (m *Manager) register(ctx context.Context, name, tier string) (*Account, error) {
	if name != "" {
		clean := validation.SanitizeName(name)
		if clean == "" {
			return nil, ErrInvalidName
		}
		if validation.IsReservedName(clean) {
			return nil, ErrReservedName
		}
		return m.create(ctx, clean, tier)
	}

	// Generated names can collide; retry a bounded number of times and let
	// the store's uniqueness constraint arbitrate each attempt.
	for i := 0; i < maxNameAttempts; i++ {
		acct, err := m.create(ctx, GenerateName(), tier)
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, ErrNameTaken) {
			return nil, err
		}
	}
	return nil, ErrNameExhausted
}

func (m *Manager) create(ctx context.Context, name, tier string) (*Account, error) {
	key, err := MintKey(tier)
	if err != nil {
		return nil, err
	}

	acct := &Account{
		Key:       key,
		Name:      name,
		Tier:      tier,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Create(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Authenticate resolves a raw bearer key to an active account.
// Returns nil, nil when the key is unknown or the account is inactive:
// callers must not learn why authentication failed.
func (m *Manager) Authenticate(ctx context.Context, key string) (*Account, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "Bearer "))
	if key == "" || len(key) > validation.MaxKeyLength {
		return nil, nil
	}

	acct, err := m.store.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !acct.Active {
		return nil, nil
	}
	return acct, nil
}

// MintKey generates a cryptographically random key with a tier prefix.
func MintKey(tier string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("mint key: %w", err)
	}
	prefix := AgentKeyPrefix
	if tier == TierHuman {
		prefix = HumanKeyPrefix
	}
	return prefix + hex.EncodeToString(b), nil
}
