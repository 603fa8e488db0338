package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/agentchat/internal/identity"
)

// bootstrap seeds the admin and moderator accounts. The admin key comes
// from ADMIN_KEY (registered once, first boot); without one a fresh key
// is generated and only hinted at in the log. MOD_KEYS seeds are
// upserted on every boot so moderators survive a database reset.
func (s *Server) bootstrap(ctx context.Context) error {
	store := s.identity.Store()

	adminKey := s.cfg.AdminKey
	if adminKey == "" {
		generated, err := identity.MintKey(identity.TierAgent)
		if err != nil {
			return fmt.Errorf("generate admin key: %w", err)
		}
		adminKey = identity.AdminKeyPrefix + generated[len(identity.AgentKeyPrefix):]
	}

	if _, err := store.GetByKey(ctx, adminKey); err != nil {
		if !errors.Is(err, identity.ErrAccountNotFound) {
			return fmt.Errorf("check admin account: %w", err)
		}
		if _, nameErr := store.GetByName(ctx, "admin"); nameErr == nil {
			// An admin account from a previous boot with a different key.
			// Don't clobber it with a newly generated one.
			s.logger.Info("admin account already present")
		} else {
			acct := &identity.Account{
				Key:         adminKey,
				Name:        "admin",
				Tier:        identity.TierAgent,
				IsModerator: true,
				Active:      true,
				CreatedAt:   time.Now().UTC(),
			}
			if err := store.Upsert(ctx, acct); err != nil {
				return fmt.Errorf("seed admin account: %w", err)
			}
			if s.cfg.AdminKey != "" {
				s.logger.Info("admin key registered from env var")
			} else {
				s.logger.Info("admin key generated, set ADMIN_KEY env var for persistence")
			}
		}
	}

	for _, seed := range s.cfg.ModSeeds {
		acct := &identity.Account{
			Key:         seed.Key,
			Name:        seed.Name,
			Tier:        identity.TierHuman,
			IsModerator: true,
			Active:      true,
			CreatedAt:   time.Now().UTC(),
		}
		if err := store.Upsert(ctx, acct); err != nil {
			return fmt.Errorf("seed moderator %s: %w", seed.Name, err)
		}
		s.logger.Info("mod account seeded", "name", seed.Name)
	}

	return nil
}
