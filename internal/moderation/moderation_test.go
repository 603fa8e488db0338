package moderation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentchat/internal/identity"
)

func newTestService(t *testing.T) (*Service, *identity.Manager) {
	t.Helper()
	accounts := identity.NewMemoryStore()
	return NewService(NewMemoryStore(), accounts), identity.NewManager(accounts)
}

func TestBanDeactivatesAccount(t *testing.T) {
	svc, mgr := newTestService(t)
	ctx := context.Background()

	acct, err := mgr.RegisterAgent(ctx, "troll")
	require.NoError(t, err)

	ban, err := svc.Ban(ctx, "Raziel", "troll", "spamming")
	require.NoError(t, err)
	assert.Equal(t, "troll", ban.Name)
	assert.Equal(t, acct.Key, ban.Key)
	assert.Equal(t, "spamming", ban.Reason)
	assert.Equal(t, "Raziel", ban.IssuedBy)

	// the key no longer authenticates
	got, err := mgr.Authenticate(ctx, acct.Key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBanUnregisteredName(t *testing.T) {
	svc, _ := newTestService(t)

	ban, err := svc.Ban(context.Background(), "Raziel", "ghost", "")
	require.NoError(t, err)
	assert.Empty(t, ban.Key)
	assert.Equal(t, "Banned by moderator", ban.Reason)
}

func TestBanRefusesProtectedTargets(t *testing.T) {
	svc, mgr := newTestService(t)
	ctx := context.Background()

	require.NoError(t, mgr.Store().Upsert(ctx, &identity.Account{
		Key: "aci_admin_x", Name: "Raziel", Tier: identity.TierHuman, IsModerator: true, Active: true,
	}))

	_, err := svc.Ban(ctx, "admin", "raziel", "test")
	assert.ErrorIs(t, err, ErrTargetProtected)
}

func TestIsBannedMatchesNameCaseInsensitive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ban(ctx, "Raziel", "Troll", "spam")
	require.NoError(t, err)

	ban, err := svc.IsBanned(ctx, "tRoLL", "")
	require.NoError(t, err)
	require.NotNil(t, ban)
	assert.Equal(t, "spam", ban.Reason)

	ban, err = svc.IsBanned(ctx, "someone-else", "")
	require.NoError(t, err)
	assert.Nil(t, ban)
}

func TestIsBannedMatchesKey(t *testing.T) {
	svc, mgr := newTestService(t)
	ctx := context.Background()

	acct, err := mgr.RegisterAgent(ctx, "troll")
	require.NoError(t, err)
	_, err = svc.Ban(ctx, "Raziel", "troll", "spam")
	require.NoError(t, err)

	// banned key under a different name is still caught
	ban, err := svc.IsBanned(ctx, "innocent-looking", acct.Key)
	require.NoError(t, err)
	assert.NotNil(t, ban)
}

func TestUnban(t *testing.T) {
	svc, mgr := newTestService(t)
	ctx := context.Background()

	acct, err := mgr.RegisterAgent(ctx, "troll")
	require.NoError(t, err)
	_, err = svc.Ban(ctx, "Raziel", "troll", "spam")
	require.NoError(t, err)

	require.NoError(t, svc.Unban(ctx, "TROLL"))

	ban, err := svc.IsBanned(ctx, "troll", "")
	require.NoError(t, err)
	assert.Nil(t, ban)

	// the old key stays dead; a fresh registration is required
	got, err := mgr.Authenticate(ctx, acct.Key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := svc.Ban(ctx, "Raziel", name+"-troll", "spam")
		require.NoError(t, err)
	}

	bans, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, bans, 3)
}
