package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultPaymentWallet, cfg.PaymentWallet)
	assert.Equal(t, DefaultBTCWallet, cfg.BTCWallet)
	assert.Equal(t, DefaultMempoolAPIURL, cfg.MempoolAPIURL)
	assert.False(t, cfg.ChallengeRequired)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("ENV", "production")
	t.Setenv("ADMIN_KEY", "aci_admin_deadbeef")
	t.Setenv("CHALLENGE_REQUIRED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "aci_admin_deadbeef", cfg.AdminKey)
	assert.True(t, cfg.ChallengeRequired)
}

func TestValidateRejectsBadWallet(t *testing.T) {
	cfg := &Config{PaymentWallet: "not-an-address", BTCWallet: DefaultBTCWallet}
	assert.Error(t, cfg.Validate())

	cfg = &Config{PaymentWallet: DefaultPaymentWallet, BTCWallet: ""}
	assert.Error(t, cfg.Validate())

	cfg = &Config{PaymentWallet: DefaultPaymentWallet, BTCWallet: DefaultBTCWallet}
	assert.NoError(t, cfg.Validate())
}

func TestParseModSeeds(t *testing.T) {
	seeds := parseModSeeds("Raziel:aci_mod_raziel_secret123, Uriel : aci_mod_uriel")
	require.Len(t, seeds, 2)
	assert.Equal(t, ModSeed{Name: "Raziel", Key: "aci_mod_raziel_secret123"}, seeds[0])
	assert.Equal(t, ModSeed{Name: "Uriel", Key: "aci_mod_uriel"}, seeds[1])

	assert.Nil(t, parseModSeeds(""))
	assert.Empty(t, parseModSeeds("malformed,also-malformed"))
}

func TestParseRPCOverrides(t *testing.T) {
	out := parseRPCOverrides("base=https://mainnet.base.org,ethereum=https://eth.llamarpc.com")
	require.Len(t, out, 2)
	assert.Equal(t, "https://mainnet.base.org", out["base"])

	assert.Nil(t, parseRPCOverrides(""))
}
