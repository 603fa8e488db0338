package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentchat/internal/testutil"
)

func TestPostgresStore_ConsumeOnce(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	rec := &Record{TxRef: "0xpgtest1", Method: "usdc_base", Amount: "1.5 USDC", Verified: true}
	require.NoError(t, store.Consume(ctx, rec))
	assert.False(t, rec.CreatedAt.IsZero(), "Consume should fill CreatedAt")

	// Second consume of the same tx_ref loses at the primary key
	dup := &Record{TxRef: "0xpgtest1", Method: "usdc_base", Amount: "1.5 USDC", Verified: true}
	assert.ErrorIs(t, store.Consume(ctx, dup), ErrTxConsumed)
}

func TestPostgresStore_ReleaseMakesReclaimable(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	rec := &Record{TxRef: "0xpgrelease", Method: "btc", Amount: "0.00050000 BTC", Verified: true}
	require.NoError(t, store.Consume(ctx, rec))
	require.NoError(t, store.Release(ctx, "0xpgrelease"))

	again := &Record{TxRef: "0xpgrelease", Method: "btc", Amount: "0.00050000 BTC", Verified: true}
	assert.NoError(t, store.Consume(ctx, again))
}

func TestPostgresStore_AttachKeyAndCount(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	verified := &Record{TxRef: "0xpgcount1", Method: "usdc_base", Amount: "2 USDC", Verified: true}
	require.NoError(t, store.Consume(ctx, verified))
	pending := &Record{TxRef: "0xpgcount2", Method: "lightning", Amount: "1500 sats", Verified: false}
	require.NoError(t, store.Consume(ctx, pending))

	require.NoError(t, store.AttachKey(ctx, "0xpgcount1", "hk_pgbuyer"))
	assert.ErrorIs(t, store.AttachKey(ctx, "0xmissing", "hk_x"), ErrRecordNotFound)

	got, err := store.Get(ctx, "0xpgcount1")
	require.NoError(t, err)
	assert.Equal(t, "hk_pgbuyer", got.Key)

	n, err := store.CountVerified(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "pending lightning payments are not counted")
}
