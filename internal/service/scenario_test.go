package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerstream/coinledger/internal/domain"
)

// TestCoinLifecycle drives one full day of the coin economy and checks that
// the chain, the journal and the balances all agree at the end.
func TestCoinLifecycle(t *testing.T) {
	svc, st, _ := newTestService(t, Config{FaucetAmount: 100, MinWithdrawal: 50})
	ctx := context.Background()

	// A earns 100 from the faucet. The genesis block is created on the way.
	claim, err := svc.ClaimFaucet(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), claim.Block.BlockNumber)
	assert.Equal(t, int64(100), claim.NewBalance)

	// A tips B 30.
	tip, err := svc.Transfer(ctx, "user-a", "user-b", 30, domain.KindTip, "great stream", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tip.Block.BlockNumber)
	assert.Equal(t, int64(70), tip.FromBalance)
	assert.Equal(t, int64(30), tip.ToBalance)

	// A requests a 50 withdrawal: funds held, no block yet.
	req, err := svc.RequestWithdrawal(ctx, "user-a", 50, domain.MethodPayPal, nil)
	require.NoError(t, err)
	balA, err := svc.Balance(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, int64(20), balA)
	height, err := st.BlockCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), height)

	// An admin rejects it: the hold returns as block 3.
	_, err = svc.RejectWithdrawal(ctx, req.ID, "admin-1", "payout details missing")
	require.NoError(t, err)
	balA, err = svc.Balance(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, int64(70), balA)

	head, err := svc.ledger.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), head.BlockNumber)
	assert.Equal(t, domain.KindRefund, head.Payload.Type)

	// The whole chain verifies: genesis, earn, tip, refund.
	res, err := svc.ledger.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, int64(4), res.BlockCount)

	// Balances, journal and chain agree.
	balances, err := st.AllBalances(ctx)
	require.NoError(t, err)
	sums, err := st.JournalNetSums(ctx)
	require.NoError(t, err)
	for account, bal := range balances {
		assert.Equal(t, bal, sums[account], "journal drift for %s", account)
	}
	assert.Equal(t, int64(70), balances["user-a"])
	assert.Equal(t, int64(30), balances["user-b"])
}
