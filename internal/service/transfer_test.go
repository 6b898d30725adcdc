package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerstream/coinledger/internal/domain"
)

func TestTransferMovesFunds(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.Mint(ctx, "alice", 100, domain.KindMint, "grant", nil)
	require.NoError(t, err)

	result, err := svc.Transfer(ctx, "alice", "bob", 30, domain.KindTransfer, "thanks", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(70), result.FromBalance)
	assert.Equal(t, int64(30), result.ToBalance)

	require.NotNil(t, result.Block)
	assert.Equal(t, domain.KindTransfer, result.Block.Payload.Type)
	assert.Equal(t, "alice", result.Block.Payload.From)
	assert.Equal(t, "bob", result.Block.Payload.To)
	assert.Equal(t, int64(30), result.Block.Payload.Amount)
	require.NotNil(t, result.Block.Balances.From)
	require.NotNil(t, result.Block.Balances.To)
	assert.Equal(t, int64(70), *result.Block.Balances.From)
	assert.Equal(t, int64(30), *result.Block.Balances.To)

	aliceBal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(70), aliceBal)
	bobBal, err := svc.Balance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(30), bobBal)

	// Both sides of the transfer are journaled with signed amounts.
	aliceHist, err := svc.History(ctx, "alice", 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, aliceHist)
	assert.Equal(t, int64(-30), aliceHist[0].Amount)
	assert.Equal(t, int64(70), aliceHist[0].BalanceAfter)

	bobHist, err := svc.History(ctx, "bob", 10, 0)
	require.NoError(t, err)
	require.Len(t, bobHist, 1)
	assert.Equal(t, int64(30), bobHist[0].Amount)
	assert.Equal(t, int64(30), bobHist[0].BalanceAfter)
}

func TestTransferValidation(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.Mint(ctx, "alice", 100, domain.KindMint, "", nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		from    string
		to      string
		amount  int64
		kind    domain.TxKind
		wantErr error
	}{
		{"zero amount", "alice", "bob", 0, domain.KindTransfer, domain.ErrInvalidAmount},
		{"negative amount", "alice", "bob", -5, domain.KindTransfer, domain.ErrInvalidAmount},
		{"self transfer", "alice", "alice", 10, domain.KindTransfer, domain.ErrSelfTransferNotAllowed},
		{"mint kind rejected", "alice", "bob", 10, domain.KindMint, domain.ErrInvalidKind},
		{"unknown sender", "ghost", "bob", 10, domain.KindTransfer, domain.ErrAccountNotFound},
		{"insufficient balance", "alice", "bob", 101, domain.KindTransfer, domain.ErrInsufficientBalance},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Transfer(ctx, tc.from, tc.to, tc.amount, tc.kind, "", nil)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestFailedTransferLeavesNoTrace(t *testing.T) {
	svc, st, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.Mint(ctx, "alice", 50, domain.KindMint, "", nil)
	require.NoError(t, err)
	heightBefore, err := st.BlockCount(ctx)
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, "alice", "bob", 80, domain.KindTransfer, "", nil)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	heightAfter, err := st.BlockCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, heightBefore, heightAfter)

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal)
	bobBal, err := svc.Balance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bobBal)

	hist, err := svc.History(ctx, "bob", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestConcurrentOverdraw(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.Mint(ctx, "alice", 100, domain.KindMint, "", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Transfer(ctx, "alice", "bob", 60, domain.KindTransfer, "", nil)
		}(i)
	}
	wg.Wait()

	// Exactly one of the two 60-coin transfers can fit in a 100 balance.
	var failed int
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, domain.ErrInsufficientBalance)
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	aliceBal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(40), aliceBal)
	bobBal, err := svc.Balance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(60), bobBal)
}

func TestConcurrentTransfersConserveTotal(t *testing.T) {
	svc, st, _ := newTestService(t, Config{})
	ctx := context.Background()

	const accounts = 8
	const perAccount = 1000
	for i := 0; i < accounts; i++ {
		_, err := svc.Mint(ctx, fmt.Sprintf("user-%d", i), perAccount, domain.KindMint, "", nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 50; i++ {
				from := fmt.Sprintf("user-%d", rng.Intn(accounts))
				to := fmt.Sprintf("user-%d", rng.Intn(accounts))
				if from == to {
					continue
				}
				_, err := svc.Transfer(ctx, from, to, int64(rng.Intn(20)+1), domain.KindTransfer, "", nil)
				if err != nil && !errors.Is(err, domain.ErrInsufficientBalance) {
					t.Errorf("unexpected transfer error: %v", err)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	balances, err := st.AllBalances(ctx)
	require.NoError(t, err)
	var total int64
	for account, bal := range balances {
		assert.GreaterOrEqual(t, bal, int64(0), "account %s went negative", account)
		total += bal
	}
	assert.Equal(t, int64(accounts*perAccount), total)

	// The journal must agree with every balance after the dust settles.
	sums, err := st.JournalNetSums(ctx)
	require.NoError(t, err)
	for account, bal := range balances {
		assert.Equal(t, bal, sums[account], "journal drift for %s", account)
	}
}

func TestBurnValidation(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.Mint(ctx, "alice", 100, domain.KindMint, "", nil)
	require.NoError(t, err)

	_, err = svc.Burn(ctx, "alice", 200, domain.KindBurn, "", nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = svc.Burn(ctx, "ghost", 10, domain.KindBurn, "", nil)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	result, err := svc.Burn(ctx, "alice", 40, domain.KindBurn, "sink", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(60), result.FromBalance)
	assert.Equal(t, domain.KindBurn, result.Block.Payload.Type)
	assert.Empty(t, result.Block.Payload.To)
}

func TestAdminAdjust(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.Mint(ctx, "alice", 100, domain.KindMint, "", nil)
	require.NoError(t, err)

	up, err := svc.AdminAdjust(ctx, "admin-1", "alice", 50, "contest prize")
	require.NoError(t, err)
	assert.Equal(t, int64(150), up.ToBalance)
	assert.Equal(t, domain.KindAdminAdjust, up.Block.Payload.Type)
	assert.Equal(t, "admin-1", up.Block.Payload.From)
	assert.Equal(t, "alice", up.Block.Payload.To)
	assert.Equal(t, int64(50), up.Block.Payload.Amount)

	down, err := svc.AdminAdjust(ctx, "admin-1", "alice", -30, "chargeback")
	require.NoError(t, err)
	assert.Equal(t, int64(120), down.ToBalance)
	// Payload amounts are magnitudes; direction lives in the journal.
	assert.Equal(t, int64(30), down.Block.Payload.Amount)

	hist, err := svc.History(ctx, "alice", 1, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, int64(-30), hist[0].Amount)

	_, err = svc.AdminAdjust(ctx, "admin-1", "alice", -500, "oops")
	assert.ErrorIs(t, err, domain.ErrNegativeBalanceAdjustment)

	_, err = svc.AdminAdjust(ctx, "admin-1", "alice", 0, "noop")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

type failingProcessor struct{}

func (failingProcessor) Charge(ctx context.Context, user string, amount int64, method, token string) error {
	return errors.New("card declined")
}

func TestPurchase(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	result, err := svc.Purchase(ctx, "alice", 500, "stripe", "tok_visa")
	require.NoError(t, err)
	assert.Equal(t, int64(500), result.ToBalance)
	assert.Equal(t, domain.KindPurchase, result.Block.Payload.Type)
	assert.Equal(t, "Purchase via stripe", result.Block.Payload.Memo)
}

func TestPurchaseFailedChargeMintsNothing(t *testing.T) {
	svc, st, _ := newTestService(t, Config{})
	svc.payments = failingProcessor{}
	ctx := context.Background()

	_, err := svc.Purchase(ctx, "alice", 500, "stripe", "tok_visa")
	require.ErrorIs(t, err, domain.ErrPaymentFailed)

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)
	height, err := st.BlockCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), height)
}

func TestObserverNotifiedAfterCommit(t *testing.T) {
	svc, st, _ := newTestService(t, Config{})
	ctx := context.Background()

	var seen []*domain.LedgerBlock
	svc.Subscribe(ObserverFunc(func(block *domain.LedgerBlock) {
		// The block must already be readable when the observer fires.
		height, err := st.BlockCount(ctx)
		require.NoError(t, err)
		require.Greater(t, height, block.BlockNumber)
		seen = append(seen, block)
	}))

	_, err := svc.Mint(ctx, "alice", 100, domain.KindMint, "", nil)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, domain.KindMint, seen[0].Payload.Type)

	// A failed operation must not notify.
	_, err = svc.Transfer(ctx, "alice", "bob", 500, domain.KindTransfer, "", nil)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Len(t, seen, 1)
}
