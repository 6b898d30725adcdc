package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerstream/coinledger/internal/domain"
)

func fundedService(t *testing.T, user string, balance int64) (*Service, context.Context) {
	t.Helper()
	svc, _, _ := newTestService(t, Config{MinWithdrawal: 100})
	ctx := context.Background()
	_, err := svc.Mint(ctx, user, balance, domain.KindMint, "grant", nil)
	require.NoError(t, err)
	return svc, ctx
}

func TestRequestWithdrawalHoldsFunds(t *testing.T) {
	svc, ctx := fundedService(t, "alice", 500)

	heightBefore, err := svc.ledger.Height(ctx)
	require.NoError(t, err)

	req, err := svc.RequestWithdrawal(ctx, "alice", 200, domain.MethodPayPal,
		map[string]string{"email": "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalPending, req.Status)
	assert.Equal(t, int64(200), req.Amount)
	assert.NotEqual(t, uuid.Nil, req.ID)

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(300), bal)

	// Holds live in the journal only; the chain records terminal outcomes.
	heightAfter, err := svc.ledger.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, heightBefore, heightAfter)

	hist, err := svc.History(ctx, "alice", 1, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.KindSpend, hist[0].Kind)
	assert.Equal(t, int64(-200), hist[0].Amount)
	assert.Equal(t, int64(300), hist[0].BalanceAfter)
	assert.Equal(t, req.ID.String(), hist[0].Reference)
}

func TestRequestWithdrawalValidation(t *testing.T) {
	svc, ctx := fundedService(t, "alice", 500)

	_, err := svc.RequestWithdrawal(ctx, "alice", 50, domain.MethodPayPal, nil)
	assert.ErrorIs(t, err, domain.ErrBelowMinimumWithdrawal)

	_, err = svc.RequestWithdrawal(ctx, "alice", 200, "venmo", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidWithdrawalMethod)

	_, err = svc.RequestWithdrawal(ctx, "alice", 600, domain.MethodPayPal, nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = svc.RequestWithdrawal(ctx, "ghost", 200, domain.MethodPayPal, nil)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = svc.RequestWithdrawal(ctx, "alice", 200, domain.MethodPayPal, nil)
	require.NoError(t, err)
	_, err = svc.RequestWithdrawal(ctx, "alice", 100, domain.MethodPayPal, nil)
	assert.ErrorIs(t, err, domain.ErrPendingWithdrawalExists)

	// A failed request holds nothing.
	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(300), bal)
}

func TestApproveWithdrawalSettlesHold(t *testing.T) {
	svc, ctx := fundedService(t, "alice", 500)

	req, err := svc.RequestWithdrawal(ctx, "alice", 200, domain.MethodStripe, nil)
	require.NoError(t, err)

	approved, err := svc.ApproveWithdrawal(ctx, req.ID, "admin-1", "payout batch 7")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalApproved, approved.Status)
	assert.Equal(t, "admin-1", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)
	assert.Equal(t, "payout batch 7", approved.Notes)

	// Funds left at request time; approval changes nothing.
	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(300), bal)

	head, err := svc.ledger.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.KindBurn, head.Payload.Type)
	assert.Equal(t, "alice", head.Payload.From)
	assert.Equal(t, int64(200), head.Payload.Amount)
	require.NotNil(t, head.Payload.Reference)
	assert.Equal(t, "withdrawal", head.Payload.Reference.EntityType)
	assert.Equal(t, req.ID.String(), head.Payload.Reference.EntityID)
}

func TestRejectWithdrawalRefundsHold(t *testing.T) {
	svc, ctx := fundedService(t, "alice", 500)

	req, err := svc.RequestWithdrawal(ctx, "alice", 200, domain.MethodWise, nil)
	require.NoError(t, err)

	rejected, err := svc.RejectWithdrawal(ctx, req.ID, "admin-1", "account unverified")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalRejected, rejected.Status)
	assert.Equal(t, "admin-1", rejected.RejectedBy)
	require.NotNil(t, rejected.RejectedAt)
	assert.Equal(t, "account unverified", rejected.RejectionReason)

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)

	head, err := svc.ledger.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.KindRefund, head.Payload.Type)
	assert.Equal(t, "alice", head.Payload.To)
	assert.Equal(t, int64(200), head.Payload.Amount)
	assert.Contains(t, head.Payload.Memo, "account unverified")

	hist, err := svc.History(ctx, "alice", 1, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.KindRefund, hist[0].Kind)
	assert.Equal(t, int64(200), hist[0].Amount)
}

func TestCancelWithdrawal(t *testing.T) {
	svc, ctx := fundedService(t, "alice", 500)

	req, err := svc.RequestWithdrawal(ctx, "alice", 200, domain.MethodCrypto, nil)
	require.NoError(t, err)

	_, err = svc.CancelWithdrawal(ctx, req.ID, "mallory")
	assert.ErrorIs(t, err, domain.ErrNotRequestOwner)

	cancelled, err := svc.CancelWithdrawal(ctx, req.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)
}

func TestWithdrawalTerminalStatesAreFinal(t *testing.T) {
	svc, ctx := fundedService(t, "alice", 1000)

	req, err := svc.RequestWithdrawal(ctx, "alice", 200, domain.MethodPayPal, nil)
	require.NoError(t, err)
	_, err = svc.ApproveWithdrawal(ctx, req.ID, "admin-1", "")
	require.NoError(t, err)

	_, err = svc.ApproveWithdrawal(ctx, req.ID, "admin-1", "")
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	_, err = svc.RejectWithdrawal(ctx, req.ID, "admin-1", "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	_, err = svc.CancelWithdrawal(ctx, req.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

	// A failed transition on a settled request must not move funds.
	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(800), bal)

	_, err = svc.ApproveWithdrawal(ctx, uuid.New(), "admin-1", "")
	assert.ErrorIs(t, err, domain.ErrWithdrawalNotFound)
}

func TestWithdrawalListing(t *testing.T) {
	svc, _, _ := newTestService(t, Config{MinWithdrawal: 100})
	ctx := context.Background()

	users := []string{"alice", "bob", "carol"}
	var ids []uuid.UUID
	for _, u := range users {
		_, err := svc.Mint(ctx, u, 1000, domain.KindMint, "", nil)
		require.NoError(t, err)
		req, err := svc.RequestWithdrawal(ctx, u, 150, domain.MethodPayPal, nil)
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}

	count, err := svc.PendingWithdrawalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	_, err = svc.RejectWithdrawal(ctx, ids[1], "admin-1", "bad details")
	require.NoError(t, err)

	pending, err := svc.Withdrawals(ctx, domain.WithdrawalPending, 10, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	all, err := svc.Withdrawals(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	bobs, err := svc.WithdrawalsForUser(ctx, "bob", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, domain.WithdrawalRejected, bobs[0].Status)

	got, err := svc.Withdrawal(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "alice", got.User)
}
