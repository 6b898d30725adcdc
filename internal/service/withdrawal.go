package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/powerstream/coinledger/internal/domain"
	"github.com/powerstream/coinledger/internal/store"
)

// The withdrawal workflow is a small state machine over held funds:
//
//	pending -> approved   (burn block settles the hold)
//	pending -> rejected   (refund block returns the hold)
//	pending -> cancelled  (refund block returns the hold)
//
// The hold itself debits the balance at request time and is recorded in the
// journal; the chain only sees the terminal outcome.

// RequestWithdrawal places a hold: the amount is debited immediately and the
// request enters pending. One pending request per user.
func (s *Service) RequestWithdrawal(ctx context.Context, user string, amount int64, method domain.WithdrawalMethod, details map[string]string) (*domain.WithdrawalRequest, error) {
	if user == "" {
		return nil, domain.ErrAccountNotFound
	}
	if amount < s.cfg.MinWithdrawal {
		return nil, domain.ErrBelowMinimumWithdrawal
	}
	if !method.Valid() {
		return nil, domain.ErrInvalidWithdrawalMethod
	}

	var req *domain.WithdrawalRequest
	err := s.runAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		pending, err := tx.HasPendingWithdrawal(ctx, user)
		if err != nil {
			return err
		}
		if pending {
			return domain.ErrPendingWithdrawalExists
		}

		bal, err := tx.Balance(ctx, user)
		if err != nil {
			return err
		}
		if bal < amount {
			return domain.ErrInsufficientBalance
		}
		newBal := bal - amount
		if err := tx.SetBalance(ctx, user, newBal); err != nil {
			return err
		}

		req = &domain.WithdrawalRequest{
			ID:             uuid.New(),
			User:           user,
			Amount:         amount,
			Method:         method,
			PaymentDetails: details,
			Status:         domain.WithdrawalPending,
			RequestedAt:    s.now(),
		}
		if err := tx.InsertWithdrawal(ctx, req); err != nil {
			return err
		}
		return tx.AppendJournal(ctx, &domain.CoinTransaction{
			User: user, Kind: domain.KindSpend, Amount: -amount, BalanceAfter: newBal,
			Reference:   req.ID.String(),
			Description: "Withdrawal request - " + string(method),
			CreatedAt:   req.RequestedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal requested",
		zap.String("request_id", req.ID.String()), zap.String("user", user),
		zap.Int64("amount", amount), zap.String("method", string(method)))
	return req, nil
}

// ApproveWithdrawal settles a pending hold: the funds were already removed
// at request time, so no balance changes; a burn block finalizes them.
func (s *Service) ApproveWithdrawal(ctx context.Context, id uuid.UUID, adminID, notes string) (*domain.WithdrawalRequest, error) {
	var (
		req   *domain.WithdrawalRequest
		block *domain.LedgerBlock
	)
	err := s.runAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		req, err = tx.WithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != domain.WithdrawalPending {
			return domain.ErrInvalidStatusTransition
		}

		now := s.now()
		req.Status = domain.WithdrawalApproved
		req.ApprovedBy = adminID
		req.ApprovedAt = &now
		req.Notes = notes
		if err := tx.UpdateWithdrawal(ctx, req); err != nil {
			return err
		}

		bal, err := tx.Balance(ctx, req.User)
		if err != nil {
			return err
		}
		block, err = s.ledger.Append(ctx, tx,
			domain.Payload{
				Type: domain.KindBurn, From: req.User, Amount: req.Amount,
				Memo:      "Withdrawal approved via " + string(req.Method),
				Reference: &domain.Reference{EntityType: "withdrawal", EntityID: req.ID.String()},
			},
			domain.BalanceSnapshot{From: &bal})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(block)
	s.logger.Info("withdrawal approved",
		zap.String("request_id", id.String()), zap.String("admin", adminID))
	return req, nil
}

// RejectWithdrawal returns the hold to the user and appends a refund block.
func (s *Service) RejectWithdrawal(ctx context.Context, id uuid.UUID, adminID, reason string) (*domain.WithdrawalRequest, error) {
	return s.releaseHold(ctx, id, func(req *domain.WithdrawalRequest) error {
		now := s.now()
		req.Status = domain.WithdrawalRejected
		req.RejectedBy = adminID
		req.RejectedAt = &now
		req.RejectionReason = reason
		return nil
	}, "Withdrawal rejected: ")
}

// CancelWithdrawal is the user-initiated variant of reject: only the
// requesting user may cancel their own pending request.
func (s *Service) CancelWithdrawal(ctx context.Context, id uuid.UUID, userID string) (*domain.WithdrawalRequest, error) {
	return s.releaseHold(ctx, id, func(req *domain.WithdrawalRequest) error {
		if req.User != userID {
			return domain.ErrNotRequestOwner
		}
		now := s.now()
		req.Status = domain.WithdrawalCancelled
		req.CancelledAt = &now
		return nil
	}, "Withdrawal cancelled - refund")
}

// releaseHold is the shared reject/cancel path: transition the request,
// credit the held amount back and append one refund block, all in one unit.
func (s *Service) releaseHold(ctx context.Context, id uuid.UUID, transition func(*domain.WithdrawalRequest) error, memoPrefix string) (*domain.WithdrawalRequest, error) {
	var (
		req   *domain.WithdrawalRequest
		block *domain.LedgerBlock
	)
	err := s.runAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		req, err = tx.WithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != domain.WithdrawalPending {
			return domain.ErrInvalidStatusTransition
		}
		if err := transition(req); err != nil {
			return err
		}
		if err := tx.UpdateWithdrawal(ctx, req); err != nil {
			return err
		}

		memo := memoPrefix
		if req.Status == domain.WithdrawalRejected {
			memo += req.RejectionReason
		}
		block, _, err = s.mintInTx(ctx, tx, req.User, req.Amount, domain.KindRefund, memo,
			&domain.Reference{EntityType: "withdrawal", EntityID: req.ID.String()})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(block)
	s.logger.Info("withdrawal hold released",
		zap.String("request_id", id.String()), zap.String("status", string(req.Status)))
	return req, nil
}

// Withdrawal returns one request by id.
func (s *Service) Withdrawal(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	return s.store.Withdrawal(ctx, id)
}

// WithdrawalsForUser lists a user's requests, newest first.
func (s *Service) WithdrawalsForUser(ctx context.Context, user string, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.WithdrawalsForUser(ctx, user, status, limit, offset)
}

// Withdrawals lists requests across all users for admin review.
func (s *Service) Withdrawals(ctx context.Context, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.Withdrawals(ctx, status, limit, offset)
}

// PendingWithdrawalCount supports the admin review queue badge.
func (s *Service) PendingWithdrawalCount(ctx context.Context) (int64, error) {
	return s.store.PendingWithdrawalCount(ctx)
}
