package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/powerstream/coinledger/internal/domain"
	"github.com/powerstream/coinledger/internal/store"
)

// TransferResult reports a completed transfer: the committed block and both
// post-transaction balances.
type TransferResult struct {
	Block       *domain.LedgerBlock `json:"block"`
	FromBalance int64               `json:"from_balance"`
	ToBalance   int64               `json:"to_balance"`
}

// MintResult reports a credit-only operation.
type MintResult struct {
	Block     *domain.LedgerBlock `json:"block"`
	ToBalance int64               `json:"to_balance"`
}

// BurnResult reports a debit-only operation.
type BurnResult struct {
	Block       *domain.LedgerBlock `json:"block"`
	FromBalance int64               `json:"from_balance"`
}

func validTransferKind(k domain.TxKind) bool {
	return k == domain.KindTransfer || k == domain.KindTip
}

func validMintKind(k domain.TxKind) bool {
	switch k {
	case domain.KindMint, domain.KindEarn, domain.KindPurchase, domain.KindRefund, domain.KindAdminAdjust:
		return true
	}
	return false
}

func validBurnKind(k domain.TxKind) bool {
	return k == domain.KindBurn || k == domain.KindSpend
}

// Transfer moves amount from one user to another as a single unit: debit,
// credit and one ledger block commit together or not at all.
func (s *Service) Transfer(ctx context.Context, from, to string, amount int64, kind domain.TxKind, memo string, ref *domain.Reference) (*TransferResult, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if from == to {
		return nil, domain.ErrSelfTransferNotAllowed
	}
	if from == "" || to == "" {
		return nil, domain.ErrAccountNotFound
	}
	if kind == "" {
		kind = domain.KindTransfer
	}
	if !validTransferKind(kind) {
		return nil, domain.ErrInvalidKind
	}

	var result TransferResult
	err := s.runAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		fromBal, toBal, err := lockPair(ctx, tx, from, to)
		if err != nil {
			return err
		}
		if fromBal < amount {
			return domain.ErrInsufficientBalance
		}
		newFrom := fromBal - amount
		newTo := toBal + amount
		if err := tx.SetBalance(ctx, from, newFrom); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, to, newTo); err != nil {
			return err
		}

		now := s.now()
		if err := tx.AppendJournal(ctx, &domain.CoinTransaction{
			User: from, Kind: kind, Amount: -amount, BalanceAfter: newFrom,
			Description: journalDesc(memo, "Sent to "+to), CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.AppendJournal(ctx, &domain.CoinTransaction{
			User: to, Kind: kind, Amount: amount, BalanceAfter: newTo,
			Description: journalDesc(memo, "Received from "+from), CreatedAt: now,
		}); err != nil {
			return err
		}

		block, err := s.ledger.Append(ctx, tx,
			domain.Payload{Type: kind, From: from, To: to, Amount: amount, Memo: memo, Reference: ref},
			domain.BalanceSnapshot{From: &newFrom, To: &newTo})
		if err != nil {
			return err
		}
		result = TransferResult{Block: block, FromBalance: newFrom, ToBalance: newTo}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(result.Block)
	s.logger.Info("coins transferred",
		zap.String("from", from), zap.String("to", to),
		zap.Int64("amount", amount), zap.String("kind", string(kind)))
	return &result, nil
}

// Mint credits coins out of nothing: faucet earns, purchases, refunds.
func (s *Service) Mint(ctx context.Context, to string, amount int64, kind domain.TxKind, memo string, ref *domain.Reference) (*MintResult, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if to == "" {
		return nil, domain.ErrAccountNotFound
	}
	if kind == "" {
		kind = domain.KindMint
	}
	if !validMintKind(kind) {
		return nil, domain.ErrInvalidKind
	}

	var result MintResult
	err := s.runAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		block, newBal, err := s.mintInTx(ctx, tx, to, amount, kind, memo, ref)
		if err != nil {
			return err
		}
		result = MintResult{Block: block, ToBalance: newBal}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(result.Block)
	s.logger.Info("coins minted",
		zap.String("to", to), zap.Int64("amount", amount), zap.String("kind", string(kind)))
	return &result, nil
}

// mintInTx is the credit-only primitive shared by Mint, faucet claims and
// withdrawal refunds. It must run inside a unit.
func (s *Service) mintInTx(ctx context.Context, tx store.Tx, to string, amount int64, kind domain.TxKind, memo string, ref *domain.Reference) (*domain.LedgerBlock, int64, error) {
	bal, err := tx.EnsureAccount(ctx, to)
	if err != nil {
		return nil, 0, err
	}
	newBal := bal + amount
	if err := tx.SetBalance(ctx, to, newBal); err != nil {
		return nil, 0, err
	}
	if err := tx.AppendJournal(ctx, &domain.CoinTransaction{
		User: to, Kind: kind, Amount: amount, BalanceAfter: newBal,
		Reference: refID(ref), Description: journalDesc(memo, ""), CreatedAt: s.now(),
	}); err != nil {
		return nil, 0, err
	}
	block, err := s.ledger.Append(ctx, tx,
		domain.Payload{Type: kind, To: to, Amount: amount, Memo: memo, Reference: ref},
		domain.BalanceSnapshot{To: &newBal})
	if err != nil {
		return nil, 0, err
	}
	return block, newBal, nil
}

// Burn removes coins from circulation: withdrawal settlement, sinks.
func (s *Service) Burn(ctx context.Context, from string, amount int64, kind domain.TxKind, memo string, ref *domain.Reference) (*BurnResult, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if from == "" {
		return nil, domain.ErrAccountNotFound
	}
	if kind == "" {
		kind = domain.KindBurn
	}
	if !validBurnKind(kind) {
		return nil, domain.ErrInvalidKind
	}

	var result BurnResult
	err := s.runAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		bal, err := tx.Balance(ctx, from)
		if err != nil {
			return err
		}
		if bal < amount {
			return domain.ErrInsufficientBalance
		}
		newBal := bal - amount
		if err := tx.SetBalance(ctx, from, newBal); err != nil {
			return err
		}
		if err := tx.AppendJournal(ctx, &domain.CoinTransaction{
			User: from, Kind: kind, Amount: -amount, BalanceAfter: newBal,
			Reference: refID(ref), Description: journalDesc(memo, ""), CreatedAt: s.now(),
		}); err != nil {
			return err
		}
		block, err := s.ledger.Append(ctx, tx,
			domain.Payload{Type: kind, From: from, Amount: amount, Memo: memo, Reference: ref},
			domain.BalanceSnapshot{From: &newBal})
		if err != nil {
			return err
		}
		result = BurnResult{Block: block, FromBalance: newBal}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(result.Block)
	s.logger.Info("coins burned",
		zap.String("from", from), zap.Int64("amount", amount), zap.String("kind", string(kind)))
	return &result, nil
}

// AdminAdjust applies a signed balance correction to a user. The acting
// admin is attributed in payload.from for audit although no funds move from
// the admin's own balance.
func (s *Service) AdminAdjust(ctx context.Context, adminID, userID string, delta int64, reason string) (*MintResult, error) {
	if delta == 0 {
		return nil, domain.ErrInvalidAmount
	}
	if adminID == "" || userID == "" {
		return nil, domain.ErrAccountNotFound
	}

	var result MintResult
	err := s.runAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		bal, err := tx.EnsureAccount(ctx, userID)
		if err != nil {
			return err
		}
		newBal := bal + delta
		if newBal < 0 {
			return domain.ErrNegativeBalanceAdjustment
		}
		if err := tx.SetBalance(ctx, userID, newBal); err != nil {
			return err
		}
		if err := tx.AppendJournal(ctx, &domain.CoinTransaction{
			User: userID, Kind: domain.KindAdminAdjust, Amount: delta, BalanceAfter: newBal,
			Description: "Admin adjustment: " + reason, CreatedAt: s.now(),
		}); err != nil {
			return err
		}
		amount := delta
		if amount < 0 {
			amount = -amount
		}
		block, err := s.ledger.Append(ctx, tx,
			domain.Payload{Type: domain.KindAdminAdjust, From: adminID, To: userID, Amount: amount, Memo: reason},
			domain.BalanceSnapshot{To: &newBal})
		if err != nil {
			return err
		}
		result = MintResult{Block: block, ToBalance: newBal}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(result.Block)
	s.logger.Info("admin balance adjustment",
		zap.String("admin", adminID), zap.String("user", userID),
		zap.Int64("delta", delta), zap.String("reason", reason))
	return &result, nil
}

// Purchase buys coins with real money. The payment processor is an opaque
// external call that either succeeds or fails; coins are minted only after
// it succeeds.
func (s *Service) Purchase(ctx context.Context, user string, amount int64, method, paymentToken string) (*MintResult, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if user == "" {
		return nil, domain.ErrAccountNotFound
	}
	if err := s.payments.Charge(ctx, user, amount, method, paymentToken); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentFailed, err)
	}
	return s.Mint(ctx, user, amount, domain.KindPurchase, "Purchase via "+method, nil)
}

// lockPair reads both balances in deterministic account-ID order so that two
// crossing transfers cannot deadlock. The debit side must exist; the credit
// side is created on first use.
func lockPair(ctx context.Context, tx store.Tx, from, to string) (fromBal, toBal int64, err error) {
	if from < to {
		if fromBal, err = tx.Balance(ctx, from); err != nil {
			return 0, 0, err
		}
		toBal, err = tx.EnsureAccount(ctx, to)
		return fromBal, toBal, err
	}
	if toBal, err = tx.EnsureAccount(ctx, to); err != nil {
		return 0, 0, err
	}
	fromBal, err = tx.Balance(ctx, from)
	return fromBal, toBal, err
}

func journalDesc(memo, fallback string) string {
	if memo != "" {
		return memo
	}
	return fallback
}

func refID(ref *domain.Reference) string {
	if ref == nil {
		return ""
	}
	return ref.EntityID
}
