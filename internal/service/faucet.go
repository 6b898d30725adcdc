package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/powerstream/coinledger/internal/domain"
	"github.com/powerstream/coinledger/internal/store"
)

const faucetMemo = "daily-faucet"

// FaucetClaim is the outcome of a successful daily claim.
type FaucetClaim struct {
	Amount      int64
	NewBalance  int64
	NextClaimAt time.Time
	Block       *domain.LedgerBlock
}

// ClaimFaucet mints the daily faucet amount to the user. A user may claim
// once per calendar day in the server's local time zone; the claim check and
// the mint happen in the same atomic unit, so two racing claims for the same
// user yield exactly one earn block.
func (s *Service) ClaimFaucet(ctx context.Context, user string) (*FaucetClaim, error) {
	if user == "" {
		return nil, domain.ErrAccountNotFound
	}

	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	nextClaim := midnight.AddDate(0, 0, 1)

	var claim *FaucetClaim
	err := s.runAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		claimed, err := tx.FaucetClaimedSince(ctx, user, midnight, faucetMemo)
		if err != nil {
			return err
		}
		if claimed {
			return &domain.AlreadyClaimedError{NextClaimAt: nextClaim}
		}
		block, newBal, err := s.mintInTx(ctx, tx, user, s.cfg.FaucetAmount, domain.KindEarn, faucetMemo, nil)
		if err != nil {
			return err
		}
		claim = &FaucetClaim{
			Amount:      s.cfg.FaucetAmount,
			NewBalance:  newBal,
			NextClaimAt: nextClaim,
			Block:       block,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(claim.Block)
	s.logger.Info("faucet claimed",
		zap.String("user", user), zap.Int64("amount", claim.Amount),
		zap.Int64("balance", claim.NewBalance))
	return claim, nil
}
