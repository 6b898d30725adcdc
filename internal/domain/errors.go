package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned across the store/service boundary. Callers branch
// with errors.Is; none of them signals a partial write, every failed
// operation leaves the stores untouched.
var (
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrSelfTransferNotAllowed    = errors.New("self-transfer not allowed")
	ErrInvalidAmount             = errors.New("amount must be positive")
	ErrInvalidKind               = errors.New("invalid transaction kind")
	ErrAccountNotFound           = errors.New("account not found")
	ErrInvalidStatusTransition   = errors.New("invalid withdrawal status transition")
	ErrNegativeBalanceAdjustment = errors.New("adjustment would result in negative balance")
	ErrWithdrawalNotFound        = errors.New("withdrawal request not found")
	ErrPendingWithdrawalExists   = errors.New("another withdrawal request is pending")
	ErrBelowMinimumWithdrawal    = errors.New("amount below minimum withdrawal")
	ErrInvalidWithdrawalMethod   = errors.New("invalid withdrawal method")
	ErrNotRequestOwner           = errors.New("request belongs to another user")
	ErrConcurrentModification    = errors.New("concurrent modification, retry")
	ErrChainHalted               = errors.New("ledger writes halted until chain corruption is resolved")
	ErrPaymentFailed             = errors.New("payment processing failed")
)

// AlreadyClaimedError rejects a second faucet claim within the same calendar
// day and tells the caller when the next claim becomes eligible.
type AlreadyClaimedError struct {
	NextClaimAt time.Time
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("faucet already claimed today, next claim at %s", e.NextClaimAt.Format(time.RFC3339))
}

// ChainCorruptionError reports the first broken block found by chain
// verification. It is fatal for automated processing: ledger writes stay
// halted until an operator resolves the corruption.
type ChainCorruptionError struct {
	BlockNumber int64
	Reason      string
}

func (e *ChainCorruptionError) Error() string {
	return fmt.Sprintf("chain corruption at block %d: %s", e.BlockNumber, e.Reason)
}
