// Package store persists accounts, the hash-chained token ledger, the
// per-user coin journal and withdrawal requests. Two implementations share
// one contract: Postgres for deployments, in-memory for tests and embedded
// runs.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/powerstream/coinledger/internal/domain"
)

// Tx is the write-side view handed to an atomic unit. Everything a unit does
// either commits together or is rolled back together; a failed unit is
// invisible to subsequent reads.
type Tx interface {
	// Balance returns the account's balance, locking the row for the rest
	// of the unit. Returns domain.ErrAccountNotFound for unknown accounts.
	Balance(ctx context.Context, account string) (int64, error)
	// EnsureAccount is Balance for credit targets: it creates the account
	// with a zero balance when missing instead of failing.
	EnsureAccount(ctx context.Context, account string) (int64, error)
	// SetBalance persists a balance computed by the coordinator. It is the
	// only balance mutation primitive in the system.
	SetBalance(ctx context.Context, account string, balance int64) error

	// LatestBlock returns the chain head, or nil when the chain is empty.
	LatestBlock(ctx context.Context) (*domain.LedgerBlock, error)
	// InsertBlock appends a block. A block number collision means another
	// writer got there first and surfaces as domain.ErrConcurrentModification.
	InsertBlock(ctx context.Context, block *domain.LedgerBlock) error

	AppendJournal(ctx context.Context, entry *domain.CoinTransaction) error

	InsertWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error
	// WithdrawalForUpdate loads a request and locks it for the unit.
	WithdrawalForUpdate(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error
	HasPendingWithdrawal(ctx context.Context, user string) (bool, error)

	// FaucetClaimedSince reports whether the user already has an earn block
	// with the faucet memo at or after the given instant.
	FaucetClaimedSince(ctx context.Context, user string, since time.Time, memo string) (bool, error)
}

// Store is the shared persistence contract. Atomic is the single write path;
// all other methods are read-only and safe for concurrent use.
type Store interface {
	// Atomic runs fn as one all-or-nothing unit. When fn returns an error
	// nothing it did is visible afterwards.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Balance(ctx context.Context, account string) (int64, error)
	LatestBlock(ctx context.Context) (*domain.LedgerBlock, error)
	BlockCount(ctx context.Context) (int64, error)
	// BlocksAscending returns up to limit blocks with number >= from, in
	// chain order. Used by verification to walk the chain in batches.
	BlocksAscending(ctx context.Context, from int64, limit int) ([]*domain.LedgerBlock, error)
	// BlocksForAccount returns blocks touching the account, newest first.
	BlocksForAccount(ctx context.Context, account string, limit, offset int) ([]*domain.LedgerBlock, error)

	JournalForUser(ctx context.Context, user string, limit, offset int) ([]*domain.CoinTransaction, error)
	// JournalNetSums returns the net journal amount per user, the basis of
	// balance reconciliation.
	JournalNetSums(ctx context.Context) (map[string]int64, error)
	AllBalances(ctx context.Context) (map[string]int64, error)

	Withdrawal(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error)
	// WithdrawalsForUser lists a user's requests, newest first. An empty
	// status matches all states.
	WithdrawalsForUser(ctx context.Context, user string, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error)
	// Withdrawals lists requests across users for admin review.
	Withdrawals(ctx context.Context, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error)
	PendingWithdrawalCount(ctx context.Context) (int64, error)

	Close()
}
