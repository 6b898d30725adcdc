// Package ledger owns the append-only hash chain: block construction,
// genesis bootstrap, integrity verification and history reads.
package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/powerstream/coinledger/internal/domain"
	"github.com/powerstream/coinledger/internal/store"
)

// verifyBatchSize bounds memory while walking the chain.
const verifyBatchSize = 500

// Ledger appends and verifies blocks. Appends run inside a caller-provided
// store unit so that a block commits together with the balance mutation it
// records. Once verification finds a broken block the corrupted latch stays
// set and all further appends are refused until an operator clears it.
type Ledger struct {
	store     store.Store
	logger    *zap.Logger
	corrupted atomic.Bool

	// now is swapped in tests to pin block times.
	now func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the block timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger over the given store.
func New(st store.Store, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// VerifyResult is the outcome of a chain walk.
type VerifyResult struct {
	Valid      bool   `json:"valid"`
	BlockCount int64  `json:"blockCount"`
	BrokenAt   *int64 `json:"brokenAt,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Append creates the next block inside tx. The chain head is read inside the
// same unit, so numbering is decided under the unit's isolation; a racing
// append surfaces as a retryable conflict from the store, never as a gap or
// duplicate.
func (l *Ledger) Append(ctx context.Context, tx store.Tx, payload domain.Payload, balances domain.BalanceSnapshot) (*domain.LedgerBlock, error) {
	if l.corrupted.Load() {
		return nil, domain.ErrChainHalted
	}

	latest, err := tx.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain head: %w", err)
	}
	if latest == nil {
		latest, err = l.appendGenesis(ctx, tx)
		if err != nil {
			return nil, err
		}
	}

	block := &domain.LedgerBlock{
		PrevHash:    latest.Hash,
		BlockNumber: latest.BlockNumber + 1,
		Payload:     payload,
		Balances:    balances,
		Timestamp:   domain.BlockTime(l.now()),
	}
	block.Hash = domain.CalculateHash(block.PrevHash, block.Payload, block.Timestamp)

	if err := tx.InsertBlock(ctx, block); err != nil {
		return nil, err
	}
	return block, nil
}

func (l *Ledger) appendGenesis(ctx context.Context, tx store.Tx) (*domain.LedgerBlock, error) {
	genesis := &domain.LedgerBlock{
		PrevHash:    domain.GenesisPrevHash,
		BlockNumber: 0,
		Payload: domain.Payload{
			Type: domain.KindGenesis,
			Memo: domain.GenesisMemo,
		},
		Timestamp: domain.BlockTime(l.now()),
	}
	genesis.Hash = domain.CalculateHash(genesis.PrevHash, genesis.Payload, genesis.Timestamp)

	if err := tx.InsertBlock(ctx, genesis); err != nil {
		return nil, fmt.Errorf("append genesis: %w", err)
	}
	l.logger.Info("genesis block created", zap.String("hash", genesis.Hash))
	return genesis, nil
}

// Latest returns the chain head, nil when the chain is empty.
func (l *Ledger) Latest(ctx context.Context) (*domain.LedgerBlock, error) {
	return l.store.LatestBlock(ctx)
}

// Height returns the number of blocks in the chain.
func (l *Ledger) Height(ctx context.Context) (int64, error) {
	return l.store.BlockCount(ctx)
}

// HistoryFor returns blocks touching the account, newest first.
func (l *Ledger) HistoryFor(ctx context.Context, account string, limit, offset int) ([]*domain.LedgerBlock, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.BlocksForAccount(ctx, account, limit, offset)
}

// VerifyChain walks the chain in order, checking prevHash linkage and
// recomputing every hash. The walk stops at the first mismatch: the goal is
// integrity, not forensics. A broken chain sets the corrupted latch.
func (l *Ledger) VerifyChain(ctx context.Context) (*VerifyResult, error) {
	var (
		prev  *domain.LedgerBlock
		count int64
		next  int64
	)
	for {
		batch, err := l.store.BlocksAscending(ctx, next, verifyBatchSize)
		if err != nil {
			return nil, fmt.Errorf("read chain: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, b := range batch {
			if res := l.checkBlock(prev, b, count); res != nil {
				l.markCorrupted(res)
				return res, nil
			}
			prev = b
			count++
		}
		next = prev.BlockNumber + 1
	}
	return &VerifyResult{Valid: true, BlockCount: count}, nil
}

func (l *Ledger) checkBlock(prev, b *domain.LedgerBlock, seen int64) *VerifyResult {
	broken := func(reason string) *VerifyResult {
		n := b.BlockNumber
		return &VerifyResult{Valid: false, BlockCount: seen, BrokenAt: &n, Reason: reason}
	}

	if b.BlockNumber != seen {
		return broken(fmt.Sprintf("expected block number %d, found %d", seen, b.BlockNumber))
	}
	if prev == nil {
		if b.PrevHash != domain.GenesisPrevHash {
			return broken("genesis prevHash is not the zero hash")
		}
	} else if b.PrevHash != prev.Hash {
		return broken(fmt.Sprintf("chain broken: prevHash does not match hash of block %d", prev.BlockNumber))
	}
	if recomputed := domain.CalculateHash(b.PrevHash, b.Payload, b.Timestamp); recomputed != b.Hash {
		return broken("hash mismatch: stored hash does not match recomputed hash")
	}
	return nil
}

func (l *Ledger) markCorrupted(res *VerifyResult) {
	if l.corrupted.CompareAndSwap(false, true) {
		err := &domain.ChainCorruptionError{BlockNumber: *res.BrokenAt, Reason: res.Reason}
		l.logger.Error("chain corruption detected, halting ledger writes", zap.Error(err))
	}
}

// Halted reports whether appends are refused due to unresolved corruption.
func (l *Ledger) Halted() bool {
	return l.corrupted.Load()
}

// ClearHalt re-enables appends after an operator resolved the corruption.
// It never repairs anything.
func (l *Ledger) ClearHalt() {
	if l.corrupted.CompareAndSwap(true, false) {
		l.logger.Warn("chain corruption latch cleared by operator")
	}
}
