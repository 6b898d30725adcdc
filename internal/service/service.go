// Package service implements the coin economy coordinators: transfers,
// mint/burn, the withdrawal workflow and the daily faucet. Every operation
// runs as one atomic store unit that mutates balances, writes the per-user
// journal and appends at most one ledger block.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/powerstream/coinledger/internal/domain"
	"github.com/powerstream/coinledger/internal/ledger"
	"github.com/powerstream/coinledger/internal/store"
)

// Config carries the tunables of the coin economy.
type Config struct {
	FaucetAmount  int64
	MinWithdrawal int64
	RetryAttempts int
}

// Observer is notified after a block has committed, never before. Listeners
// must not block; anything slow belongs in the listener's own goroutine.
type Observer interface {
	BlockCommitted(block *domain.LedgerBlock)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(block *domain.LedgerBlock)

func (f ObserverFunc) BlockCommitted(block *domain.LedgerBlock) { f(block) }

// Service is the single entry point for all balance mutations. UI-facing
// code never writes balances directly.
type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	logger   *zap.Logger
	payments PaymentProcessor
	cfg      Config

	mu        sync.RWMutex
	observers []Observer

	// now is swapped in tests to pin the faucet day boundary.
	now func() time.Time
}

// New wires the coordinator. Zero config values fall back to defaults.
func New(st store.Store, led *ledger.Ledger, logger *zap.Logger, payments PaymentProcessor, cfg Config) *Service {
	if cfg.FaucetAmount <= 0 {
		cfg.FaucetAmount = 10
	}
	if cfg.MinWithdrawal <= 0 {
		cfg.MinWithdrawal = 100
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	return &Service{
		store:    st,
		ledger:   led,
		logger:   logger,
		payments: payments,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Subscribe registers an observer for committed blocks.
func (s *Service) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Service) notify(block *domain.LedgerBlock) {
	if block == nil {
		return
	}
	blocksCommitted.WithLabelValues(string(block.Payload.Type)).Inc()
	chainHeight.Set(float64(block.BlockNumber + 1))

	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, o := range observers {
		o.BlockCommitted(block)
	}
}

// runAtomic executes one unit, retrying the whole unit on write conflicts.
// The unit function must be restartable: it is re-run from scratch on retry.
func (s *Service) runAtomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 0; attempt < s.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
			}
		}
		err = s.store.Atomic(ctx, fn)
		if err == nil || !errors.Is(err, domain.ErrConcurrentModification) {
			return err
		}
		s.logger.Debug("retrying after write conflict", zap.Int("attempt", attempt+1))
	}
	return err
}

// Balance returns the user's current balance. Unknown accounts read as zero:
// account existence is guaranteed by the identity collaborator.
func (s *Service) Balance(ctx context.Context, account string) (int64, error) {
	bal, err := s.store.Balance(ctx, account)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return 0, nil
	}
	return bal, err
}

// History returns the user's journal entries, newest first.
func (s *Service) History(ctx context.Context, user string, limit, offset int) ([]*domain.CoinTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.JournalForUser(ctx, user, limit, offset)
}

// LedgerHistory returns the chain blocks touching the account, newest first.
func (s *Service) LedgerHistory(ctx context.Context, account string, limit, offset int) ([]*domain.LedgerBlock, error) {
	return s.ledger.HistoryFor(ctx, account, limit, offset)
}
