package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/powerstream/coinledger/internal/domain"
)

// Memory is the in-memory Store. A single mutex serializes atomic units;
// each unit stages its writes in an overlay and commits only when the unit
// function returns nil, so a failed unit leaves no trace.
type Memory struct {
	mu          sync.Mutex
	accounts    map[string]int64
	blocks      []*domain.LedgerBlock
	journal     []*domain.CoinTransaction
	withdrawals map[uuid.UUID]*domain.WithdrawalRequest
	journalSeq  int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:    make(map[string]int64),
		withdrawals: make(map[uuid.UUID]*domain.WithdrawalRequest),
	}
}

func (m *Memory) Close() {}

// Atomic runs fn under the store lock against a staged overlay.
func (m *Memory) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		s:        m,
		balances: make(map[string]int64),
		wdNew:    make(map[uuid.UUID]*domain.WithdrawalRequest),
		wdUpd:    make(map[uuid.UUID]*domain.WithdrawalRequest),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx stages one unit's writes on top of the base store.
type memTx struct {
	s        *Memory
	balances map[string]int64
	blocks   []*domain.LedgerBlock
	journal  []*domain.CoinTransaction
	wdNew    map[uuid.UUID]*domain.WithdrawalRequest
	wdUpd    map[uuid.UUID]*domain.WithdrawalRequest
}

func (t *memTx) commit() {
	for id, bal := range t.balances {
		t.s.accounts[id] = bal
	}
	t.s.blocks = append(t.s.blocks, t.blocks...)
	for _, e := range t.journal {
		t.s.journalSeq++
		e.ID = t.s.journalSeq
		t.s.journal = append(t.s.journal, e)
	}
	for id, req := range t.wdNew {
		t.s.withdrawals[id] = req
	}
	for id, req := range t.wdUpd {
		t.s.withdrawals[id] = req
	}
}

func (t *memTx) Balance(ctx context.Context, account string) (int64, error) {
	if bal, ok := t.balances[account]; ok {
		return bal, nil
	}
	bal, ok := t.s.accounts[account]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	return bal, nil
}

func (t *memTx) EnsureAccount(ctx context.Context, account string) (int64, error) {
	bal, err := t.Balance(ctx, account)
	if err == nil {
		return bal, nil
	}
	t.balances[account] = 0
	return 0, nil
}

func (t *memTx) SetBalance(ctx context.Context, account string, balance int64) error {
	t.balances[account] = balance
	return nil
}

func (t *memTx) LatestBlock(ctx context.Context) (*domain.LedgerBlock, error) {
	if n := len(t.blocks); n > 0 {
		return cloneBlock(t.blocks[n-1]), nil
	}
	if n := len(t.s.blocks); n > 0 {
		return cloneBlock(t.s.blocks[n-1]), nil
	}
	return nil, nil
}

func (t *memTx) InsertBlock(ctx context.Context, block *domain.LedgerBlock) error {
	expected := int64(len(t.s.blocks) + len(t.blocks))
	if block.BlockNumber != expected {
		return domain.ErrConcurrentModification
	}
	t.blocks = append(t.blocks, cloneBlock(block))
	return nil
}

func (t *memTx) AppendJournal(ctx context.Context, entry *domain.CoinTransaction) error {
	cp := *entry
	t.journal = append(t.journal, &cp)
	return nil
}

func (t *memTx) InsertWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error {
	t.wdNew[req.ID] = cloneWithdrawal(req)
	return nil
}

func (t *memTx) WithdrawalForUpdate(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	if req, ok := t.wdUpd[id]; ok {
		return cloneWithdrawal(req), nil
	}
	if req, ok := t.wdNew[id]; ok {
		return cloneWithdrawal(req), nil
	}
	if req, ok := t.s.withdrawals[id]; ok {
		return cloneWithdrawal(req), nil
	}
	return nil, domain.ErrWithdrawalNotFound
}

func (t *memTx) UpdateWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error {
	t.wdUpd[req.ID] = cloneWithdrawal(req)
	return nil
}

func (t *memTx) HasPendingWithdrawal(ctx context.Context, user string) (bool, error) {
	check := func(req *domain.WithdrawalRequest) bool {
		return req.User == user && req.Status == domain.WithdrawalPending
	}
	for _, req := range t.wdNew {
		if check(req) {
			return true, nil
		}
	}
	for id, req := range t.s.withdrawals {
		if upd, ok := t.wdUpd[id]; ok {
			req = upd
		}
		if check(req) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) FaucetClaimedSince(ctx context.Context, user string, since time.Time, memo string) (bool, error) {
	match := func(b *domain.LedgerBlock) bool {
		return b.Payload.Type == domain.KindEarn &&
			b.Payload.To == user &&
			b.Payload.Memo == memo &&
			!b.Timestamp.Before(since)
	}
	for _, b := range t.blocks {
		if match(b) {
			return true, nil
		}
	}
	for _, b := range t.s.blocks {
		if match(b) {
			return true, nil
		}
	}
	return false, nil
}

// Read-only surface.

func (m *Memory) Balance(ctx context.Context, account string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.accounts[account]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	return bal, nil
}

func (m *Memory) LatestBlock(ctx context.Context) (*domain.LedgerBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.blocks); n > 0 {
		return cloneBlock(m.blocks[n-1]), nil
	}
	return nil, nil
}

func (m *Memory) BlockCount(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.blocks)), nil
}

func (m *Memory) BlocksAscending(ctx context.Context, from int64, limit int) ([]*domain.LedgerBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.LedgerBlock
	for _, b := range m.blocks {
		if b.BlockNumber < from {
			continue
		}
		out = append(out, cloneBlock(b))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) BlocksForAccount(ctx context.Context, account string, limit, offset int) ([]*domain.LedgerBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.LedgerBlock
	skipped := 0
	for i := len(m.blocks) - 1; i >= 0; i-- {
		b := m.blocks[i]
		if b.Payload.From != account && b.Payload.To != account {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, cloneBlock(b))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) JournalForUser(ctx context.Context, user string, limit, offset int) ([]*domain.CoinTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.CoinTransaction
	skipped := 0
	for i := len(m.journal) - 1; i >= 0; i-- {
		e := m.journal[i]
		if e.User != user {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) JournalNetSums(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sums := make(map[string]int64)
	for _, e := range m.journal {
		sums[e.User] += e.Amount
	}
	return sums, nil
}

func (m *Memory) AllBalances(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.accounts))
	for id, bal := range m.accounts {
		out[id] = bal
	}
	return out, nil
}

func (m *Memory) Withdrawal(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.withdrawals[id]
	if !ok {
		return nil, domain.ErrWithdrawalNotFound
	}
	return cloneWithdrawal(req), nil
}

func (m *Memory) WithdrawalsForUser(ctx context.Context, user string, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterWithdrawals(m.withdrawals, func(req *domain.WithdrawalRequest) bool {
		return req.User == user && (status == "" || req.Status == status)
	}, limit, offset), nil
}

func (m *Memory) Withdrawals(ctx context.Context, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterWithdrawals(m.withdrawals, func(req *domain.WithdrawalRequest) bool {
		return status == "" || req.Status == status
	}, limit, offset), nil
}

func (m *Memory) PendingWithdrawalCount(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, req := range m.withdrawals {
		if req.Status == domain.WithdrawalPending {
			n++
		}
	}
	return n, nil
}

func filterWithdrawals(all map[uuid.UUID]*domain.WithdrawalRequest, keep func(*domain.WithdrawalRequest) bool, limit, offset int) []*domain.WithdrawalRequest {
	var matched []*domain.WithdrawalRequest
	for _, req := range all {
		if keep(req) {
			matched = append(matched, req)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].RequestedAt.After(matched[j].RequestedAt)
	})
	if offset >= len(matched) {
		return nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*domain.WithdrawalRequest, len(matched))
	for i, req := range matched {
		out[i] = cloneWithdrawal(req)
	}
	return out
}

func cloneBlock(b *domain.LedgerBlock) *domain.LedgerBlock {
	cp := *b
	if b.Payload.Reference != nil {
		ref := *b.Payload.Reference
		cp.Payload.Reference = &ref
	}
	if b.Balances.From != nil {
		v := *b.Balances.From
		cp.Balances.From = &v
	}
	if b.Balances.To != nil {
		v := *b.Balances.To
		cp.Balances.To = &v
	}
	return &cp
}

func cloneWithdrawal(req *domain.WithdrawalRequest) *domain.WithdrawalRequest {
	cp := *req
	if req.PaymentDetails != nil {
		cp.PaymentDetails = make(map[string]string, len(req.PaymentDetails))
		for k, v := range req.PaymentDetails {
			cp.PaymentDetails[k] = v
		}
	}
	if req.ApprovedAt != nil {
		t := *req.ApprovedAt
		cp.ApprovedAt = &t
	}
	if req.RejectedAt != nil {
		t := *req.RejectedAt
		cp.RejectedAt = &t
	}
	if req.CancelledAt != nil {
		t := *req.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}
