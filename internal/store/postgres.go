package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/powerstream/coinledger/internal/domain"
)

// Postgres implements Store over pgx. Atomic units are transactions at
// RepeatableRead; write conflicts surface as domain.ErrConcurrentModification
// so the coordinator can retry the whole unit.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres connects a pool and verifies the connection.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &Postgres{db: pool}, nil
}

func (p *Postgres) Close() {
	p.db.Close()
}

// ApplySchema creates all tables and indexes if they do not exist.
func (p *Postgres) ApplySchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("schema apply failed: %w", err)
	}
	return nil
}

func (p *Postgres) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return translatePgErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return translatePgErr(fmt.Errorf("tx commit failed: %w", err))
	}
	return nil
}

// translatePgErr maps serialization failures and block number collisions to
// the retryable sentinel.
func translatePgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", domain.ErrConcurrentModification, pgErr.Message)
		case "23505":
			if pgErr.ConstraintName == "uniq_withdrawal_pending_per_user" {
				return domain.ErrPendingWithdrawalExists
			}
			if pgErr.ConstraintName == "token_ledger_pkey" || pgErr.ConstraintName == "token_ledger_hash_key" {
				return fmt.Errorf("%w: %s", domain.ErrConcurrentModification, pgErr.Message)
			}
		}
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Balance(ctx context.Context, account string) (int64, error) {
	var balance int64
	err := t.tx.QueryRow(ctx,
		"SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", account).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, domain.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock acquisition failed: %w", err)
	}
	return balance, nil
}

func (t *pgTx) EnsureAccount(ctx context.Context, account string) (int64, error) {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO accounts (id, balance) VALUES ($1, 0) ON CONFLICT (id) DO NOTHING", account)
	if err != nil {
		return 0, fmt.Errorf("ensure account failed: %w", err)
	}
	return t.Balance(ctx, account)
}

func (t *pgTx) SetBalance(ctx context.Context, account string, balance int64) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE accounts SET balance = $1 WHERE id = $2", balance, account)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) LatestBlock(ctx context.Context) (*domain.LedgerBlock, error) {
	return scanBlock(t.tx.QueryRow(ctx, selectBlock+" ORDER BY block_number DESC LIMIT 1"))
}

func (t *pgTx) InsertBlock(ctx context.Context, block *domain.LedgerBlock) error {
	payload, err := json.Marshal(block.Payload)
	if err != nil {
		return fmt.Errorf("payload encode failed: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO token_ledger (block_number, hash, prev_hash, payload, balance_from, balance_to, block_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		block.BlockNumber, block.Hash, block.PrevHash, payload,
		block.Balances.From, block.Balances.To, block.Timestamp)
	if err != nil {
		return fmt.Errorf("block insert failed: %w", err)
	}
	return nil
}

func (t *pgTx) AppendJournal(ctx context.Context, entry *domain.CoinTransaction) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO coin_transactions (user_id, kind, amount, balance_after, reference, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		entry.User, entry.Kind, entry.Amount, entry.BalanceAfter,
		entry.Reference, entry.Description, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("journal insert failed: %w", err)
	}
	return nil
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error {
	details, err := json.Marshal(req.PaymentDetails)
	if err != nil {
		return fmt.Errorf("payment details encode failed: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO withdrawal_requests (id, user_id, amount, method, payment_details, status, requested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.ID, req.User, req.Amount, req.Method, details, req.Status, req.RequestedAt)
	if err != nil {
		return fmt.Errorf("withdrawal insert failed: %w", err)
	}
	return nil
}

func (t *pgTx) WithdrawalForUpdate(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	return scanWithdrawal(t.tx.QueryRow(ctx, selectWithdrawal+" WHERE id = $1 FOR UPDATE", id))
}

func (t *pgTx) UpdateWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE withdrawal_requests
		 SET status = $2, approved_by = $3, approved_at = $4, notes = $5,
		     rejected_by = $6, rejected_at = $7, rejection_reason = $8, cancelled_at = $9
		 WHERE id = $1`,
		req.ID, req.Status, nullStr(req.ApprovedBy), req.ApprovedAt, nullStr(req.Notes),
		nullStr(req.RejectedBy), req.RejectedAt, nullStr(req.RejectionReason), req.CancelledAt)
	if err != nil {
		return fmt.Errorf("withdrawal update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWithdrawalNotFound
	}
	return nil
}

func (t *pgTx) HasPendingWithdrawal(ctx context.Context, user string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM withdrawal_requests WHERE user_id = $1 AND status = 'pending')",
		user).Scan(&exists)
	return exists, err
}

func (t *pgTx) FaucetClaimedSince(ctx context.Context, user string, since time.Time, memo string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM token_ledger
		   WHERE payload->>'type' = 'earn'
		     AND payload->>'to' = $1
		     AND payload->>'memo' = $2
		     AND block_time >= $3)`,
		user, memo, since).Scan(&exists)
	return exists, err
}

// Read-only surface.

func (p *Postgres) Balance(ctx context.Context, account string) (int64, error) {
	var balance int64
	err := p.db.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1", account).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, domain.ErrAccountNotFound
	}
	return balance, err
}

const selectBlock = `SELECT block_number, hash, prev_hash, payload, balance_from, balance_to, block_time FROM token_ledger`

func (p *Postgres) LatestBlock(ctx context.Context) (*domain.LedgerBlock, error) {
	return scanBlock(p.db.QueryRow(ctx, selectBlock+" ORDER BY block_number DESC LIMIT 1"))
}

func (p *Postgres) BlockCount(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.QueryRow(ctx, "SELECT COUNT(*) FROM token_ledger").Scan(&n)
	return n, err
}

func (p *Postgres) BlocksAscending(ctx context.Context, from int64, limit int) ([]*domain.LedgerBlock, error) {
	rows, err := p.db.Query(ctx,
		selectBlock+" WHERE block_number >= $1 ORDER BY block_number ASC LIMIT $2", from, limit)
	if err != nil {
		return nil, err
	}
	return collectBlocks(rows)
}

func (p *Postgres) BlocksForAccount(ctx context.Context, account string, limit, offset int) ([]*domain.LedgerBlock, error) {
	rows, err := p.db.Query(ctx,
		selectBlock+` WHERE payload->>'from' = $1 OR payload->>'to' = $1
		 ORDER BY block_number DESC LIMIT $2 OFFSET $3`,
		account, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectBlocks(rows)
}

func (p *Postgres) JournalForUser(ctx context.Context, user string, limit, offset int) ([]*domain.CoinTransaction, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, user_id, kind, amount, balance_after, reference, description, created_at
		 FROM coin_transactions WHERE user_id = $1
		 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		user, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.CoinTransaction
	for rows.Next() {
		var e domain.CoinTransaction
		var reference, description *string
		if err := rows.Scan(&e.ID, &e.User, &e.Kind, &e.Amount, &e.BalanceAfter,
			&reference, &description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reference = deref(reference)
		e.Description = deref(description)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *Postgres) JournalNetSums(ctx context.Context) (map[string]int64, error) {
	rows, err := p.db.Query(ctx,
		"SELECT user_id, COALESCE(SUM(amount), 0) FROM coin_transactions GROUP BY user_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[string]int64)
	for rows.Next() {
		var user string
		var net int64
		if err := rows.Scan(&user, &net); err != nil {
			return nil, err
		}
		sums[user] = net
	}
	return sums, rows.Err()
}

func (p *Postgres) AllBalances(ctx context.Context) (map[string]int64, error) {
	rows, err := p.db.Query(ctx, "SELECT id, balance FROM accounts")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var balance int64
		if err := rows.Scan(&id, &balance); err != nil {
			return nil, err
		}
		out[id] = balance
	}
	return out, rows.Err()
}

const selectWithdrawal = `SELECT id, user_id, amount, method, payment_details, status, requested_at,
	approved_by, approved_at, notes, rejected_by, rejected_at, rejection_reason, cancelled_at
	FROM withdrawal_requests`

func (p *Postgres) Withdrawal(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	return scanWithdrawal(p.db.QueryRow(ctx, selectWithdrawal+" WHERE id = $1", id))
}

func (p *Postgres) WithdrawalsForUser(ctx context.Context, user string, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	rows, err := p.db.Query(ctx,
		selectWithdrawal+` WHERE user_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY requested_at DESC LIMIT $3 OFFSET $4`,
		user, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	return collectWithdrawals(rows)
}

func (p *Postgres) Withdrawals(ctx context.Context, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	rows, err := p.db.Query(ctx,
		selectWithdrawal+` WHERE ($1 = '' OR status = $1)
		 ORDER BY requested_at DESC LIMIT $2 OFFSET $3`,
		string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	return collectWithdrawals(rows)
}

func (p *Postgres) PendingWithdrawalCount(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM withdrawal_requests WHERE status = 'pending'").Scan(&n)
	return n, err
}

// Scan helpers.

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (*domain.LedgerBlock, error) {
	var b domain.LedgerBlock
	var payload []byte
	err := row.Scan(&b.BlockNumber, &b.Hash, &b.PrevHash, &payload,
		&b.Balances.From, &b.Balances.To, &b.Timestamp)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &b.Payload); err != nil {
		return nil, fmt.Errorf("payload decode failed: %w", err)
	}
	b.Timestamp = b.Timestamp.UTC()
	return &b, nil
}

func collectBlocks(rows pgx.Rows) ([]*domain.LedgerBlock, error) {
	defer rows.Close()
	var out []*domain.LedgerBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanWithdrawal(row rowScanner) (*domain.WithdrawalRequest, error) {
	var req domain.WithdrawalRequest
	var details []byte
	var approvedBy, notes, rejectedBy, rejectionReason *string
	err := row.Scan(&req.ID, &req.User, &req.Amount, &req.Method, &details, &req.Status,
		&req.RequestedAt, &approvedBy, &req.ApprovedAt, &notes,
		&rejectedBy, &req.RejectedAt, &rejectionReason, &req.CancelledAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &req.PaymentDetails); err != nil {
			return nil, fmt.Errorf("payment details decode failed: %w", err)
		}
	}
	req.ApprovedBy = deref(approvedBy)
	req.Notes = deref(notes)
	req.RejectedBy = deref(rejectedBy)
	req.RejectionReason = deref(rejectionReason)
	return &req, nil
}

func collectWithdrawals(rows pgx.Rows) ([]*domain.WithdrawalRequest, error) {
	defer rows.Close()
	var out []*domain.WithdrawalRequest
	for rows.Next() {
		req, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
