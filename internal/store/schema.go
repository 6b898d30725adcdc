package store

// Schema is the DDL applied by cmd/seeder. The token_ledger primary key on
// block_number is what turns two racing appends into a visible conflict
// instead of a gap or a duplicate.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id         TEXT PRIMARY KEY,
    balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS token_ledger (
    block_number BIGINT PRIMARY KEY,
    hash         TEXT NOT NULL UNIQUE,
    prev_hash    TEXT NOT NULL,
    payload      JSONB NOT NULL,
    balance_from BIGINT,
    balance_to   BIGINT,
    block_time   TIMESTAMPTZ NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_token_ledger_from ON token_ledger ((payload->>'from'), block_number DESC);
CREATE INDEX IF NOT EXISTS idx_token_ledger_to   ON token_ledger ((payload->>'to'), block_number DESC);
CREATE INDEX IF NOT EXISTS idx_token_ledger_type ON token_ledger ((payload->>'type'), block_time DESC);

CREATE TABLE IF NOT EXISTS coin_transactions (
    id            BIGSERIAL PRIMARY KEY,
    user_id       TEXT NOT NULL,
    kind          TEXT NOT NULL,
    amount        BIGINT NOT NULL,
    balance_after BIGINT NOT NULL,
    reference     TEXT,
    description   TEXT,
    created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_coin_transactions_user ON coin_transactions (user_id, id DESC);

CREATE TABLE IF NOT EXISTS withdrawal_requests (
    id               UUID PRIMARY KEY,
    user_id          TEXT NOT NULL,
    amount           BIGINT NOT NULL CHECK (amount > 0),
    method           TEXT NOT NULL,
    payment_details  JSONB,
    status           TEXT NOT NULL,
    requested_at     TIMESTAMPTZ NOT NULL,
    approved_by      TEXT,
    approved_at      TIMESTAMPTZ,
    notes            TEXT,
    rejected_by      TEXT,
    rejected_at      TIMESTAMPTZ,
    rejection_reason TEXT,
    cancelled_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_user ON withdrawal_requests (user_id, requested_at DESC);
CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_status ON withdrawal_requests (status);
-- one pending request per user, enforced at the storage level as well
CREATE UNIQUE INDEX IF NOT EXISTS uniq_withdrawal_pending_per_user
    ON withdrawal_requests (user_id) WHERE status = 'pending';
`
