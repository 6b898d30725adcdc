package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// TxKind is the transaction type recorded in a block payload.
type TxKind string

const (
	KindGenesis     TxKind = "genesis"
	KindMint        TxKind = "mint"
	KindBurn        TxKind = "burn"
	KindTransfer    TxKind = "transfer"
	KindTip         TxKind = "tip"
	KindPurchase    TxKind = "purchase"
	KindEarn        TxKind = "earn"
	KindSpend       TxKind = "spend"
	KindAdminAdjust TxKind = "admin_adjust"
	KindRefund      TxKind = "refund"
)

// Reference points a block at the platform entity that caused it
// (a post, a stream, a withdrawal request, ...).
type Reference struct {
	EntityType string `json:"entityType,omitempty"`
	EntityID   string `json:"entityId,omitempty"`
}

// Payload is the transaction carried by a ledger block. From is empty for
// mint-style credits, To is empty for burn-style debits.
type Payload struct {
	Type      TxKind     `json:"type"`
	From      string     `json:"from,omitempty"`
	To        string     `json:"to,omitempty"`
	Amount    int64      `json:"amount"`
	Fee       int64      `json:"fee"`
	Memo      string     `json:"memo,omitempty"`
	Reference *Reference `json:"reference,omitempty"`
}

// BalanceSnapshot records the post-transaction balances for audit. A nil side
// means no account on that side of the transaction.
type BalanceSnapshot struct {
	From *int64 `json:"from"`
	To   *int64 `json:"to"`
}

// LedgerBlock is one immutable entry of the hash-chained coin ledger.
// Field names are a persistence contract for audit and export tooling.
type LedgerBlock struct {
	Hash        string          `json:"hash"`
	PrevHash    string          `json:"prevHash"`
	BlockNumber int64           `json:"blockNumber"`
	Payload     Payload         `json:"payload"`
	Balances    BalanceSnapshot `json:"balances"`
	Timestamp   time.Time       `json:"timestamp"`
}

// GenesisPrevHash anchors the chain: the genesis block has no predecessor.
var GenesisPrevHash = strings.Repeat("0", 64)

// GenesisMemo is the memo carried by the synthetic block 0.
const GenesisMemo = "PowerStream Token Ledger Genesis Block"

// hashInput fixes the field order hashed into a block digest.
type hashInput struct {
	PrevHash  string  `json:"prevHash"`
	Payload   Payload `json:"payload"`
	Timestamp string  `json:"timestamp"`
}

// blockTimeLayout pins block times to millisecond precision so that a hash
// recomputed after a storage round trip matches the stored one.
const blockTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// CalculateHash computes the SHA-256 digest over (prevHash, payload, timestamp).
func CalculateHash(prevHash string, payload Payload, timestamp time.Time) string {
	data, err := json.Marshal(hashInput{
		PrevHash:  prevHash,
		Payload:   payload,
		Timestamp: timestamp.UTC().Format(blockTimeLayout),
	})
	if err != nil {
		// Payload contains only plain values; marshalling cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BlockTime normalizes t to the precision that survives hashing and storage.
func BlockTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
