package domain

import "time"

// Account identifiers come from the identity collaborator; this subsystem
// never creates or authenticates users, it only keeps their coin balances.

// CoinTransaction is one signed entry of the per-user journal: positive for
// credits, negative for debits. BalanceAfter is the balance the entry left
// behind, which makes user-facing history self-describing.
type CoinTransaction struct {
	ID           int64     `json:"id"`
	User         string    `json:"user"`
	Kind         TxKind    `json:"kind"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Reference    string    `json:"reference,omitempty"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
