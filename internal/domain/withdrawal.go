package domain

import (
	"time"

	"github.com/google/uuid"
)

// WithdrawalStatus is the state of a payout request. pending is the only
// non-terminal state; terminal requests are kept forever for audit.
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalRejected  WithdrawalStatus = "rejected"
	WithdrawalCancelled WithdrawalStatus = "cancelled"
)

// WithdrawalMethod is the payout channel requested by the user.
type WithdrawalMethod string

const (
	MethodPayPal       WithdrawalMethod = "paypal"
	MethodBankTransfer WithdrawalMethod = "bank_transfer"
	MethodStripe       WithdrawalMethod = "stripe"
	MethodWise         WithdrawalMethod = "wise"
	MethodCrypto       WithdrawalMethod = "crypto"
	MethodCheck        WithdrawalMethod = "check"
)

// Valid reports whether m is a supported payout method.
func (m WithdrawalMethod) Valid() bool {
	switch m {
	case MethodPayPal, MethodBankTransfer, MethodStripe, MethodWise, MethodCrypto, MethodCheck:
		return true
	}
	return false
}

// WithdrawalRequest is the lifecycle entity of the payout workflow. Amount is
// held (debited) at creation time and only settles or returns when the
// request reaches a terminal state.
type WithdrawalRequest struct {
	ID             uuid.UUID         `json:"id"`
	User           string            `json:"user"`
	Amount         int64             `json:"amount"`
	Method         WithdrawalMethod  `json:"method"`
	PaymentDetails map[string]string `json:"payment_details,omitempty"`
	Status         WithdrawalStatus  `json:"status"`
	RequestedAt    time.Time         `json:"requested_at"`

	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	Notes      string     `json:"notes,omitempty"`

	RejectedBy      string     `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}
