package models

import "time"

// Transaction types.
const (
	TxCredit        = "credit"
	TxDebit         = "debit"
	TxPendingCredit = "pending_credit"
)

// Transaction is an append-only audit log entry written alongside every
// balance mutation. Entries are never updated or deleted and are not
// authoritative for balance values.
type Transaction struct {
	ID          string    `bson:"id" json:"id"`
	UserID      string    `bson:"userId" json:"userId"`
	Amount      float64   `bson:"amount" json:"amount"`
	Type        string    `bson:"type" json:"type"`
	Description string    `bson:"description" json:"description"`
	PaymentID   string    `bson:"paymentId,omitempty" json:"paymentId,omitempty"`
	Timestamp   time.Time `bson:"timestamp" json:"timestamp"`
}
