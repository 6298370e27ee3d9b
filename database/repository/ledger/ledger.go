package ledgerRepo

import (
	"context"
	"errors"

	"sakhi/models"

	"go.mongodb.org/mongo-driver/mongo"
)

// Balance fields addressable by a transfer.
type Field string

const (
	FieldWallet      Field = "walletBalance"
	FieldWaiting     Field = "waitingBalance"
	FieldAccumulated Field = "accumulatedBalance"
)

// PlatformAccountID is the reserved account holding the platform's cut,
// credited at settlement time so the fee is never silently discarded.
const PlatformAccountID = "platform-revenue"

// ErrInsufficientFunds is returned when a transfer would drive any balance
// below zero. The whole transfer aborts; no partial application is ever
// observable.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrAccountNotFound is returned when a transfer names an unknown account.
var ErrAccountNotFound = errors.New("account not found")

// BalanceOp is one balance delta applied by a transfer. Deltas may be
// negative.
type BalanceOp struct {
	AccountID string
	Field     Field
	Delta     float64
}

// Repository applies balance deltas and appends transaction log entries as
// one atomic unit. The floor check runs inside the transaction: callers do
// not get to overdraw an account regardless of their own bookkeeping.
type Repository interface {
	Transfer(ctx context.Context, ops []BalanceOp, logs []models.Transaction) error

	// ApplyTx applies the same ops within a caller-owned session, so other
	// repositories can combine a transfer with their own document updates
	// in a single transaction.
	ApplyTx(sessCtx mongo.SessionContext, ops []BalanceOp, logs []models.Transaction) error

	History(ctx context.Context, userID string, limit int64) ([]models.Transaction, error)
}
