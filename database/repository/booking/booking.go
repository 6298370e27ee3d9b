package bookingRepo

import (
	"context"
	"errors"
	"time"

	ledgerRepo "sakhi/database/repository/ledger"
	"sakhi/models"
)

// ErrBookingNotFound is returned when no booking matches the given ID.
var ErrBookingNotFound = errors.New("booking not found")

// ErrInvalidTransition is returned when a status change does not match the
// booking's current state. Transitions are compare-and-set updates, so a
// double accept or decline loses cleanly instead of clobbering state.
var ErrInvalidTransition = errors.New("invalid booking transition")

// ErrSettlementConflict is returned when a settlement attempt finds the
// booking already flipped out of escrow by a concurrent sweep. The losing
// attempt is dropped; nothing was applied.
var ErrSettlementConflict = errors.New("booking already settled")

// Repository persists bookings. Methods that move money take ledger ops and
// log entries so the balance mutation, the log append, and the status flip
// commit or abort as one transaction.
type Repository interface {
	// CreateWithEscrow inserts the booking and applies the escrow hold
	// atomically: customer wallet debit, doctor waiting credit, audit logs.
	CreateWithEscrow(ctx context.Context, b *models.Booking, ops []ledgerRepo.BalanceOp, logs []models.Transaction) error

	GetByID(ctx context.Context, id string) (*models.Booking, error)
	ListByCustomer(ctx context.Context, customerID string) ([]models.Booking, error)
	ListByDoctorStatus(ctx context.Context, doctorID string, statuses []string) ([]models.Booking, error)

	// MarkAccepted transitions pending -> accepted and records the room ID.
	MarkAccepted(ctx context.Context, id, roomID string) error
	// MarkInCall transitions accepted -> in_call on first media flow.
	MarkInCall(ctx context.Context, id string, startedAt time.Time) error
	// MarkCompleted transitions in_call (or accepted, if the call never
	// produced media) -> completed with the measured duration.
	MarkCompleted(ctx context.Context, id string, endedAt time.Time, durationSeconds int) error

	// DeclineWithRefund transitions pending -> declined and reverses the
	// escrow hold in the same transaction.
	DeclineWithRefund(ctx context.Context, id string, ops []ledgerRepo.BalanceOp, logs []models.Transaction) error

	// SettleEscrow flips paymentStatus escrow -> complete and applies the
	// settlement ops in one transaction. The flip is a compare-and-set on
	// {status: completed, paymentStatus: escrow}; a losing concurrent
	// attempt gets ErrSettlementConflict and applies nothing.
	SettleEscrow(ctx context.Context, id string, ops []ledgerRepo.BalanceOp, logs []models.Transaction) error

	// ExpireWithRefund transitions accepted -> expired with a full refund,
	// used by the timeout sweep for stalled handshakes.
	ExpireWithRefund(ctx context.Context, id string, ops []ledgerRepo.BalanceOp, logs []models.Transaction) error

	// FindSettleable returns bookings with status=completed and
	// paymentStatus=escrow, the settlement sweep's work queue.
	FindSettleable(ctx context.Context) ([]models.Booking, error)

	// FindStaleAccepted returns accepted bookings not updated since the
	// cutoff, candidates for expiry.
	FindStaleAccepted(ctx context.Context, cutoff time.Time) ([]models.Booking, error)

	AppendPrescription(ctx context.Context, id string, p models.Prescription) error
}
