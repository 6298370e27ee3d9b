package settlement

import (
	"context"
	"errors"
	"time"

	bookingRepo "sakhi/database/repository/booking"
	ledgerRepo "sakhi/database/repository/ledger"
	roomRepo "sakhi/database/repository/room"
	"sakhi/models"
	"sakhi/services/booking"

	"go.uber.org/zap"
)

// Engine finalizes escrowed consultation payments. It is safe to run
// concurrently and repeatedly: the paymentStatus flip is part of the same
// transaction as the balance mutation, so each booking settles exactly
// once no matter how many sweeps race over it.
type Engine struct {
	Repo   bookingRepo.Repository
	Logger *zap.Logger

	// Signaling, when set, lets the expiry pass end and purge the room of
	// an expired booking so a party still waiting in it tears down.
	Signaling roomRepo.Signaling

	// MinBillableSeconds is the call-duration threshold below which the
	// customer is refunded in full.
	MinBillableSeconds int
	// FeeRate is the platform's share of a successfully billed consultation.
	FeeRate float64
	// AcceptTimeout expires accepted bookings whose handshake never made
	// progress.
	AcceptTimeout time.Duration
}

// Sweep settles every completed booking still holding escrow. It returns
// the number of bookings settled by this invocation; bookings lost to a
// concurrent sweep are skipped silently.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	bookings, err := e.Repo.FindSettleable(ctx)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, b := range bookings {
		if err := e.settle(ctx, b); err != nil {
			if errors.Is(err, bookingRepo.ErrSettlementConflict) {
				continue
			}
			e.Logger.Error("settlement failed",
				zap.String("bookingId", b.ID), zap.Error(err))
			continue
		}
		settled++
	}
	return settled, nil
}

// settle applies one booking's terminal transfer. Release and refund both
// flip paymentStatus inside the same transaction as the balance ops.
func (e *Engine) settle(ctx context.Context, b models.Booking) error {
	escrow := (1 - e.FeeRate) * b.AmountPaid
	fee := e.FeeRate * b.AmountPaid

	var ops []ledgerRepo.BalanceOp
	var logs []models.Transaction

	if b.CallDurationSeconds >= e.MinBillableSeconds {
		ops = []ledgerRepo.BalanceOp{
			{AccountID: b.DoctorID, Field: ledgerRepo.FieldWaiting, Delta: -escrow},
			{AccountID: b.DoctorID, Field: ledgerRepo.FieldAccumulated, Delta: escrow},
			{AccountID: ledgerRepo.PlatformAccountID, Field: ledgerRepo.FieldAccumulated, Delta: fee},
		}
		logs = []models.Transaction{
			{
				UserID:      b.DoctorID,
				Amount:      escrow,
				Type:        models.TxCredit,
				Description: "Consultation settled: " + b.CustomerName,
			},
		}
	} else {
		ops = []ledgerRepo.BalanceOp{
			{AccountID: b.CustomerID, Field: ledgerRepo.FieldWallet, Delta: b.AmountPaid},
			{AccountID: b.DoctorID, Field: ledgerRepo.FieldWaiting, Delta: -escrow},
		}
		logs = []models.Transaction{
			{
				UserID:      b.CustomerID,
				Amount:      b.AmountPaid,
				Type:        models.TxCredit,
				Description: "Refund: consultation shorter than billable minimum",
			},
			{
				UserID:      b.DoctorID,
				Amount:      escrow,
				Type:        models.TxDebit,
				Description: "Escrow reversal: consultation below billable minimum",
			},
		}
	}

	if err := e.Repo.SettleEscrow(ctx, b.ID, ops, logs); err != nil {
		return err
	}

	e.Logger.Info("booking settled",
		zap.String("bookingId", b.ID),
		zap.Int("durationSeconds", b.CallDurationSeconds),
		zap.Bool("released", b.CallDurationSeconds >= e.MinBillableSeconds),
	)
	return nil
}

// ExpireStale refunds accepted bookings whose handshake stalled past the
// accept timeout. A stalled handshake otherwise leaves the booking, and
// the customer's money, stuck in escrow forever.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	if e.AcceptTimeout <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-e.AcceptTimeout)
	stale, err := e.Repo.FindStaleAccepted(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, b := range stale {
		escrow := (1 - e.FeeRate) * b.AmountPaid
		ops := []ledgerRepo.BalanceOp{
			{AccountID: b.CustomerID, Field: ledgerRepo.FieldWallet, Delta: b.AmountPaid},
			{AccountID: b.DoctorID, Field: ledgerRepo.FieldWaiting, Delta: -escrow},
		}
		logs := []models.Transaction{
			{
				UserID:      b.CustomerID,
				Amount:      b.AmountPaid,
				Type:        models.TxCredit,
				Description: "Refund: consultation never connected",
			},
			{
				UserID:      b.DoctorID,
				Amount:      escrow,
				Type:        models.TxDebit,
				Description: "Escrow reversal: consultation never connected",
			},
		}
		if err := e.Repo.ExpireWithRefund(ctx, b.ID, ops, logs); err != nil {
			if errors.Is(err, bookingRepo.ErrInvalidTransition) {
				continue
			}
			e.Logger.Error("expiry failed", zap.String("bookingId", b.ID), zap.Error(err))
			continue
		}
		expired++
		if e.Signaling != nil {
			roomID := booking.RoomID(b.ID)
			if err := e.Signaling.EndRoom(ctx, roomID); err != nil && !errors.Is(err, roomRepo.ErrRoomNotFound) {
				e.Logger.Warn("failed to end expired room", zap.String("roomId", roomID), zap.Error(err))
			}
			if err := e.Signaling.ClearRoom(ctx, roomID); err != nil && !errors.Is(err, roomRepo.ErrRoomNotFound) {
				e.Logger.Warn("failed to clear expired room", zap.String("roomId", roomID), zap.Error(err))
			}
		}
		e.Logger.Info("stale booking expired", zap.String("bookingId", b.ID))
	}
	return expired, nil
}
