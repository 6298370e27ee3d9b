package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingRepo "sakhi/database/repository/booking"
	ledgerRepo "sakhi/database/repository/ledger"
	roomRepo "sakhi/database/repository/room"
	userRepo "sakhi/database/repository/user"
	"sakhi/models"
	"sakhi/services/notification"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotBookingDoctor is returned when a doctor acts on a booking that is
// not theirs.
var ErrNotBookingDoctor = errors.New("booking belongs to another doctor")

// ErrInsufficientFunds mirrors the ledger error for callers that only
// import the service layer.
var ErrInsufficientFunds = ledgerRepo.ErrInsufficientFunds

// Service drives the consultation booking lifecycle. Money moves only in
// Create (escrow hold) and Decline (full refund); completion settlement
// belongs to the settlement engine.
type Service interface {
	Create(ctx context.Context, customerID, doctorID string) (*models.Booking, error)
	Accept(ctx context.Context, doctorID, bookingID string) (*models.Booking, error)
	Decline(ctx context.Context, doctorID, bookingID string) error

	// CallStart transitions accepted -> in_call on first media flow.
	CallStart(ctx context.Context, bookingID string, at time.Time) error
	// CallEnd records the measured duration and completes the booking.
	// It does not settle payment.
	CallEnd(ctx context.Context, bookingID string, endedAt time.Time, durationSeconds int) error

	GetByID(ctx context.Context, id string) (*models.Booking, error)
	ListForCustomer(ctx context.Context, customerID string) ([]models.Booking, error)
	ListForDoctor(ctx context.Context, doctorID string, statuses []string) ([]models.Booking, error)

	AttachPrescription(ctx context.Context, doctorID, bookingID string, p models.Prescription) error
}

// DefaultBookingService is the production implementation.
type DefaultBookingService struct {
	Repo      bookingRepo.Repository
	Users     userRepo.Repository
	Signaling roomRepo.Signaling
	Notifier  notification.Service
	Logger    *zap.Logger

	// FeeRate is the platform's share of every consultation, e.g. 0.10.
	FeeRate float64
}

// RoomID derives the negotiation record key for a booking.
func RoomID(bookingID string) string {
	return "room-" + bookingID
}

func (s *DefaultBookingService) Create(ctx context.Context, customerID, doctorID string) (*models.Booking, error) {
	customer, err := s.Users.GetByID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("booking create: customer lookup: %w", err)
	}
	doctor, err := s.Users.GetByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("booking create: doctor lookup: %w", err)
	}

	rate := doctor.Rate
	if rate <= 0 {
		rate = 100
	}
	if customer.WalletBalance < rate {
		return nil, ErrInsufficientFunds
	}

	escrow := (1 - s.FeeRate) * rate

	b := &models.Booking{
		ID:            uuid.New().String(),
		CustomerID:    customerID,
		DoctorID:      doctorID,
		CustomerName:  customer.Name,
		DoctorName:    doctor.Name,
		AmountPaid:    rate,
		Status:        models.BookingPending,
		PaymentStatus: models.PaymentEscrow,
	}

	ops := []ledgerRepo.BalanceOp{
		{AccountID: customerID, Field: ledgerRepo.FieldWallet, Delta: -rate},
		{AccountID: doctorID, Field: ledgerRepo.FieldWaiting, Delta: escrow},
	}
	logs := []models.Transaction{
		{
			UserID:      customerID,
			Amount:      rate,
			Type:        models.TxDebit,
			Description: "Consultation with " + doctor.Name,
		},
		{
			UserID:      doctorID,
			Amount:      escrow,
			Type:        models.TxPendingCredit,
			Description: "Escrow hold for consultation with " + customer.Name,
		},
	}

	if err := s.Repo.CreateWithEscrow(ctx, b, ops, logs); err != nil {
		return nil, err
	}

	s.Logger.Info("booking created",
		zap.String("bookingId", b.ID),
		zap.String("customerId", customerID),
		zap.String("doctorId", doctorID),
		zap.Float64("amount", rate),
	)
	return b, nil
}

func (s *DefaultBookingService) Accept(ctx context.Context, doctorID, bookingID string) (*models.Booking, error) {
	b, err := s.Repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.DoctorID != doctorID {
		return nil, ErrNotBookingDoctor
	}

	roomID := RoomID(bookingID)
	room := &models.CallRoom{
		ID:        roomID,
		BookingID: bookingID,
		DoctorID:  doctorID,
		Status:    "active",
	}
	if err := s.Signaling.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	if err := s.Repo.MarkAccepted(ctx, bookingID, roomID); err != nil {
		return nil, err
	}
	b.Status = models.BookingAccepted
	b.VideoRoomID = roomID

	s.notify(ctx, b.CustomerID, "Booking accepted",
		b.DoctorName+" accepted your consultation. Join the call now.",
		map[string]string{"bookingId": bookingID, "roomId": roomID, "type": "booking_accepted"})

	s.Logger.Info("booking accepted", zap.String("bookingId", bookingID), zap.String("roomId", roomID))
	return b, nil
}

func (s *DefaultBookingService) Decline(ctx context.Context, doctorID, bookingID string) error {
	b, err := s.Repo.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.DoctorID != doctorID {
		return ErrNotBookingDoctor
	}

	escrow := (1 - s.FeeRate) * b.AmountPaid
	ops := []ledgerRepo.BalanceOp{
		{AccountID: b.CustomerID, Field: ledgerRepo.FieldWallet, Delta: b.AmountPaid},
		{AccountID: b.DoctorID, Field: ledgerRepo.FieldWaiting, Delta: -escrow},
	}
	logs := []models.Transaction{
		{
			UserID:      b.CustomerID,
			Amount:      b.AmountPaid,
			Type:        models.TxCredit,
			Description: "Refund: consultation declined by " + b.DoctorName,
		},
		{
			UserID:      b.DoctorID,
			Amount:      escrow,
			Type:        models.TxDebit,
			Description: "Escrow reversal: declined consultation",
		},
	}

	if err := s.Repo.DeclineWithRefund(ctx, bookingID, ops, logs); err != nil {
		return err
	}

	s.notify(ctx, b.CustomerID, "Booking declined",
		b.DoctorName+" declined your consultation. Your wallet was refunded.",
		map[string]string{"bookingId": bookingID, "type": "booking_declined"})

	s.Logger.Info("booking declined and refunded", zap.String("bookingId", bookingID))
	return nil
}

func (s *DefaultBookingService) CallStart(ctx context.Context, bookingID string, at time.Time) error {
	return s.Repo.MarkInCall(ctx, bookingID, at)
}

func (s *DefaultBookingService) CallEnd(ctx context.Context, bookingID string, endedAt time.Time, durationSeconds int) error {
	if err := s.Repo.MarkCompleted(ctx, bookingID, endedAt, durationSeconds); err != nil {
		return err
	}
	s.Logger.Info("call ended",
		zap.String("bookingId", bookingID),
		zap.Int("durationSeconds", durationSeconds),
	)
	return nil
}

func (s *DefaultBookingService) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	return s.Repo.GetByID(ctx, id)
}

func (s *DefaultBookingService) ListForCustomer(ctx context.Context, customerID string) ([]models.Booking, error) {
	return s.Repo.ListByCustomer(ctx, customerID)
}

func (s *DefaultBookingService) ListForDoctor(ctx context.Context, doctorID string, statuses []string) ([]models.Booking, error) {
	return s.Repo.ListByDoctorStatus(ctx, doctorID, statuses)
}

func (s *DefaultBookingService) AttachPrescription(ctx context.Context, doctorID, bookingID string, p models.Prescription) error {
	b, err := s.Repo.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.DoctorID != doctorID {
		return ErrNotBookingDoctor
	}
	p.UploadedAt = time.Now().UTC()
	return s.Repo.AppendPrescription(ctx, bookingID, p)
}

// notify sends a best-effort push; failures are logged, never surfaced.
func (s *DefaultBookingService) notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendUserPushNotification(ctx, userID, title, body, data); err != nil {
		s.Logger.Debug("push notification failed", zap.String("userId", userID), zap.Error(err))
	}
}
