package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	ledgerRepo "sakhi/database/repository/ledger"
	userRepo "sakhi/database/repository/user"
	"sakhi/models"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"go.uber.org/zap"
)

// EventPaymentCaptured is the only webhook event that credits a wallet.
const EventPaymentCaptured = "payment.captured"

// ErrInvalidPayout is returned for malformed withdrawal requests.
var ErrInvalidPayout = errors.New("invalid payout request")

// Service handles wallet top-ups and doctor withdrawals.
type Service struct {
	Ledger        ledgerRepo.Repository
	Users         userRepo.Repository
	Logger        *zap.Logger
	WebhookSecret string
}

// HandleWebhook verifies and processes one inbound gateway notification.
// Verification failure is the only error that reaches the HTTP layer as a
// rejection; a credit failure after a valid signature is logged and
// swallowed, matching the gateway's retry-visible semantics.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if err := VerifySignature(payload, signature, s.WebhookSecret); err != nil {
		s.Logger.Warn("webhook rejected: bad signature")
		return err
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.Logger.Warn("webhook payload malformed", zap.Error(err))
		return nil
	}
	if event.Event != EventPaymentCaptured {
		return nil
	}

	entity := event.Payload.Payment.Entity
	userID := entity.Notes["userId"]
	if userID == "" {
		s.Logger.Warn("webhook payment has no userId note", zap.String("paymentId", entity.ID))
		return nil
	}
	// Gateway amounts arrive in minor units.
	amount := float64(entity.Amount) / 100

	ops := []ledgerRepo.BalanceOp{
		{AccountID: userID, Field: ledgerRepo.FieldWallet, Delta: amount},
	}
	logs := []models.Transaction{
		{
			ID:          uuid.New().String(),
			UserID:      userID,
			Amount:      amount,
			Type:        models.TxCredit,
			Description: "Wallet top-up (verified)",
			PaymentID:   entity.ID,
		},
	}
	if err := s.Ledger.Transfer(ctx, ops, logs); err != nil {
		s.Logger.Error("wallet credit failed",
			zap.String("userId", userID),
			zap.String("paymentId", entity.ID),
			zap.Error(err),
		)
		return nil
	}

	s.Logger.Info("wallet topped up",
		zap.String("userId", userID),
		zap.Float64("amount", amount),
	)
	return nil
}

// CreateTopUpIntent creates a card checkout intent carrying the user's ID
// so a capture webhook can attribute the payment. The wallet is credited
// only through HandleWebhook's payment.captured envelope; Stripe's own
// event stream is not consumed directly.
// TODO: map Stripe payment_intent.succeeded events into the webhook
// credit path so card captures settle without a gateway in between.
func (s *Service) CreateTopUpIntent(ctx context.Context, userID string, amount float64) (*models.TopUpOrder, error) {
	if amount < 10 {
		return nil, fmt.Errorf("minimum top-up amount is 10")
	}
	if _, err := s.Users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(amount * 100)),
		Currency: stripe.String(string(stripe.CurrencyINR)),
	}
	params.AddMetadata("userId", userID)
	params.AddMetadata("type", "wallet_recharge")

	intent, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create top-up intent: %w", err)
	}

	return &models.TopUpOrder{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       amount,
		Currency:     string(intent.Currency),
	}, nil
}

// RequestPayout creates a withdrawal request for a doctor and debits the
// accumulated balance in the same transaction.
func (s *Service) RequestPayout(ctx context.Context, doctorID string, amount float64, upiID string) (*models.PayoutRequest, error) {
	if amount <= 0 || !strings.Contains(upiID, "@") {
		return nil, ErrInvalidPayout
	}
	doctor, err := s.Users.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if amount > doctor.AccumulatedBalance {
		return nil, ledgerRepo.ErrInsufficientFunds
	}

	req := &models.PayoutRequest{
		DoctorID:   doctorID,
		DoctorName: doctor.Name,
		Amount:     amount,
		UpiID:      upiID,
		Status:     "pending",
	}
	ops := []ledgerRepo.BalanceOp{
		{AccountID: doctorID, Field: ledgerRepo.FieldAccumulated, Delta: -amount},
	}
	logs := []models.Transaction{
		{
			UserID:      doctorID,
			Amount:      amount,
			Type:        models.TxDebit,
			Description: "Withdrawal to " + upiID,
		},
	}
	if err := s.Users.CreatePayoutRequest(ctx, req, ops, logs); err != nil {
		return nil, err
	}

	s.Logger.Info("payout requested",
		zap.String("doctorId", doctorID),
		zap.Float64("amount", amount),
	)
	return req, nil
}

// History returns a user's recent wallet activity.
func (s *Service) History(ctx context.Context, userID string, limit int64) ([]models.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.Ledger.History(ctx, userID, limit)
}
