package userRepo

import (
	"context"
	"errors"

	ledgerRepo "sakhi/database/repository/ledger"
	"sakhi/models"
)

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// Repository persists user accounts. Balance fields are never written here;
// they belong to the ledger.
type Repository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	ListOnlineDoctors(ctx context.Context) ([]models.User, error)

	SetOnline(ctx context.Context, id string, online bool) error
	SetSchedule(ctx context.Context, id string, schedule map[string]models.DaySchedule) error
	SetFCMToken(ctx context.Context, id, token string) error

	// CreatePayoutRequest inserts the payout record and debits the doctor's
	// accumulated balance in one transaction; the ledger floor check rejects
	// over-withdrawal.
	CreatePayoutRequest(ctx context.Context, req *models.PayoutRequest, ops []ledgerRepo.BalanceOp, logs []models.Transaction) error
}
