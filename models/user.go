package models

import "time"

// User roles.
const (
	RoleCustomer = "customer"
	RoleDoctor   = "doctor"
)

// DaySchedule holds a doctor's availability window for one weekday.
type DaySchedule struct {
	From string `bson:"from" json:"from"` // "09:00"
	To   string `bson:"to" json:"to"`     // "17:00"
}

// User represents a customer or doctor account. Balance fields are mutated
// only through ledger transfers, never written directly by handlers.
type User struct {
	ID            string `bson:"id" json:"id"`
	Name          string `bson:"name" json:"name"`
	PhoneNumber   string `bson:"phoneNumber" json:"phoneNumber"`
	Role          string `bson:"role" json:"role"`
	PasswordHash  string `bson:"passwordHash" json:"-"`
	LicenseNumber string `bson:"licenseNumber,omitempty" json:"licenseNumber,omitempty"`

	// Customer spendable funds.
	WalletBalance float64 `bson:"walletBalance" json:"walletBalance"`
	// Doctor escrow-held funds, not yet withdrawable.
	WaitingBalance float64 `bson:"waitingBalance" json:"waitingBalance"`
	// Doctor settled, withdrawable funds.
	AccumulatedBalance float64 `bson:"accumulatedBalance" json:"accumulatedBalance"`

	Online      bool                   `bson:"online" json:"online"`
	Rate        float64                `bson:"rate,omitempty" json:"rate,omitempty"` // consultation rate
	Specialty   string                 `bson:"specialty,omitempty" json:"specialty,omitempty"`
	Schedule    map[string]DaySchedule `bson:"schedule,omitempty" json:"schedule,omitempty"`
	FCMToken    string                 `bson:"fcmToken,omitempty" json:"-"`
	CreatedAt   time.Time              `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time              `bson:"updatedAt" json:"updatedAt"`
}

// PayoutRequest is a doctor's withdrawal request against the accumulated
// balance. The debit happens in the same transaction that creates it.
type PayoutRequest struct {
	ID         string    `bson:"id" json:"id"`
	DoctorID   string    `bson:"doctorId" json:"doctorId"`
	DoctorName string    `bson:"doctorName" json:"doctorName"`
	Amount     float64   `bson:"amount" json:"amount"`
	UpiID      string    `bson:"upiId" json:"upiId"`
	Status     string    `bson:"status" json:"status"` // "pending", "paid"
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
}
