package models

import "time"

// Booking statuses.
const (
	BookingPending   = "pending"
	BookingAccepted  = "accepted"
	BookingDeclined  = "declined"
	BookingInCall    = "in_call"
	BookingCompleted = "completed"
	// BookingExpired is entered when an accepted booking saw no call
	// activity within the accept timeout. Terminal, fully refunded.
	BookingExpired = "expired"
)

// Payment statuses.
const (
	PaymentEscrow   = "escrow"
	PaymentComplete = "complete"
)

// Prescription is a file attached to a completed consultation.
type Prescription struct {
	Name       string    `bson:"name" json:"name"`
	URL        string    `bson:"url" json:"url"`
	Type       string    `bson:"type" json:"type"`
	UploadedAt time.Time `bson:"uploadedAt" json:"uploadedAt"`
}

// Booking is the central consultation entity. AmountPaid is immutable once
// the booking exists; PaymentStatus is owned exclusively by the settlement
// engine. Bookings are never deleted.
type Booking struct {
	ID           string  `bson:"id" json:"id"`
	CustomerID   string  `bson:"customerId" json:"customerId"`
	DoctorID     string  `bson:"doctorId" json:"doctorId"`
	CustomerName string  `bson:"customerName" json:"customerName"`
	DoctorName   string  `bson:"doctorName" json:"doctorName"`
	AmountPaid   float64 `bson:"amountPaid" json:"amountPaid"`

	Status        string `bson:"status" json:"status"`
	PaymentStatus string `bson:"paymentStatus" json:"paymentStatus"`

	VideoRoomID         string     `bson:"videoRoomId,omitempty" json:"videoRoomId,omitempty"`
	CallStartedAt       *time.Time `bson:"callStartedAt,omitempty" json:"callStartedAt,omitempty"`
	CallEndedAt         *time.Time `bson:"callEndedAt,omitempty" json:"callEndedAt,omitempty"`
	CallDurationSeconds int        `bson:"callDurationSeconds" json:"callDurationSeconds"`

	Prescriptions     []Prescription `bson:"prescriptions,omitempty" json:"prescriptions,omitempty"`
	PrescriptionCount int            `bson:"prescriptionCount" json:"prescriptionCount"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
