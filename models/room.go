package models

import (
	"encoding/json"
	"time"
)

// Call roles. The doctor initiates the connection offer, the customer answers.
type CallRole string

const (
	RoleInitiator CallRole = "doctor"
	RoleResponder CallRole = "customer"
)

// Other returns the opposite side of the handshake.
func (r CallRole) Other() CallRole {
	if r == RoleInitiator {
		return RoleResponder
	}
	return RoleInitiator
}

// Signal is one signaling payload exchanged during the media handshake:
// a connection offer, a connection answer, or a connectivity candidate.
type Signal struct {
	Type      string          `bson:"type,omitempty" json:"type,omitempty"` // "offer" | "answer" | "" for candidates
	SDP       string          `bson:"sdp,omitempty" json:"sdp,omitempty"`
	Candidate json.RawMessage `bson:"candidate,omitempty" json:"candidate,omitempty"`
}

// IsOffer reports whether the signal carries a connection offer.
func (s Signal) IsOffer() bool { return s.Type == "offer" }

// IsAnswer reports whether the signal carries a connection answer.
func (s Signal) IsAnswer() bool { return s.Type == "answer" }

// IsCandidate reports whether the signal carries a connectivity candidate.
func (s Signal) IsCandidate() bool { return len(s.Candidate) > 0 }

// CallRoom is the shared negotiation record for one booking, keyed by
// "room-<bookingId>". Both parties mutate it during the handshake; the
// ending side sets Ended as the terminal broadcast signal and clears
// offer/answer so a stale record cannot be reused.
type CallRoom struct {
	ID        string     `bson:"id" json:"id"`
	BookingID string     `bson:"bookingId" json:"bookingId"`
	DoctorID  string     `bson:"doctorId" json:"doctorId"`
	Status    string     `bson:"status" json:"status"` // "active" | "ended"
	Offer     *Signal    `bson:"offer,omitempty" json:"offer,omitempty"`
	Answer    *Signal    `bson:"answer,omitempty" json:"answer,omitempty"`
	Ended     bool       `bson:"ended" json:"ended"`
	EndedAt   *time.Time `bson:"endedAt,omitempty" json:"endedAt,omitempty"`
	CreatedAt time.Time  `bson:"createdAt" json:"createdAt"`
}

// Candidate is one connectivity candidate appended to a per-side stream.
// Streams are append-only during the call and purged at teardown.
type Candidate struct {
	ID        string    `bson:"id" json:"id"`
	RoomID    string    `bson:"roomId" json:"roomId"`
	Side      CallRole  `bson:"side" json:"side"`
	Payload   Signal    `bson:"payload" json:"payload"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}
