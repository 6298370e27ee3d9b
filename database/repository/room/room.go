package roomRepo

import (
	"context"
	"errors"

	"sakhi/models"
)

// ErrRoomNotFound is returned when no negotiation record matches the ID.
var ErrRoomNotFound = errors.New("room not found")

// Signaling is the shared-record side of the media handshake: one
// negotiation record plus two per-side candidate streams per booking.
// Watch channels deliver until the returned stop function is called or the
// context is cancelled; streams are append-only and delivered in append
// order, with re-delivery possible around stream restarts.
type Signaling interface {
	CreateRoom(ctx context.Context, room *models.CallRoom) error
	GetRoom(ctx context.Context, roomID string) (*models.CallRoom, error)

	SetOffer(ctx context.Context, roomID string, offer models.Signal) error
	SetAnswer(ctx context.Context, roomID string, answer models.Signal) error
	AddCandidate(ctx context.Context, roomID string, side models.CallRole, payload models.Signal) error

	// WatchRoom delivers the current record followed by every subsequent
	// update of it.
	WatchRoom(ctx context.Context, roomID string) (<-chan models.CallRoom, func(), error)

	// WatchCandidates delivers the already-appended candidates of one side
	// followed by new appends as they arrive.
	WatchCandidates(ctx context.Context, roomID string, side models.CallRole) (<-chan models.Candidate, func(), error)

	// EndRoom marks the record ended, the terminal broadcast signal the
	// passive side reacts to.
	EndRoom(ctx context.Context, roomID string) error

	// ClearRoom purges both candidate streams and clears offer/answer so a
	// stale record cannot be reused.
	ClearRoom(ctx context.Context, roomID string) error
}
