package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	bookingRepo "sakhi/database/repository/booking"
	roomRepo "sakhi/database/repository/room"
	"sakhi/middleware"
	"sakhi/models"
	"sakhi/services/booking"
	"sakhi/utils"

	"github.com/gin-gonic/gin"
)

// CallHandler is the signaling relay surface. Clients read and write the
// shared negotiation record through it; the handshake logic itself runs on
// the devices.
type CallHandler struct {
	Bookings  booking.Service
	Signaling roomRepo.Signaling
}

func NewCallHandler(svc booking.Service, sig roomRepo.Signaling) *CallHandler {
	return &CallHandler{Bookings: svc, Signaling: sig}
}

// participant loads the booking and resolves the caller's side of the call.
// Only the booking's doctor and customer may touch its room.
func (h *CallHandler) participant(c *gin.Context) (*models.Booking, models.CallRole, bool) {
	b, err := h.Bookings.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, bookingRepo.ErrBookingNotFound) {
			utils.JSONError(c, http.StatusNotFound, "Booking not found", "")
		} else {
			utils.JSONError(c, http.StatusInternalServerError, "Lookup failed", err.Error())
		}
		return nil, "", false
	}
	switch c.GetString(middleware.CtxUserID) {
	case b.DoctorID:
		return b, models.RoleInitiator, true
	case b.CustomerID:
		return b, models.RoleResponder, true
	default:
		utils.JSONError(c, http.StatusForbidden, "Not a participant of this booking", "")
		return nil, "", false
	}
}

// Room returns the negotiation record plus a joinable flag so clients can
// gate their call button on booking state.
func (h *CallHandler) Room(c *gin.Context) {
	b, side, ok := h.participant(c)
	if !ok {
		return
	}

	room, err := h.Signaling.GetRoom(c.Request.Context(), booking.RoomID(b.ID))
	if err != nil {
		if errors.Is(err, roomRepo.ErrRoomNotFound) {
			utils.JSONError(c, http.StatusNotFound, "Call room not provisioned", "")
			return
		}
		utils.JSONError(c, http.StatusInternalServerError, "Room lookup failed", err.Error())
		return
	}

	joinable := !room.Ended &&
		(b.Status == models.BookingAccepted || b.Status == models.BookingInCall)
	c.JSON(http.StatusOK, gin.H{"room": room, "side": side, "joinable": joinable})
}

// Signal writes one handshake payload to the shared record. Offers are only
// accepted from the doctor side and answers from the customer side;
// candidates append to the sender's stream.
func (h *CallHandler) Signal(c *gin.Context) {
	b, side, ok := h.participant(c)
	if !ok {
		return
	}

	var sig models.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Invalid signal", err.Error())
		return
	}

	roomID := booking.RoomID(b.ID)
	ctx := c.Request.Context()

	var err error
	switch {
	case sig.IsOffer():
		if side != models.RoleInitiator {
			utils.JSONError(c, http.StatusForbidden, "Only the doctor may send an offer", "")
			return
		}
		err = h.Signaling.SetOffer(ctx, roomID, sig)
	case sig.IsAnswer():
		if side != models.RoleResponder {
			utils.JSONError(c, http.StatusForbidden, "Only the customer may send an answer", "")
			return
		}
		err = h.Signaling.SetAnswer(ctx, roomID, sig)
	case sig.IsCandidate():
		err = h.Signaling.AddCandidate(ctx, roomID, side, sig)
	default:
		utils.JSONError(c, http.StatusBadRequest, "Empty signal", "")
		return
	}
	if err != nil {
		if errors.Is(err, roomRepo.ErrRoomNotFound) {
			utils.JSONError(c, http.StatusNotFound, "Call room not provisioned", "")
			return
		}
		utils.JSONError(c, http.StatusInternalServerError, "Signal write failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Events streams the other side's signaling to the caller as server-sent
// events: the negotiation record whenever it changes and every remote
// candidate. The stream closes when the room ends or the client disconnects.
func (h *CallHandler) Events(c *gin.Context) {
	b, side, ok := h.participant(c)
	if !ok {
		return
	}

	roomID := booking.RoomID(b.ID)
	ctx := c.Request.Context()

	rooms, stopRoom, err := h.Signaling.WatchRoom(ctx, roomID)
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "Room watch failed", err.Error())
		return
	}
	defer stopRoom()

	cands, stopCands, err := h.Signaling.WatchCandidates(ctx, roomID, side.Other())
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "Candidate watch failed", err.Error())
		return
	}
	defer stopCands()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case room, open := <-rooms:
			if !open {
				return false
			}
			c.SSEvent("room", room)
			return !room.Ended
		case cand, open := <-cands:
			if !open {
				return false
			}
			c.SSEvent("candidate", cand)
			return true
		case <-time.After(25 * time.Second):
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}
