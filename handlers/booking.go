package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	bookingRepo "sakhi/database/repository/booking"
	roomRepo "sakhi/database/repository/room"
	"sakhi/middleware"
	"sakhi/models"
	"sakhi/services/booking"
	"sakhi/services/storage"
	"sakhi/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookingHandler exposes the consultation booking lifecycle over HTTP.
type BookingHandler struct {
	Bookings  booking.Service
	Storage   storage.StorageService
	Signaling roomRepo.Signaling
	Logger    *zap.Logger
}

func NewBookingHandler(svc booking.Service, store storage.StorageService, sig roomRepo.Signaling, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{Bookings: svc, Storage: store, Signaling: sig, Logger: logger}
}

// Create books a consultation with the given doctor. The customer's wallet is
// debited and the fee held in escrow before the doctor is notified.
func (h *BookingHandler) Create(c *gin.Context) {
	var in struct {
		DoctorID string `json:"doctorId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Invalid input", err.Error())
		return
	}

	b, err := h.Bookings.Create(c.Request.Context(), c.GetString(middleware.CtxUserID), in.DoctorID)
	if err != nil {
		if errors.Is(err, booking.ErrInsufficientFunds) {
			utils.JSONError(c, http.StatusPaymentRequired, "Insufficient wallet balance", "")
			return
		}
		utils.JSONError(c, http.StatusInternalServerError, "Booking failed", err.Error())
		return
	}
	c.JSON(http.StatusCreated, b)
}

// Accept transitions a pending booking to accepted and provisions its call room.
func (h *BookingHandler) Accept(c *gin.Context) {
	b, err := h.Bookings.Accept(c.Request.Context(), c.GetString(middleware.CtxUserID), c.Param("id"))
	if err != nil {
		h.writeLifecycleError(c, err, "Accept failed")
		return
	}
	c.JSON(http.StatusOK, b)
}

// Decline rejects a pending booking and refunds the customer in full.
func (h *BookingHandler) Decline(c *gin.Context) {
	if err := h.Bookings.Decline(c.Request.Context(), c.GetString(middleware.CtxUserID), c.Param("id")); err != nil {
		h.writeLifecycleError(c, err, "Decline failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "declined"})
}

func (h *BookingHandler) Get(c *gin.Context) {
	b, err := h.Bookings.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, bookingRepo.ErrBookingNotFound) {
			utils.JSONError(c, http.StatusNotFound, "Booking not found", "")
			return
		}
		utils.JSONError(c, http.StatusInternalServerError, "Lookup failed", err.Error())
		return
	}
	uid := c.GetString(middleware.CtxUserID)
	if b.CustomerID != uid && b.DoctorID != uid {
		utils.JSONError(c, http.StatusForbidden, "Not a participant of this booking", "")
		return
	}
	c.JSON(http.StatusOK, b)
}

// MyBookings lists the authenticated customer's bookings, newest first.
func (h *BookingHandler) MyBookings(c *gin.Context) {
	list, err := h.Bookings.ListForCustomer(c.Request.Context(), c.GetString(middleware.CtxUserID))
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "Listing failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": list})
}

// DoctorBookings lists the authenticated doctor's bookings. The optional
// "status" query accepts a comma separated list; the default is the active
// set (pending, accepted, in_call).
func (h *BookingHandler) DoctorBookings(c *gin.Context) {
	statuses := []string{models.BookingPending, models.BookingAccepted, models.BookingInCall}
	if q := c.Query("status"); q != "" {
		statuses = strings.Split(q, ",")
	}
	list, err := h.Bookings.ListForDoctor(c.Request.Context(), c.GetString(middleware.CtxUserID), statuses)
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "Listing failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": list})
}

// UploadPrescription accepts a multipart file from the booking's doctor,
// stores it, and appends the resulting record to the booking.
func (h *BookingHandler) UploadPrescription(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Missing file", err.Error())
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if !storage.AllowedPrescriptionType(mimeType) {
		utils.JSONError(c, http.StatusUnsupportedMediaType, "Unsupported file type", mimeType)
		return
	}

	bookingID := c.Param("id")
	name := uuid.New().String() + "-" + header.Filename
	url, err := h.Storage.Upload(c.Request.Context(), file, "prescriptions/"+bookingID, name)
	if err != nil {
		h.Logger.Error("prescription upload failed", zap.String("bookingId", bookingID), zap.Error(err))
		utils.JSONError(c, http.StatusInternalServerError, "Upload failed", err.Error())
		return
	}

	p := models.Prescription{
		Name: header.Filename,
		URL:  url,
		Type: mimeType,
	}
	if err := h.Bookings.AttachPrescription(c.Request.Context(), c.GetString(middleware.CtxUserID), bookingID, p); err != nil {
		h.writeLifecycleError(c, err, "Attach failed")
		return
	}
	c.JSON(http.StatusCreated, p)
}

// EndCall closes an in-progress call from the HTTP surface. Duration is
// computed from the recorded call start; a call that never produced media
// settles as zero seconds.
func (h *BookingHandler) EndCall(c *gin.Context) {
	bookingID := c.Param("id")
	b, err := h.Bookings.GetByID(c.Request.Context(), bookingID)
	if err != nil {
		if errors.Is(err, bookingRepo.ErrBookingNotFound) {
			utils.JSONError(c, http.StatusNotFound, "Booking not found", "")
			return
		}
		utils.JSONError(c, http.StatusInternalServerError, "Lookup failed", err.Error())
		return
	}
	uid := c.GetString(middleware.CtxUserID)
	if b.CustomerID != uid && b.DoctorID != uid {
		utils.JSONError(c, http.StatusForbidden, "Not a participant of this booking", "")
		return
	}

	now := time.Now().UTC()
	duration := 0
	if b.CallStartedAt != nil {
		duration = int(now.Sub(*b.CallStartedAt).Seconds())
	}
	if err := h.Bookings.CallEnd(c.Request.Context(), bookingID, now, duration); err != nil {
		h.writeLifecycleError(c, err, "End failed")
		return
	}

	// Mark the negotiation record ended so a party still watching the room
	// observes the hang-up, then purge it so it cannot be reused.
	roomID := b.VideoRoomID
	if roomID == "" {
		roomID = booking.RoomID(bookingID)
	}
	ctx := c.Request.Context()
	if err := h.Signaling.EndRoom(ctx, roomID); err != nil && !errors.Is(err, roomRepo.ErrRoomNotFound) {
		h.Logger.Warn("failed to end room", zap.String("roomId", roomID), zap.Error(err))
	}
	if err := h.Signaling.ClearRoom(ctx, roomID); err != nil && !errors.Is(err, roomRepo.ErrRoomNotFound) {
		h.Logger.Warn("failed to clear room", zap.String("roomId", roomID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"status": "completed", "durationSeconds": duration})
}

func (h *BookingHandler) writeLifecycleError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, bookingRepo.ErrBookingNotFound):
		utils.JSONError(c, http.StatusNotFound, "Booking not found", "")
	case errors.Is(err, booking.ErrNotBookingDoctor):
		utils.JSONError(c, http.StatusForbidden, "Booking belongs to another doctor", "")
	case errors.Is(err, bookingRepo.ErrInvalidTransition):
		utils.JSONError(c, http.StatusConflict, "Booking is not in a valid state for this action", "")
	default:
		utils.JSONError(c, http.StatusInternalServerError, msg, err.Error())
	}
}
