package handlers

import (
	"errors"
	"net/http"
	"strings"

	"sakhi/middleware"
	"sakhi/models"
	"sakhi/services/user"
	"sakhi/utils"

	"github.com/gin-gonic/gin"
)

// AuthHandler exposes registration, login, and profile endpoints.
type AuthHandler struct {
	Users *user.Service
}

func NewAuthHandler(users *user.Service) *AuthHandler {
	return &AuthHandler{Users: users}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var in user.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Invalid input", err.Error())
		return
	}

	u, token, err := h.Users.Register(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, user.ErrPhoneTaken) {
			utils.JSONError(c, http.StatusConflict, "Phone number already registered", "")
			return
		}
		utils.JSONError(c, http.StatusInternalServerError, "Registration failed", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": u, "token": token})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var in struct {
		PhoneNumber string `json:"phoneNumber" binding:"required"`
		Password    string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Invalid input", err.Error())
		return
	}

	u, token, err := h.Users.Login(c.Request.Context(), in.PhoneNumber, in.Password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			utils.JSONError(c, http.StatusUnauthorized, "Invalid phone number or password", "")
			return
		}
		utils.JSONError(c, http.StatusInternalServerError, "Login failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "token": token})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if err := h.Users.Logout(token); err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "Logout failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	u, err := h.Users.GetProfile(c.Request.Context(), c.GetString(middleware.CtxUserID))
	if err != nil {
		utils.JSONError(c, http.StatusNotFound, "Profile not found", err.Error())
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *AuthHandler) RegisterDevice(c *gin.Context) {
	var in struct {
		FCMToken string `json:"fcmToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Invalid input", err.Error())
		return
	}
	if err := h.Users.RegisterDevice(c.Request.Context(), c.GetString(middleware.CtxUserID), in.FCMToken); err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "Device registration failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListOnlineDoctors returns doctors currently accepting bookings.
func (h *AuthHandler) ListOnlineDoctors(c *gin.Context) {
	doctors, err := h.Users.ListOnlineDoctors(c.Request.Context())
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "Failed to list doctors", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"doctors": doctors})
}

// SetOnline toggles the authenticated doctor's availability.
func (h *AuthHandler) SetOnline(c *gin.Context) {
	var in struct {
		Online *bool `json:"online" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Invalid input", err.Error())
		return
	}
	if err := h.Users.SetOnline(c.Request.Context(), c.GetString(middleware.CtxUserID), *in.Online); err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "Status update failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": *in.Online})
}

// SaveSchedule stores the authenticated doctor's weekly schedule.
func (h *AuthHandler) SaveSchedule(c *gin.Context) {
	var in struct {
		Schedule map[string]models.DaySchedule `json:"schedule" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Invalid input", err.Error())
		return
	}
	if err := h.Users.SaveSchedule(c.Request.Context(), c.GetString(middleware.CtxUserID), in.Schedule); err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "Schedule update failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
