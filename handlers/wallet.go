package handlers

import (
	"errors"
	"net/http"
	"strconv"

	ledgerRepo "sakhi/database/repository/ledger"
	"sakhi/middleware"
	"sakhi/services/user"
	"sakhi/services/wallet"
	"sakhi/utils"

	"github.com/gin-gonic/gin"
)

// WalletHandler exposes balances, top-ups, payouts, and transaction history.
type WalletHandler struct {
	Wallet *wallet.Service
	Users  *user.Service
}

func NewWalletHandler(w *wallet.Service, users *user.Service) *WalletHandler {
	return &WalletHandler{Wallet: w, Users: users}
}

// Balance returns the authenticated user's three ledger balances.
func (h *WalletHandler) Balance(c *gin.Context) {
	u, err := h.Users.GetProfile(c.Request.Context(), c.GetString(middleware.CtxUserID))
	if err != nil {
		utils.JSONError(c, http.StatusNotFound, "Profile not found", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"walletBalance":      u.WalletBalance,
		"waitingBalance":     u.WaitingBalance,
		"accumulatedBalance": u.AccumulatedBalance,
	})
}

// TopUp creates a payment intent for adding funds to the wallet. The wallet
// itself is only credited once the payment gateway's webhook confirms capture.
func (h *WalletHandler) TopUp(c *gin.Context) {
	var in struct {
		Amount float64 `json:"amount" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Invalid input", err.Error())
		return
	}

	order, err := h.Wallet.CreateTopUpIntent(c.Request.Context(), c.GetString(middleware.CtxUserID), in.Amount)
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "Top-up failed", err.Error())
		return
	}
	c.JSON(http.StatusCreated, order)
}

// Payout lets a doctor withdraw from the accumulated balance to a UPI handle.
func (h *WalletHandler) Payout(c *gin.Context) {
	var in struct {
		Amount float64 `json:"amount" binding:"required,gt=0"`
		UpiID  string  `json:"upiId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Invalid input", err.Error())
		return
	}

	req, err := h.Wallet.RequestPayout(c.Request.Context(), c.GetString(middleware.CtxUserID), in.Amount, in.UpiID)
	if err != nil {
		if errors.Is(err, wallet.ErrInvalidPayout) {
			utils.JSONError(c, http.StatusBadRequest, "Invalid payout request", "")
			return
		}
		if errors.Is(err, ledgerRepo.ErrInsufficientFunds) {
			utils.JSONError(c, http.StatusPaymentRequired, "Insufficient accumulated balance", "")
			return
		}
		utils.JSONError(c, http.StatusInternalServerError, "Payout failed", err.Error())
		return
	}
	c.JSON(http.StatusCreated, req)
}

// History lists the authenticated user's ledger transactions, newest first.
func (h *WalletHandler) History(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	txs, err := h.Wallet.History(c.Request.Context(), c.GetString(middleware.CtxUserID), limit)
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "History lookup failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}
