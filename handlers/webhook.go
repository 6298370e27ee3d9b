package handlers

import (
	"errors"
	"net/http"

	"sakhi/services/wallet"
	"sakhi/utils"

	"github.com/gin-gonic/gin"
)

// WebhookHandler receives payment gateway callbacks. The endpoint is
// unauthenticated; authenticity comes from the HMAC signature over the raw
// request body.
type WebhookHandler struct {
	Wallet *wallet.Service
}

func NewWebhookHandler(w *wallet.Service) *WebhookHandler {
	return &WebhookHandler{Wallet: w}
}

// Payment verifies and processes a gateway event. A bad signature is the only
// client error; everything else acknowledges with 200 so the gateway does not
// retry events we have already inspected.
func (h *WebhookHandler) Payment(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Unreadable body", err.Error())
		return
	}

	sig := c.GetHeader("X-Webhook-Signature")
	if err := h.Wallet.HandleWebhook(c.Request.Context(), payload, sig); err != nil {
		if errors.Is(err, wallet.ErrInvalidSignature) {
			utils.JSONError(c, http.StatusBadRequest, "Invalid signature", "")
			return
		}
		utils.JSONError(c, http.StatusInternalServerError, "Webhook processing failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
