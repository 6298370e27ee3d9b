package models

// WebhookPaymentEntity mirrors the payment entity the gateway posts to the
// top-up webhook. Amount arrives in minor units (paise).
type WebhookPaymentEntity struct {
	ID     string            `json:"id"`
	Amount int64             `json:"amount"`
	Notes  map[string]string `json:"notes"`
}

// WebhookEvent is the envelope of an inbound gateway notification.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity WebhookPaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// TopUpOrder is returned to the client so it can complete a card checkout.
type TopUpOrder struct {
	IntentID     string  `json:"intentId"`
	ClientSecret string  `json:"clientSecret"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
}
