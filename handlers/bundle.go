package handlers

// HandlerBundle groups all endpoint handlers into one struct so route
// registration takes a single dependency.
type HandlerBundle struct {
	Auth    *AuthHandler
	Booking *BookingHandler
	Wallet  *WalletHandler
	Call    *CallHandler
	Webhook *WebhookHandler
}
