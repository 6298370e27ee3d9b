package wallet

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrInvalidSignature is returned when a webhook payload fails HMAC
// verification. The request must be rejected before any side effect.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifySignature recomputes the HMAC-SHA256 hex digest of the raw payload
// and compares it to the claimed signature in constant time.
func VerifySignature(payload []byte, signature, secret string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
