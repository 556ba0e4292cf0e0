// Package webhook fans system events out to external subscribers as signed
// HTTP POSTs. Fan-out is durable: each matching webhook gets a delivery row
// and a queue job, so a crash between event and POST loses nothing. Retries
// follow a fixed escalating schedule and give up permanently after five.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignaturePrefix precedes the hex HMAC in the signature header.
const SignaturePrefix = "sha256="

// Delivery header names.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
)

// Sign computes the delivery signature: "sha256=" plus the hex HMAC-SHA256
// of the payload under the webhook secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature in constant time. Subscribers use the same
// routine on their side.
func Verify(secret string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}
