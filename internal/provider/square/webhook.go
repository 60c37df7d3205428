package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	SignatureHeader     = "X-Square-Hmacsha256-Signature"
	EventBookingCreated = "booking.created"
)

// WebhookEvent is the envelope Square posts to the notification URL.
type WebhookEvent struct {
	MerchantID string `json:"merchant_id"`
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	Data       struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Object struct {
			Booking *Booking `json:"booking"`
		} `json:"object"`
	} `json:"data"`
}

// VerifySignature checks the HMAC-SHA256 of notificationURL+body against
// the base64 signature header.
func VerifySignature(signatureKey, notificationURL string, body []byte, signature string) bool {
	if signatureKey == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(signatureKey, notificationURL, body)), []byte(signature))
}

func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("square: decode webhook: %w", err)
	}
	return &ev, nil
}

// Sign computes the signature header value for body. Used by tests and
// local tooling that replays webhooks.
func Sign(signatureKey, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(signatureKey))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
