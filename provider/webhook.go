package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Event is the webhook payload the provider delivers on stream lifecycle changes.
// Delivery is at-least-once; consumers must treat every event as possibly duplicated.
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"event"`
	Timestamp int64  `json:"timestamp"`
	Payload   struct {
		StreamID   string `json:"streamId"`
		Viewers    int    `json:"viewers,omitempty"`
		Bitrate    int    `json:"bitrate,omitempty"`
		Resolution string `json:"resolution,omitempty"`
	} `json:"payload"`
}

// ParseEvent decodes a webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	if ev.Type == "" || ev.Payload.StreamID == "" {
		return nil, fmt.Errorf("webhook event missing type or stream id")
	}
	return &ev, nil
}

// Sign computes the hex HMAC-SHA256 of body under secret. Exposed for tests and
// for any future outbound signing.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature header against the raw body using a
// constant-time compare. An empty secret disables verification (dev mode).
func VerifySignature(secret, signature string, body []byte) bool {
	if secret == "" {
		return true
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
