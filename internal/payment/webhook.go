package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Signature"

var (
	ErrBadSignature  = errors.New("invalid webhook signature")
	ErrUnknownStatus = errors.New("unknown payment status")
)

// Notification is a gateway callback after normalisation.  OrderID is the
// attempt id sent as orderId when the checkout was created.
type Notification struct {
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
}

// Sign returns the signature the gateway is expected to send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks sig against body in constant time.
func VerifySignature(secret string, body []byte, sig string) bool {
	if secret == "" || sig == "" {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sig), "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// ParseNotification decodes a webhook body and folds the gateway's status
// vocabulary into "completed" or "failed".
func ParseNotification(body []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.OrderID == "" && n.TransactionID == "" {
		return Notification{}, errors.New("notification without orderId or transactionId")
	}
	raw := strings.ToLower(strings.TrimSpace(n.Status))
	switch raw {
	case "completed", "success", "succeeded", "paid", "approved":
		n.Status = StatusCompleted
	case "failed", "declined", "canceled", "cancelled", "expired", "error":
		n.Status = StatusFailed
		if n.Reason == "" {
			n.Reason = raw
		}
	default:
		return Notification{}, fmt.Errorf("%w: %q", ErrUnknownStatus, n.Status)
	}
	return n, nil
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// nonRetryable lists failure reasons after which the session is cancelled
// instead of offering the payment options again.
var nonRetryable = map[string]bool{
	"fraud_block":  true,
	"card_blocked": true,
	"stolen_card":  true,
	"lost_card":    true,
}

// Retryable reports whether a failure with reason allows a new attempt.
func Retryable(reason string) bool {
	return !nonRetryable[strings.ToLower(reason)]
}
