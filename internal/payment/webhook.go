package payment

import (
	"encoding/json"
	"fmt"
)

// Webhook event names the booking core reacts to.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

// WebhookEvent is the part of a gateway webhook body the booking core reads.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// PaymentEntity is one gateway payment.
type PaymentEntity struct {
	ID               string            `json:"id"`
	OrderID          string            `json:"order_id"`
	Amount           int64             `json:"amount"`
	Status           string            `json:"status"`
	ErrorDescription string            `json:"error_description"`
	Notes            map[string]string `json:"notes"`
}

// Payment returns the payment the event is about.
func (e *WebhookEvent) Payment() PaymentEntity { return e.Payload.Payment.Entity }

// ParseWebhook decodes a webhook body.  The signature must be checked with
// VerifyWebhook first.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	if ev.Event == "" {
		return WebhookEvent{}, fmt.Errorf("decode webhook: missing event")
	}
	if ev.Payment().OrderID == "" {
		return WebhookEvent{}, fmt.Errorf("decode webhook %s: missing order id", ev.Event)
	}
	return ev, nil
}
