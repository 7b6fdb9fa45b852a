// Package payment talks to a Razorpay-compatible payment gateway: order
// creation over its REST API and HMAC verification of checkout callbacks
// and webhooks.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/9bishal/movie-booking-system-sub000/internal/config"
)

// Client is the gateway client used by the booking service.
type Client struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	currency      string
	http          *http.Client
}

// NewClient builds a Client from cfg.
func NewClient(cfg config.PaymentConfig) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.APIURL, "/"),
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		currency:      cfg.Currency,
		http:          &http.Client{Timeout: cfg.Timeout},
	}
}

type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates a gateway order for amountCents in the configured
// currency and returns its id.
func (c *Client) CreateOrder(ctx context.Context, amountCents int64, receipt string, metadata map[string]string) (string, error) {
	body, err := json.Marshal(orderRequest{Amount: amountCents, Currency: c.currency, Receipt: receipt, Notes: metadata})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read order response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Error.Description != "" {
			return "", fmt.Errorf("create order: %s: %s (%d)", ae.Error.Code, ae.Error.Description, resp.StatusCode)
		}
		return "", fmt.Errorf("create order: unexpected status %d", resp.StatusCode)
	}
	var out orderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode order response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("create order: response without id")
	}
	return out.ID, nil
}

// VerifySignature checks the signature the checkout returns to the browser:
// hex(HMAC-SHA256(orderID + "|" + paymentID, key secret)).
func (c *Client) VerifySignature(orderID, paymentID, signature string) bool {
	return verify(c.keySecret, []byte(orderID+"|"+paymentID), signature)
}

// VerifyWebhook checks the X-Razorpay-Signature header of a webhook body.
// A client without a webhook secret rejects everything.
func (c *Client) VerifyWebhook(body []byte, signature string) bool {
	return verify(c.webhookSecret, body, signature)
}

// Sign returns the signature VerifySignature accepts.  It is exported for
// test clients and local tooling.
func Sign(secret string, message []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(message)
	return hex.EncodeToString(m.Sum(nil))
}

func verify(secret string, message []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(message)
	return hmac.Equal(m.Sum(nil), want)
}
