package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider talks to an external payment gateway over its REST API.
type HTTPProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{BaseURL: baseURL, APIKey: apiKey, Client: &http.Client{Timeout: 15 * time.Second}}
}

func (p *HTTPProvider) Name() string { return "http" }

type checkoutRequest struct {
	OrderID     string `json:"orderId"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
	Description string `json:"description"`
	KioskID     string `json:"kioskId"`
}

type checkoutResponse struct {
	TransactionID string `json:"transactionId"`
	PaymentURL    string `json:"paymentUrl"`
	Error         string `json:"error"`
}

func (p *HTTPProvider) CreateCheckout(ctx context.Context, req Request) (Checkout, error) {
	return p.post(ctx, "/v1/checkouts", req)
}

func (p *HTTPProvider) ArmTerminal(ctx context.Context, req Request) (Checkout, error) {
	return p.post(ctx, "/v1/terminal-intents", req)
}

func (p *HTTPProvider) post(ctx context.Context, path string, req Request) (Checkout, error) {
	body, err := json.Marshal(checkoutRequest{
		OrderID:     req.AttemptID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      string(req.Method),
		Description: "display " + string(req.Duration),
		KioskID:     req.KioskID,
	})
	if err != nil {
		return Checkout{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return Checkout{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	httpReq.Header.Set("Idempotency-Key", req.AttemptID)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return Checkout{}, fmt.Errorf("payment gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Checkout{}, fmt.Errorf("payment gateway: read response: %w", err)
	}
	var out checkoutResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode/100 != 2 {
		msg := out.Error
		if msg == "" {
			msg = resp.Status
		}
		return Checkout{}, &GatewayError{Status: resp.StatusCode, Message: msg}
	}
	if out.TransactionID == "" {
		return Checkout{}, &GatewayError{Status: resp.StatusCode, Message: "response without transactionId"}
	}
	return Checkout{TransactionID: out.TransactionID, PaymentURL: out.PaymentURL}, nil
}

// GatewayError is a non-2xx answer of the payment gateway.
type GatewayError struct {
	Status  int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway: %d %s", e.Status, e.Message)
}
