package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/iliyamo/kiosk-session-server/internal/model"
)

// Request describes one payment attempt sent to a provider.
type Request struct {
	AttemptID string
	SessionID string
	KioskID   string
	Method    model.PaymentMethod
	Duration  model.DurationTier
	Amount    int64
	Currency  string
}

// Checkout is the provider's answer to a new attempt.
type Checkout struct {
	TransactionID string
	PaymentURL    string
}

// Provider opens payment attempts at an external gateway.  Completion is
// reported later through Orchestrator.Notify.
type Provider interface {
	Name() string
	// CreateCheckout registers a mobile QR payment and returns the URL the
	// visitor's phone opens.
	CreateCheckout(ctx context.Context, req Request) (Checkout, error)
	// ArmTerminal tells the card terminal of the kiosk to collect the amount.
	ArmTerminal(ctx context.Context, req Request) (Checkout, error)
}

// Sandbox accepts every attempt locally.  Payments are completed by the
// emulator or by a signed webhook.
type Sandbox struct {
	BaseURL string
}

func (s Sandbox) Name() string { return "sandbox" }

func (s Sandbox) CreateCheckout(ctx context.Context, req Request) (Checkout, error) {
	if err := ctx.Err(); err != nil {
		return Checkout{}, err
	}
	tx := "sbx-" + uuid.NewString()
	return Checkout{
		TransactionID: tx,
		PaymentURL:    fmt.Sprintf("%s/sandbox/pay/%s?amount=%d&currency=%s", s.BaseURL, req.AttemptID, req.Amount, req.Currency),
	}, nil
}

func (s Sandbox) ArmTerminal(ctx context.Context, req Request) (Checkout, error) {
	if err := ctx.Err(); err != nil {
		return Checkout{}, err
	}
	return Checkout{TransactionID: "sbx-" + uuid.NewString()}, nil
}
