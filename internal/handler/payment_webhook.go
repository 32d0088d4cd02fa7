package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/kiosk-session-server/internal/engine"
	"github.com/iliyamo/kiosk-session-server/internal/payment"
)

// PaymentNotifier applies verified gateway callbacks.  payment.Orchestrator
// implements it.
type PaymentNotifier interface {
	Notify(n payment.Notification) error
}

// WebhookHandler is the only production path that confirms payments.
type WebhookHandler struct {
	Payments PaymentNotifier
	Secret   string
}

func NewWebhookHandler(p PaymentNotifier, secret string) *WebhookHandler {
	return &WebhookHandler{Payments: p, Secret: secret}
}

const maxWebhookBody = 64 << 10

// Payment verifies the HMAC signature of the callback, normalises it and
// feeds it to the orchestrator.  Results for attempts that were replaced
// or whose session ended are acknowledged so the gateway stops retrying.
func (h *WebhookHandler) Payment(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "read body failed"})
	}
	if !payment.VerifySignature(h.Secret, body, c.Request().Header.Get(payment.SignatureHeader)) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature"})
	}
	n, err := payment.ParseNotification(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	err = h.Payments.Notify(n)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"status": "applied"})
	case errors.Is(err, payment.ErrUnknownAttempt):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown payment attempt"})
	case errors.Is(err, engine.ErrStaleResult), errors.Is(err, engine.ErrSessionTerminal):
		return c.JSON(http.StatusOK, echo.Map{"status": "discarded"})
	}
	var sm *engine.StateMismatchError
	if errors.As(err, &sm) {
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "code": engine.CodeStateMismatch})
	}
	var ip *engine.InvalidPayloadError
	if errors.As(err, &ip) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error(), "code": engine.CodeInvalidPayload})
	}
	c.Logger().Errorf("payment webhook: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "apply notification failed"})
}

// SandboxPay is the page behind the sandbox provider's payment URL.
// Opening it confirms the attempt, as scanning the QR and paying would.
// It is registered only with the sandbox provider.
func (h *WebhookHandler) SandboxPay(c echo.Context) error {
	err := h.Payments.Notify(payment.Notification{OrderID: c.Param("attempt"), Status: payment.StatusCompleted})
	switch {
	case err == nil:
		return c.String(http.StatusOK, "payment completed")
	case errors.Is(err, payment.ErrUnknownAttempt):
		return c.String(http.StatusNotFound, "unknown payment attempt")
	}
	return c.String(http.StatusConflict, "payment not applied: "+engine.Code(err))
}
