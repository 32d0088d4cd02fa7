package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/kiosk-session-server/internal/engine"
	"github.com/iliyamo/kiosk-session-server/internal/middleware"
	"github.com/iliyamo/kiosk-session-server/internal/repository"
	"github.com/iliyamo/kiosk-session-server/internal/utils"
)

// ChannelServer runs an authenticated kiosk connection.  gateway.Gateway
// implements it.
type ChannelServer interface {
	Serve(w http.ResponseWriter, r *http.Request, kioskID string) error
}

// TokenChecker rejects revoked credentials.  Nil when no database is
// configured.
type TokenChecker interface {
	Check(ctx context.Context, kioskID, tokenHash string) error
}

// ChannelHandler authenticates the kiosk before the websocket upgrade.
// Expiry is enforced here only; it is not re-checked during the session.
type ChannelHandler struct {
	Secret  string
	Kiosks  KioskRegistry
	Tokens  TokenChecker
	Channel ChannelServer
}

func NewChannelHandler(secret string, kiosks KioskRegistry, tokens TokenChecker, ch ChannelServer) *ChannelHandler {
	return &ChannelHandler{Secret: secret, Kiosks: kiosks, Tokens: tokens, Channel: ch}
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": msg, "code": engine.CodeUnauthorized})
}

// Connect upgrades the request of an authenticated, active kiosk.
func (h *ChannelHandler) Connect(c echo.Context) error {
	raw := middleware.TokenFromRequest(c.Request())
	if raw == "" {
		return unauthorized(c, "missing kiosk token")
	}
	kioskID, err := utils.ParseKioskToken(h.Secret, raw)
	if err != nil {
		return unauthorized(c, "invalid kiosk token")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	k, err := h.Kiosks.GetByID(ctx, kioskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return unauthorized(c, "unknown kiosk")
		}
		c.Logger().Errorf("get kiosk %s: %v", kioskID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "kiosk lookup failed"})
	}
	if !k.IsActive {
		return unauthorized(c, "kiosk inactive")
	}
	if h.Tokens != nil {
		if err := h.Tokens.Check(ctx, kioskID, utils.HashToken(raw)); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return unauthorized(c, "kiosk token revoked")
			}
			c.Logger().Errorf("check kiosk token: %v", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token lookup failed"})
		}
	}

	if err := h.Channel.Serve(c.Response(), c.Request(), kioskID); err != nil {
		c.Logger().Warnf("kiosk %s channel: %v", kioskID, err)
	}
	return nil
}
