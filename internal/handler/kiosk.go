package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/kiosk-session-server/internal/model"
	"github.com/iliyamo/kiosk-session-server/internal/repository"
	"github.com/iliyamo/kiosk-session-server/internal/utils"
)

// KioskRegistry reads registered kiosks.  repository.KioskRepo and
// repository.MemoryKioskRepo implement it.
type KioskRegistry interface {
	List(ctx context.Context) ([]model.Kiosk, error)
	GetByID(ctx context.Context, id string) (*model.Kiosk, error)
}

// TokenLog records issued kiosk credentials.  Nil when no database is
// configured.
type TokenLog interface {
	Record(ctx context.Context, kioskID, tokenHash string, exp time.Time) error
	RevokeAllForKiosk(ctx context.Context, kioskID string) (int64, error)
}

// Presence reports whether a kiosk has a live channel connection.
type Presence interface {
	Connected(kioskID string) bool
}

// KioskHandler serves the kiosk registry and token issuance.
type KioskHandler struct {
	Kiosks   KioskRegistry
	Tokens   TokenLog
	Presence Presence
	Secret   string
	TTL      time.Duration
}

func NewKioskHandler(kiosks KioskRegistry, tokens TokenLog, presence Presence, secret string, ttl time.Duration) *KioskHandler {
	return &KioskHandler{Kiosks: kiosks, Tokens: tokens, Presence: presence, Secret: secret, TTL: ttl}
}

type kioskResp struct {
	model.Kiosk
	Connected bool `json:"connected"`
}

// List returns every registered kiosk with its connection status.
func (h *KioskHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	kiosks, err := h.Kiosks.List(ctx)
	if err != nil {
		c.Logger().Errorf("list kiosks: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list kiosks failed"})
	}
	out := make([]kioskResp, 0, len(kiosks))
	for _, k := range kiosks {
		out = append(out, kioskResp{Kiosk: k, Connected: h.Presence != nil && h.Presence.Connected(k.ID)})
	}
	return c.JSON(http.StatusOK, echo.Map{"kiosks": out})
}

type generateTokenReq struct {
	Secret string `json:"secret"`
}

type generateTokenResp struct {
	KioskID   string    `json:"kioskId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// GenerateToken issues a signed, time-limited channel credential to a kiosk
// that proves its device secret.
func (h *KioskHandler) GenerateToken(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	var req generateTokenReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if id == "" || req.Secret == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "kiosk id and secret required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	k, err := h.Kiosks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid kiosk credentials"})
		}
		c.Logger().Errorf("get kiosk %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "kiosk lookup failed"})
	}
	if !k.IsActive || !utils.VerifySecret(k.SecretHash, req.Secret) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid kiosk credentials"})
	}

	tok, err := utils.NewKioskToken(h.Secret, k.ID, h.TTL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue token failed"})
	}
	if h.Tokens != nil {
		if err := h.Tokens.Record(ctx, k.ID, utils.HashToken(tok.Token), tok.Exp); err != nil {
			c.Logger().Errorf("record kiosk token: %v", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save token failed"})
		}
	}
	return c.JSON(http.StatusCreated, generateTokenResp{KioskID: k.ID, Token: tok.Token, ExpiresAt: tok.Exp})
}

// RevokeTokens revokes every credential issued to a kiosk.  Live
// connections are not affected; the kiosk fails at its next connect.
func (h *KioskHandler) RevokeTokens(c echo.Context) error {
	if h.Tokens == nil {
		return c.JSON(http.StatusNotImplemented, echo.Map{"error": "token log disabled"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	n, err := h.Tokens.RevokeAllForKiosk(ctx, c.Param("id"))
	if err != nil {
		c.Logger().Errorf("revoke kiosk tokens: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "revoke failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"revoked": n})
}
