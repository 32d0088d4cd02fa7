package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/kiosk-session-server/internal/engine"
	"github.com/iliyamo/kiosk-session-server/internal/model"
	"github.com/iliyamo/kiosk-session-server/internal/session"
)

// SessionAdmin is the operator view of sessions.  service.SessionService
// implements it.
type SessionAdmin interface {
	Get(ctx context.Context, id string) (model.Session, error)
	Cancel(id string) (model.Session, error)
	Active() []model.Session
}

type SessionHandler struct {
	Sessions SessionAdmin
}

func NewSessionHandler(s SessionAdmin) *SessionHandler {
	return &SessionHandler{Sessions: s}
}

// List returns the live sessions.
func (h *SessionHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"sessions": h.Sessions.Active()})
}

// Get returns a live or archived session.
func (h *SessionHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	s, err := h.Sessions.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		}
		c.Logger().Errorf("get session: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "session lookup failed"})
	}
	return c.JSON(http.StatusOK, s)
}

// Cancel ends a live session on operator request.
func (h *SessionHandler) Cancel(c echo.Context) error {
	s, err := h.Sessions.Cancel(c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		case errors.Is(err, engine.ErrSessionTerminal):
			return c.JSON(http.StatusConflict, echo.Map{"error": "session already ended", "code": engine.CodeSessionTerminal})
		}
		c.Logger().Errorf("cancel session: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cancel failed"})
	}
	return c.JSON(http.StatusOK, s)
}
