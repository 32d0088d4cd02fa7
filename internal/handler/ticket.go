package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/kiosk-session-server/internal/model"
	"github.com/iliyamo/kiosk-session-server/internal/repository"
	"github.com/iliyamo/kiosk-session-server/internal/ticket"
)

// TicketSource looks up issued tickets.  ticket.Issuer implements it.
type TicketSource interface {
	Get(ctx context.Context, id string) (model.Ticket, error)
}

type TicketHandler struct {
	Tickets TicketSource
}

func NewTicketHandler(tickets TicketSource) *TicketHandler {
	return &TicketHandler{Tickets: tickets}
}

// Get returns the ticket as JSON.  This is the address the ticket QR
// encodes.
func (h *TicketHandler) Get(c echo.Context) error {
	t, ok, err := h.lookup(c)
	if !ok {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// PDF renders the printable ticket document.
func (h *TicketHandler) PDF(c echo.Context) error {
	t, ok, err := h.lookup(c)
	if !ok {
		return err
	}
	var buf bytes.Buffer
	if err := ticket.RenderPDF(&buf, t); err != nil {
		c.Logger().Errorf("render ticket %s: %v", t.TicketID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "render ticket failed"})
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `inline; filename="`+t.TicketID+`.pdf"`)
	return c.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}

// lookup reports false after it has written the error response itself.
func (h *TicketHandler) lookup(c echo.Context) (model.Ticket, bool, error) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	t, err := h.Tickets.Get(ctx, c.Param("id"))
	if err == nil {
		return t, true, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return model.Ticket{}, false, c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
	}
	c.Logger().Errorf("get ticket: %v", err)
	return model.Ticket{}, false, c.JSON(http.StatusInternalServerError, echo.Map{"error": "ticket lookup failed"})
}
