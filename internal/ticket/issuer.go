// Package ticket issues the proof-of-purchase ticket of a paid session and
// renders its printable document.
package ticket

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/iliyamo/kiosk-session-server/internal/model"
	"github.com/iliyamo/kiosk-session-server/internal/repository"
)

// Store persists tickets.  repository.TicketRepo and MemoryStore implement it.
type Store interface {
	Create(ctx context.Context, t *model.Ticket) error
	GetByID(ctx context.Context, id string) (*model.Ticket, error)
	GetBySession(ctx context.Context, sessionID string) (*model.Ticket, error)
}

var ErrNotPaid = errors.New("session has no completed payment")

type Issuer struct {
	store   Store
	baseURL string
	log     *log.Logger
	now     func() time.Time
	newID   func() string
}

func NewIssuer(store Store, baseURL string, logger *log.Logger) *Issuer {
	return &Issuer{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     logger,
		now:     time.Now,
		newID:   func() string { return "T-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12]) },
	}
}

// Issue returns the ticket of sess, creating it on first call.  The
// display window starts when the payment was confirmed.
func (i *Issuer) Issue(ctx context.Context, sess model.Session) (model.Ticket, error) {
	if existing, err := i.store.GetBySession(ctx, sess.ID); err == nil {
		return *existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return model.Ticket{}, fmt.Errorf("lookup ticket: %w", err)
	}
	if sess.Payment == nil || sess.Payment.Status != model.PaymentCompleted {
		return model.Ticket{}, ErrNotPaid
	}

	start := sess.Payment.CompletedAt
	if start.IsZero() {
		start = i.now()
	}
	start = start.UTC()
	id := i.newID()
	qr, err := i.qr(id)
	if err != nil {
		return model.Ticket{}, fmt.Errorf("ticket qr: %w", err)
	}
	t := model.Ticket{
		TicketID:      id,
		SessionID:     sess.ID,
		KioskID:       sess.KioskID,
		QRCode:        qr,
		PDFURL:        i.PDFURL(id),
		Duration:      sess.Payload.Duration,
		DisplayWindow: model.DisplayWindow{Start: start, End: sess.Payload.Duration.End(start)},
		VideoURL:      sess.Payload.VideoURL,
		CreatedAt:     i.now().UTC(),
	}

	if err := i.store.Create(ctx, &t); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			existing, gerr := i.store.GetBySession(ctx, sess.ID)
			if gerr != nil {
				return model.Ticket{}, gerr
			}
			return *existing, nil
		}
		return model.Ticket{}, fmt.Errorf("store ticket: %w", err)
	}
	i.log.Infoj(log.JSON{"msg": "ticket issued", "ticket_id": t.TicketID, "session_id": sess.ID, "kiosk_id": sess.KioskID, "duration": string(t.Duration)})
	return t, nil
}

// Get returns a stored ticket.
func (i *Issuer) Get(ctx context.Context, id string) (model.Ticket, error) {
	t, err := i.store.GetByID(ctx, id)
	if err != nil {
		return model.Ticket{}, err
	}
	return *t, nil
}

// LookupURL is the address encoded in the ticket QR.
func (i *Issuer) LookupURL(id string) string { return i.baseURL + "/v1/tickets/" + id }

func (i *Issuer) PDFURL(id string) string { return i.LookupURL(id) + "/pdf" }

func (i *Issuer) qr(id string) (string, error) {
	png, err := qrcode.Encode(i.LookupURL(id), qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// decodeQR returns the PNG bytes of a data URL produced by qr.
func decodeQR(dataURL string) ([]byte, error) {
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(dataURL, prefix) {
		return nil, errors.New("qr code is not a png data url")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, prefix))
}

