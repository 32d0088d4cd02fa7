package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/kiosk-session-server/internal/model"
)

// erDupEntry is MySQL's duplicate key error number.
const erDupEntry = 1062

// TicketRepo persists issued tickets.  session_id carries a unique key so a
// session can never own two tickets.
type TicketRepo struct {
	db *sql.DB
}

func NewTicketRepo(db *sql.DB) *TicketRepo {
	return &TicketRepo{db: db}
}

const ticketColumns = "ticket_id, session_id, kiosk_id, qr_code, pdf_url, duration, window_start, window_end, video_url, created_at"

// Create inserts t.  A second ticket for the same session yields ErrConflict.
func (r *TicketRepo) Create(ctx context.Context, t *model.Ticket) error {
	const q = "INSERT INTO tickets (" + ticketColumns + ") VALUES (?,?,?,?,?,?,?,?,?,?)"
	_, err := r.db.ExecContext(ctx, q,
		t.TicketID, t.SessionID, t.KioskID, t.QRCode, t.PDFURL, string(t.Duration),
		t.DisplayWindow.Start, t.DisplayWindow.End, t.VideoURL, t.CreatedAt)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == erDupEntry {
			return ErrConflict
		}
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

// GetByID returns the ticket or ErrNotFound.
func (r *TicketRepo) GetByID(ctx context.Context, id string) (*model.Ticket, error) {
	return r.getOne(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE ticket_id = ?", id)
}

// GetBySession returns the ticket issued for sessionID or ErrNotFound.
func (r *TicketRepo) GetBySession(ctx context.Context, sessionID string) (*model.Ticket, error) {
	return r.getOne(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE session_id = ?", sessionID)
}

func (r *TicketRepo) getOne(ctx context.Context, q, arg string) (*model.Ticket, error) {
	var (
		t   model.Ticket
		dur string
	)
	err := r.db.QueryRowContext(ctx, q, arg).Scan(&t.TicketID, &t.SessionID, &t.KioskID, &t.QRCode, &t.PDFURL,
		&dur, &t.DisplayWindow.Start, &t.DisplayWindow.End, &t.VideoURL, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	t.Duration = model.DurationTier(dur)
	return &t, nil
}
