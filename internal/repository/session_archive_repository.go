package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iliyamo/kiosk-session-server/internal/model"
)

// SessionArchiveRepo stores terminal sessions once they leave memory.  The
// full aggregate is kept as JSON next to a few indexed columns.
type SessionArchiveRepo struct {
	db *sql.DB
}

func NewSessionArchiveRepo(db *sql.DB) *SessionArchiveRepo {
	return &SessionArchiveRepo{db: db}
}

// Save upserts the archived snapshot of s.
func (r *SessionArchiveRepo) Save(ctx context.Context, s model.Session) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	const q = `INSERT INTO session_archive (session_id, kiosk_id, state, cancel_reason, created_at, ended_at, document)
VALUES (?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE state = VALUES(state), cancel_reason = VALUES(cancel_reason), ended_at = VALUES(ended_at), document = VALUES(document)`
	if _, err := r.db.ExecContext(ctx, q,
		s.ID, s.KioskID, string(s.State), s.CancelReason, s.CreatedAt, s.LastTransitionAt, doc); err != nil {
		return fmt.Errorf("archive session %s: %w", s.ID, err)
	}
	return nil
}

// Get loads an archived session or ErrNotFound.
func (r *SessionArchiveRepo) Get(ctx context.Context, id string) (*model.Session, error) {
	var doc []byte
	err := r.db.QueryRowContext(ctx, "SELECT document FROM session_archive WHERE session_id = ?", id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get archived session %s: %w", id, err)
	}
	var s model.Session
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("decode archived session %s: %w", id, err)
	}
	return &s, nil
}
