package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TokenRepo keeps the issuance log of kiosk credentials (token_hash is the
// SHA-256 of the signed token).  It lets operators revoke every credential
// of a kiosk before it expires.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Record inserts an issued credential.
func (r *TokenRepo) Record(ctx context.Context, kioskID, tokenHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO kiosk_tokens (kiosk_id, token_hash, expires_at) VALUES (?,?,?)",
		kioskID, tokenHash, exp)
	if err != nil {
		return fmt.Errorf("record kiosk token: %w", err)
	}
	return nil
}

// Check returns nil if tokenHash was issued to kioskID and is neither
// revoked nor expired, ErrNotFound otherwise.
func (r *TokenRepo) Check(ctx context.Context, kioskID, tokenHash string) error {
	var (
		owner     string
		expiresAt time.Time
		revokedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT kiosk_id, expires_at, revoked_at FROM kiosk_tokens WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&owner, &expiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("check kiosk token: %w", err)
	}
	if owner != kioskID || revokedAt.Valid || time.Now().UTC().After(expiresAt) {
		return ErrNotFound
	}
	return nil
}

// RevokeAllForKiosk revokes every active credential of kioskID.
func (r *TokenRepo) RevokeAllForKiosk(ctx context.Context, kioskID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE kiosk_tokens SET revoked_at=NOW() WHERE kiosk_id=? AND revoked_at IS NULL",
		kioskID)
	if err != nil {
		return 0, fmt.Errorf("revoke kiosk tokens: %w", err)
	}
	return res.RowsAffected()
}
