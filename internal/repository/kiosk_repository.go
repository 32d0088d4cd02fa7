package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/kiosk-session-server/internal/model"
)

// KioskRepo reads the kiosk registry.
type KioskRepo struct {
	db *sql.DB
}

func NewKioskRepo(db *sql.DB) *KioskRepo {
	return &KioskRepo{db: db}
}

const kioskColumns = "id, name, location, secret_hash, is_active, created_at"

func scanKiosk(row interface{ Scan(...any) error }) (model.Kiosk, error) {
	var k model.Kiosk
	err := row.Scan(&k.ID, &k.Name, &k.Location, &k.SecretHash, &k.IsActive, &k.CreatedAt)
	return k, err
}

// List returns every registered kiosk ordered by id.
func (r *KioskRepo) List(ctx context.Context) ([]model.Kiosk, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+kioskColumns+" FROM kiosks ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list kiosks: %w", err)
	}
	defer rows.Close()

	var out []model.Kiosk
	for rows.Next() {
		k, err := scanKiosk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan kiosk: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// GetByID returns the kiosk or ErrNotFound.
func (r *KioskRepo) GetByID(ctx context.Context, id string) (*model.Kiosk, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+kioskColumns+" FROM kiosks WHERE id = ?", id)
	k, err := scanKiosk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get kiosk %s: %w", id, err)
	}
	return &k, nil
}
