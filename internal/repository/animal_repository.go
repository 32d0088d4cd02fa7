package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/kiosk-session-server/internal/model"
)

// AnimalRepo reads the avatar catalog.
type AnimalRepo struct {
	db *sql.DB
}

func NewAnimalRepo(db *sql.DB) *AnimalRepo {
	return &AnimalRepo{db: db}
}

// ListActive returns the selectable animals ordered by name.
func (r *AnimalRepo) ListActive(ctx context.Context) ([]model.Animal, error) {
	const q = "SELECT id, name, image_url, is_active FROM animals WHERE is_active = 1 ORDER BY name"
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list animals: %w", err)
	}
	defer rows.Close()

	out := []model.Animal{}
	for rows.Next() {
		var a model.Animal
		if err := rows.Scan(&a.ID, &a.Name, &a.ImageURL, &a.IsActive); err != nil {
			return nil, fmt.Errorf("scan animal: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
