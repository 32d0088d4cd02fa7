package repository

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/kiosk-session-server/internal/model"
	"github.com/iliyamo/kiosk-session-server/internal/utils"
)

// MemoryKioskRepo is the kiosk registry used when no database is
// configured.  It answers like KioskRepo.
type MemoryKioskRepo struct {
	kiosks map[string]model.Kiosk
}

// NewMemoryKioskRepo registers one active kiosk per id with its device
// secret hashed at cost.
func NewMemoryKioskRepo(secrets map[string]string, cost int) (*MemoryKioskRepo, error) {
	now := time.Now().UTC()
	m := &MemoryKioskRepo{kiosks: make(map[string]model.Kiosk, len(secrets))}
	for id, secret := range secrets {
		hash, err := utils.HashSecret(secret, cost)
		if err != nil {
			return nil, err
		}
		m.kiosks[id] = model.Kiosk{ID: id, Name: id, Location: "sandbox", SecretHash: hash, IsActive: true, CreatedAt: now}
	}
	return m, nil
}

func (m *MemoryKioskRepo) List(context.Context) ([]model.Kiosk, error) {
	out := make([]model.Kiosk, 0, len(m.kiosks))
	for _, k := range m.kiosks {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryKioskRepo) GetByID(_ context.Context, id string) (*model.Kiosk, error) {
	k, ok := m.kiosks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &k, nil
}
