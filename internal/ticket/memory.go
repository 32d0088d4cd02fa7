package ticket

import (
	"context"
	"sync"

	"github.com/iliyamo/kiosk-session-server/internal/model"
	"github.com/iliyamo/kiosk-session-server/internal/repository"
)

// MemoryStore keeps tickets in process.  It is used when no database is
// configured and returns the same sentinel errors as the MySQL repository.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]model.Ticket
	bySession map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]model.Ticket), bySession: make(map[string]string)}
}

func (m *MemoryStore) Create(_ context.Context, t *model.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bySession[t.SessionID]; ok {
		return repository.ErrConflict
	}
	if _, ok := m.byID[t.TicketID]; ok {
		return repository.ErrConflict
	}
	m.byID[t.TicketID] = *t
	m.bySession[t.SessionID] = t.TicketID
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*model.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (m *MemoryStore) GetBySession(_ context.Context, sessionID string) (*model.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySession[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	t := m.byID[id]
	return &t, nil
}
