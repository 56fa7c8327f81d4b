package users

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/collab/internal/collabs"
	"github.com/aura-webinar/collab/internal/models"
)

// MemoryRepository is an in-process user directory.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]models.User
}

// NewMemoryRepository creates an empty directory.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[uuid.UUID]models.User)}
}

// GetByID returns a user or collabs.ErrUserNotFound.
func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, collabs.ErrUserNotFound
	}
	return &u, nil
}

// ListByIDs returns the users among ids that exist.
func (m *MemoryRepository) ListByIDs(_ context.Context, ids []uuid.UUID) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []models.User
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			list = append(list, u)
		}
	}
	return list, nil
}

// Upsert inserts or refreshes a profile.
func (m *MemoryRepository) Upsert(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if old, ok := m.users[u.ID]; ok {
		u.CreatedAt = old.CreatedAt
	} else {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	m.users[u.ID] = *u
	return nil
}
