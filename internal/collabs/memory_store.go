package collabs

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/aura-webinar/collab/internal/models"
)

// MemoryStore is an in-process Store. Documents are copied on every read and
// write so callers never share state with the store.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[uuid.UUID][]byte
}

// NewMemoryStore creates an empty in-memory collab store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[uuid.UUID][]byte)}
}

// FindByID returns a copy of the collab or ErrNotFound.
func (m *MemoryStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Collab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return decodeDoc(raw)
}

// FindMany returns matching collabs, newest first.
func (m *MemoryStore) FindMany(ctx context.Context, f Filter) ([]models.Collab, error) {
	m.mu.Lock()
	all, err := m.decodeAllLocked()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var list []models.Collab
	for i := range all {
		if f.Matches(&all[i]) {
			list = append(list, all[i])
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if f.Limit > 0 && len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list, nil
}

// Insert stores a new collab with version 1.
func (m *MemoryStore) Insert(ctx context.Context, c *models.Collab) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[c.ID]; ok {
		return fmt.Errorf("insert collab %s: duplicate id", c.ID)
	}
	if err := m.checkActiveCreatorLocked(c); err != nil {
		return err
	}
	c.Version = 1
	raw, err := encodeDoc(c)
	if err != nil {
		return fmt.Errorf("encode collab: %w", err)
	}
	m.docs[c.ID] = raw
	return nil
}

// Update replaces the document if its stored version still equals c.Version.
func (m *MemoryStore) Update(ctx context.Context, c *models.Collab) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.docs[c.ID]
	if !ok {
		return ErrConflict
	}
	cur, err := decodeDoc(raw)
	if err != nil {
		return err
	}
	if cur.Version != c.Version {
		return ErrConflict
	}
	if err := m.checkActiveCreatorLocked(c); err != nil {
		return err
	}
	next := *c
	next.Version = c.Version + 1
	out, err := encodeDoc(&next)
	if err != nil {
		return fmt.Errorf("encode collab: %w", err)
	}
	m.docs[c.ID] = out
	c.Version = next.Version
	return nil
}

// Delete removes the collab if its version still matches.
func (m *MemoryStore) Delete(ctx context.Context, id uuid.UUID, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.docs[id]
	if !ok {
		return ErrConflict
	}
	cur, err := decodeDoc(raw)
	if err != nil {
		return err
	}
	if cur.Version != version {
		return ErrConflict
	}
	delete(m.docs, id)
	return nil
}

// DeleteMany removes every collab matching f.
func (m *MemoryStore) DeleteMany(ctx context.Context, f Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all, err := m.decodeAllLocked()
	if err != nil {
		return 0, err
	}
	var n int64
	for i := range all {
		if f.Matches(&all[i]) {
			delete(m.docs, all[i].ID)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) decodeAllLocked() ([]models.Collab, error) {
	out := make([]models.Collab, 0, len(m.docs))
	for _, raw := range m.docs {
		c, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *MemoryStore) checkActiveCreatorLocked(c *models.Collab) error {
	if !hasStatus(models.ActiveStatuses, c.Status) {
		return nil
	}
	for id, raw := range m.docs {
		if id == c.ID {
			continue
		}
		other, err := decodeDoc(raw)
		if err != nil {
			return err
		}
		if other.CreatorID == c.CreatorID && hasStatus(models.ActiveStatuses, other.Status) {
			return ErrActiveCollabExists
		}
	}
	return nil
}
