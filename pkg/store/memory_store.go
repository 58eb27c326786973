package store

import (
	"sort"
	"sync"
	"time"

	"guestgallery/pkg/domain"
)

// MemoryStore keeps users and images in-process. It backs tests and local
// runs without Postgres.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]domain.User  // key: user ID
	tokens map[string]string       // guest token -> user ID
	images map[string]domain.Image // key: image ID
	orders []string                // image IDs in insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]domain.User),
		tokens: make(map[string]string),
		images: make(map[string]domain.Image),
	}
}

// CreateUser registers a guest user.
func (m *MemoryStore) CreateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.tokens[u.GuestToken] = u.ID
	return nil
}

// GetUserByToken looks up a user by guest token.
func (m *MemoryStore) GetUserByToken(token string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.tokens[token]
	if !ok {
		return domain.User{}, false, nil
	}
	u, exists := m.users[id]
	return u, exists, nil
}

// TouchUser refreshes the last-accessed timestamp.
func (m *MemoryStore) TouchUser(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	u.LastAccessed = at.UTC()
	m.users[id] = u
	return nil
}

// ListImagesByOwner returns the owner's images ascending by display order.
// Ties keep insertion order.
func (m *MemoryStore) ListImagesByOwner(ownerID string) ([]domain.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Image, 0, len(m.orders))
	for _, id := range m.orders {
		if img, ok := m.images[id]; ok && img.UserID == ownerID {
			res = append(res, img)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].DisplayOrder < res[j].DisplayOrder
	})
	return res, nil
}

// MaxDisplayOrder returns the highest display order among the owner's images.
func (m *MemoryStore) MaxDisplayOrder(ownerID string) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max, found := 0, false
	for _, img := range m.images {
		if img.UserID != ownerID {
			continue
		}
		if !found || img.DisplayOrder > max {
			max = img.DisplayOrder
			found = true
		}
	}
	return max, found, nil
}

// CreateImage stores an image record and tracks insertion order.
func (m *MemoryStore) CreateImage(img domain.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.images[img.ID]; !exists {
		m.orders = append(m.orders, img.ID)
	}
	m.images[img.ID] = img
	return nil
}

// GetImageForOwner retrieves an image matching both id and owner.
func (m *MemoryStore) GetImageForOwner(id, ownerID string) (domain.Image, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	if !ok || img.UserID != ownerID {
		return domain.Image{}, false, nil
	}
	return img, true, nil
}

// UpdateImage overwrites the fields present in upd and refreshes updated_at.
func (m *MemoryStore) UpdateImage(id string, upd domain.ImageUpdate, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return nil
	}
	if upd.Title != nil {
		img.Title = *upd.Title
	}
	if upd.Description != nil {
		img.Description = *upd.Description
	}
	if upd.ImageURL != nil {
		img.ImageURL = *upd.ImageURL
	}
	if upd.DisplayOrder != nil {
		img.DisplayOrder = *upd.DisplayOrder
	}
	img.UpdatedAt = updatedAt.UTC()
	m.images[id] = img
	return nil
}

// DeleteImage removes an image record.
func (m *MemoryStore) DeleteImage(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.images, id)
	filtered := m.orders[:0]
	for _, item := range m.orders {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.orders = filtered
	return nil
}

// SetDisplayOrder updates display order for an image matching id and owner.
// A non-matching pair is a no-op.
func (m *MemoryStore) SetDisplayOrder(id, ownerID string, order int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok || img.UserID != ownerID {
		return nil
	}
	img.DisplayOrder = order
	m.images[id] = img
	return nil
}
