package storage

import (
	"fmt"
	"sync"

	"github.com/andrfilipenk/new-sub001/pkg/models"
)

// IdentityMap guarantees at most one live Entity instance per (type, id)
// within its owning scope. It is a coherence primitive, not a cache: there
// is no eviction, the owner clears it when the scope ends.
type IdentityMap struct {
	mu       sync.RWMutex
	entities map[string]*models.Entity
	hits     int64
	misses   int64
}

// NewIdentityMap creates an empty identity map.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{
		entities: make(map[string]*models.Entity),
	}
}

func identityKey(entityType string, id int64) string {
	return fmt.Sprintf("%s:%d", entityType, id)
}

// Get returns the registered entity for (type, id), or nil.
func (m *IdentityMap) Get(entityType string, id int64) *models.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[identityKey(entityType, id)]
	if ok {
		m.hits++
		return e
	}
	m.misses++
	return nil
}

// Set registers an entity. Unsaved entities (ID == 0) are never registered:
// two distinct new instances must not collide on a placeholder key.
func (m *IdentityMap) Set(entity *models.Entity) {
	if entity == nil || entity.IsNew() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[identityKey(entity.EntityType, entity.ID)] = entity
}

// Has reports whether (type, id) is registered.
func (m *IdentityMap) Has(entityType string, id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entities[identityKey(entityType, id)]
	return ok
}

// Remove unregisters (type, id).
func (m *IdentityMap) Remove(entityType string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entities, identityKey(entityType, id))
}

// ClearType unregisters every entity of the given type and returns how many
// were removed.
func (m *IdentityMap) ClearType(entityType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.entities {
		if e.EntityType == entityType {
			delete(m.entities, key)
			removed++
		}
	}
	return removed
}

// Clear unregisters everything and resets counters.
func (m *IdentityMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities = make(map[string]*models.Entity)
	m.hits = 0
	m.misses = 0
}

// GetByType returns every registered entity of the given type.
func (m *IdentityMap) GetByType(entityType string) []*models.Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Entity
	for _, e := range m.entities {
		if e.EntityType == entityType {
			out = append(out, e)
		}
	}
	return out
}

// IdentityMapStats is an observational snapshot of the map.
type IdentityMapStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Stats returns current size and hit/miss counters.
func (m *IdentityMap) Stats() IdentityMapStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return IdentityMapStats{
		Size:   len(m.entities),
		Hits:   m.hits,
		Misses: m.misses,
	}
}
