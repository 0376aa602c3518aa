package models

import (
	"time"
)

// Entity is one row of dynamic data. Attribute values live in the value
// tables matching each attribute's backend type; the entity row itself only
// carries identity and timestamps. An Entity with ID == 0 is new and has
// never been persisted.
type Entity struct {
	EntityType string    `json:"entity_type"`
	ID         int64     `json:"entity_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	values map[string]any
	dirty  map[string]struct{}
}

// NewEntity creates an unsaved entity of the given type.
func NewEntity(entityType string) *Entity {
	return &Entity{
		EntityType: entityType,
		values:     make(map[string]any),
		dirty:      make(map[string]struct{}),
	}
}

// IsNew reports whether the entity has never been saved.
func (e *Entity) IsNew() bool {
	return e.ID == 0
}

// Get returns the value for the attribute code and whether it is set.
func (e *Entity) Get(code string) (any, bool) {
	v, ok := e.values[code]
	return v, ok
}

// Set assigns an attribute value and marks the attribute dirty.
func (e *Entity) Set(code string, value any) {
	if e.values == nil {
		e.values = make(map[string]any)
	}
	if e.dirty == nil {
		e.dirty = make(map[string]struct{})
	}
	e.values[code] = value
	e.dirty[code] = struct{}{}
}

// SetLoaded assigns a value without marking it dirty. Storage uses it when
// hydrating entities, so loaded data starts clean.
func (e *Entity) SetLoaded(code string, value any) {
	if e.values == nil {
		e.values = make(map[string]any)
	}
	e.values[code] = value
}

// Values returns a copy of the attribute code to value mapping.
func (e *Entity) Values() map[string]any {
	out := make(map[string]any, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// DirtyCodes returns the attribute codes changed since load or last save.
func (e *Entity) DirtyCodes() []string {
	codes := make([]string, 0, len(e.dirty))
	for code := range e.dirty {
		codes = append(codes, code)
	}
	return codes
}

// IsDirty reports whether the attribute has changed since load or last save.
func (e *Entity) IsDirty(code string) bool {
	_, ok := e.dirty[code]
	return ok
}

// MarkClean clears dirty tracking. Called after a successful load or save.
func (e *Entity) MarkClean() {
	e.dirty = make(map[string]struct{})
}
