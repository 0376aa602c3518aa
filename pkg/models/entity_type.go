package models

import (
	"slices"
	"time"
)

// EntityType defines one dynamic class of entity (e.g. "product") together
// with its attribute set. Instances are built from configuration; ID stays
// zero until the type has been synchronized to the database at least once.
type EntityType struct {
	ID              int64     `json:"entity_type_id" db:"entity_type_id"`
	Code            string    `json:"entity_code" db:"entity_code" validate:"required,eav_code"`
	Label           string    `json:"entity_label" db:"entity_label" validate:"required"`
	EntityTable     string    `json:"entity_table" db:"entity_table" validate:"required"`
	StorageStrategy string    `json:"storage_strategy" db:"storage_strategy"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`

	Attributes []*Attribute `json:"attributes" db:"-" validate:"dive"`
}

// DefaultStorageStrategy is the storage strategy tag applied when the
// configuration does not name one.
const DefaultStorageStrategy = "eav"

// NewEntityType builds an EntityType from configuration values, applying
// defaults the way persisted rows would carry them.
func NewEntityType(code, label, entityTable string, attributes ...*Attribute) *EntityType {
	return &EntityType{
		Code:            code,
		Label:           label,
		EntityTable:     entityTable,
		StorageStrategy: DefaultStorageStrategy,
		Attributes:      attributes,
	}
}

// IsSynchronized reports whether the type has been persisted at least once.
func (t *EntityType) IsSynchronized() bool {
	return t.ID != 0
}

// Attribute returns the attribute with the given code, or nil.
func (t *EntityType) Attribute(code string) *Attribute {
	for _, a := range t.Attributes {
		if a.Code == code {
			return a
		}
	}
	return nil
}

// AttributesByBackend groups the type's attributes by backend type. Storage
// batches one value-table query per group instead of one per attribute.
func (t *EntityType) AttributesByBackend() map[BackendType][]*Attribute {
	grouped := make(map[BackendType][]*Attribute)
	for _, a := range t.Attributes {
		grouped[a.BackendType] = append(grouped[a.BackendType], a)
	}
	return grouped
}

// Attribute is one field definition of an EntityType. Like its owner it is
// configuration-derived; ID is assigned on first synchronization.
type Attribute struct {
	ID              int64       `json:"attribute_id" db:"attribute_id"`
	EntityTypeID    int64       `json:"entity_type_id" db:"entity_type_id"`
	Code            string      `json:"attribute_code" db:"attribute_code" validate:"required,eav_code"`
	Label           string      `json:"attribute_label" db:"attribute_label" validate:"required"`
	BackendType     BackendType `json:"backend_type" db:"backend_type" validate:"required,oneof=varchar int decimal datetime text"`
	FrontendType    string      `json:"frontend_type" db:"frontend_type"`
	IsRequired      bool        `json:"is_required" db:"is_required"`
	IsUnique        bool        `json:"is_unique" db:"is_unique"`
	IsSearchable    bool        `json:"is_searchable" db:"is_searchable"`
	IsFilterable    bool        `json:"is_filterable" db:"is_filterable"`
	DefaultValue    *string     `json:"default_value,omitempty" db:"default_value"`
	ValidationRules []string    `json:"validation_rules,omitempty" db:"-"`
	SortOrder       int         `json:"sort_order" db:"sort_order"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// Equal compares the mutable configuration fields against another attribute.
// The schema manager only updates a persisted row when this returns false.
func (a *Attribute) Equal(other *Attribute) bool {
	if other == nil {
		return false
	}
	return a.Label == other.Label &&
		a.BackendType == other.BackendType &&
		a.FrontendType == other.FrontendType &&
		a.IsRequired == other.IsRequired &&
		a.IsUnique == other.IsUnique &&
		a.IsSearchable == other.IsSearchable &&
		a.IsFilterable == other.IsFilterable &&
		equalStringPtr(a.DefaultValue, other.DefaultValue) &&
		slices.Equal(a.ValidationRules, other.ValidationRules) &&
		a.SortOrder == other.SortOrder
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// SchemaExport is the tooling-facing description of a synchronized entity
// type: the type row plus one field per attribute.
type SchemaExport struct {
	EntityType string              `json:"entity_type"`
	Label      string              `json:"label"`
	Table      string              `json:"table"`
	Fields     []SchemaExportField `json:"fields"`
}

// SchemaExportField is one attribute in a SchemaExport.
type SchemaExportField struct {
	Code        string      `json:"code"`
	Label       string      `json:"label"`
	BackendType BackendType `json:"backend_type"`
	Required    bool        `json:"required"`
	Unique      bool        `json:"unique"`
	SortOrder   int         `json:"sort_order"`
}
