package models

import "fmt"

// Metadata table names. These two tables are the system of record for entity
// type and attribute definitions and must exist before any entity table is
// touched.
const (
	EntityTypeTable = "eav_entity_type"
	AttributeTable  = "eav_attribute"
)

// BackendType is the physical scalar kind an attribute value is stored as.
// It decides which eav_value_* table holds the value. The set is closed:
// adding a kind means touching BackendTypes, the value table blueprints and
// the storage strategy factory together.
type BackendType string

const (
	BackendVarchar  BackendType = "varchar"
	BackendInt      BackendType = "int"
	BackendDecimal  BackendType = "decimal"
	BackendDatetime BackendType = "datetime"
	BackendText     BackendType = "text"
)

// BackendTypes returns every supported backend type in a stable order.
func BackendTypes() []BackendType {
	return []BackendType{BackendVarchar, BackendInt, BackendDecimal, BackendDatetime, BackendText}
}

// Valid reports whether t is one of the supported backend types.
func (t BackendType) Valid() bool {
	switch t {
	case BackendVarchar, BackendInt, BackendDecimal, BackendDatetime, BackendText:
		return true
	}
	return false
}

// ValueTable returns the name of the value table for this backend type.
func (t BackendType) ValueTable() string {
	return fmt.Sprintf("eav_value_%s", string(t))
}

// String implements fmt.Stringer.
func (t BackendType) String() string {
	return string(t)
}

// ParseBackendType converts a stored backend_type column value back to a
// BackendType, rejecting anything outside the closed set.
func ParseBackendType(s string) (BackendType, error) {
	t := BackendType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown backend type %q", s)
	}
	return t, nil
}
