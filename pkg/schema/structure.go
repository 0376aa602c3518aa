package schema

import (
	"fmt"

	"github.com/andrfilipenk/new-sub001/pkg/models"
)

// StructureBuilder translates entity type and attribute configuration into
// table blueprints. It is pure: no connection, no side effects, deterministic
// for a given input.
type StructureBuilder struct{}

func NewStructureBuilder() *StructureBuilder {
	return &StructureBuilder{}
}

// BuildEntityTypeTable returns the blueprint for eav_entity_type.
func (b *StructureBuilder) BuildEntityTypeTable() *TableDefinition {
	return &TableDefinition{
		Name: models.EntityTypeTable,
		Columns: []Column{
			{Name: "entity_type_id", Type: ColBigSerial, PrimaryKey: true},
			{Name: "entity_code", Type: ColVarchar, NotNull: true},
			{Name: "entity_label", Type: ColVarchar, NotNull: true},
			{Name: "entity_table", Type: ColVarchar, NotNull: true},
			{Name: "storage_strategy", Type: ColVarchar, NotNull: true, Default: "'eav'"},
			{Name: "created_at", Type: ColTimestamp, NotNull: true, Default: "CURRENT_TIMESTAMP"},
			{Name: "updated_at", Type: ColTimestamp, NotNull: true, Default: "CURRENT_TIMESTAMP"},
		},
		Indexes: []Index{
			{Name: "uq_eav_entity_type_code", Columns: []string{"entity_code"}, Unique: true},
		},
	}
}

// BuildAttributeTable returns the blueprint for eav_attribute.
func (b *StructureBuilder) BuildAttributeTable() *TableDefinition {
	return &TableDefinition{
		Name: models.AttributeTable,
		Columns: []Column{
			{Name: "attribute_id", Type: ColBigSerial, PrimaryKey: true},
			{Name: "entity_type_id", Type: ColBigInt, NotNull: true},
			{Name: "attribute_code", Type: ColVarchar, NotNull: true},
			{Name: "attribute_label", Type: ColVarchar, NotNull: true},
			{Name: "backend_type", Type: ColVarchar, NotNull: true},
			{Name: "frontend_type", Type: ColVarchar},
			{Name: "is_required", Type: ColBoolean, NotNull: true, Default: "FALSE"},
			{Name: "is_unique", Type: ColBoolean, NotNull: true, Default: "FALSE"},
			{Name: "is_searchable", Type: ColBoolean, NotNull: true, Default: "FALSE"},
			{Name: "is_filterable", Type: ColBoolean, NotNull: true, Default: "FALSE"},
			{Name: "default_value", Type: ColText},
			{Name: "validation_rules", Type: ColJSONB},
			{Name: "sort_order", Type: ColInteger, NotNull: true, Default: "0"},
			{Name: "created_at", Type: ColTimestamp, NotNull: true, Default: "CURRENT_TIMESTAMP"},
			{Name: "updated_at", Type: ColTimestamp, NotNull: true, Default: "CURRENT_TIMESTAMP"},
		},
		Indexes: []Index{
			{Name: "uq_eav_attribute_type_code", Columns: []string{"entity_type_id", "attribute_code"}, Unique: true},
			{Name: "idx_eav_attribute_entity_type", Columns: []string{"entity_type_id"}},
		},
		ForeignKeys: []ForeignKey{
			{Column: "entity_type_id", RefTable: models.EntityTypeTable, RefColumn: "entity_type_id", OnDelete: "CASCADE"},
		},
	}
}

// BuildValueTable returns the blueprint for the value table of one backend
// type. The value column's physical type follows the backend type; text is
// the one kind whose value is not indexed (not directly searchable by value).
func (b *StructureBuilder) BuildValueTable(backendType models.BackendType) (*TableDefinition, error) {
	var valueType ColumnType
	switch backendType {
	case models.BackendVarchar:
		valueType = ColVarchar
	case models.BackendInt:
		valueType = ColBigInt
	case models.BackendDecimal:
		valueType = ColNumeric
	case models.BackendDatetime:
		valueType = ColTimestamp
	case models.BackendText:
		valueType = ColText
	default:
		return nil, fmt.Errorf("unknown backend type %q", backendType)
	}

	name := backendType.ValueTable()
	def := &TableDefinition{
		Name: name,
		Columns: []Column{
			{Name: "value_id", Type: ColBigSerial, PrimaryKey: true},
			{Name: "entity_type_id", Type: ColBigInt, NotNull: true},
			{Name: "attribute_id", Type: ColBigInt, NotNull: true},
			{Name: "entity_id", Type: ColBigInt, NotNull: true},
			{Name: "value", Type: valueType},
		},
		Indexes: []Index{
			{Name: fmt.Sprintf("uq_%s_entity_attribute", name), Columns: []string{"entity_type_id", "attribute_id", "entity_id"}, Unique: true},
			{Name: fmt.Sprintf("idx_%s_entity", name), Columns: []string{"entity_id"}},
		},
	}

	if backendType != models.BackendText {
		def.Indexes = append(def.Indexes, Index{
			Name:    fmt.Sprintf("idx_%s_attribute_value", name),
			Columns: []string{"attribute_id", "value"},
		})
	}

	return def, nil
}

// BuildValueTables returns one blueprint per supported backend type, in the
// stable BackendTypes order.
func (b *StructureBuilder) BuildValueTables() []*TableDefinition {
	defs := make([]*TableDefinition, 0, len(models.BackendTypes()))
	for _, bt := range models.BackendTypes() {
		def, _ := b.BuildValueTable(bt)
		defs = append(defs, def)
	}
	return defs
}

// BuildEntityTable returns the blueprint for the entity type's own table.
func (b *StructureBuilder) BuildEntityTable(entityType *models.EntityType) *TableDefinition {
	return &TableDefinition{
		Name: entityType.EntityTable,
		Columns: []Column{
			{Name: "entity_id", Type: ColBigSerial, PrimaryKey: true},
			{Name: "entity_type_id", Type: ColBigInt, NotNull: true},
			{Name: "created_at", Type: ColTimestamp, NotNull: true, Default: "CURRENT_TIMESTAMP"},
			{Name: "updated_at", Type: ColTimestamp, NotNull: true, Default: "CURRENT_TIMESTAMP"},
		},
		Indexes: []Index{
			{Name: fmt.Sprintf("idx_%s_entity_type", entityType.EntityTable), Columns: []string{"entity_type_id"}},
		},
	}
}

// BaseTables returns every table the base schema consists of: the two
// metadata tables followed by the five value tables.
func (b *StructureBuilder) BaseTables() []*TableDefinition {
	defs := []*TableDefinition{
		b.BuildEntityTypeTable(),
		b.BuildAttributeTable(),
	}
	return append(defs, b.BuildValueTables()...)
}
