package schema

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// ColumnType is the physical PostgreSQL type of one column.
type ColumnType string

const (
	ColBigSerial ColumnType = "BIGSERIAL"
	ColBigInt    ColumnType = "BIGINT"
	ColInteger   ColumnType = "INTEGER"
	ColVarchar   ColumnType = "VARCHAR(255)"
	ColNumeric   ColumnType = "NUMERIC(12,4)"
	ColTimestamp ColumnType = "TIMESTAMP"
	ColText      ColumnType = "TEXT"
	ColBoolean   ColumnType = "BOOLEAN"
	ColJSONB     ColumnType = "JSONB"
)

// Column describes one column of a table blueprint.
type Column struct {
	Name       string
	Type       ColumnType
	PrimaryKey bool
	NotNull    bool
	Default    string
}

// Index describes one (optionally unique) index of a table blueprint.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// ForeignKey describes one referential constraint of a table blueprint.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
	OnDelete  string
}

// TableDefinition is a passive blueprint of one table. The structure builder
// produces these; the schema manager and migration generator render them.
type TableDefinition struct {
	Name        string
	Columns     []Column
	Indexes     []Index
	ForeignKeys []ForeignKey
}

// CreateSQL renders the CREATE TABLE IF NOT EXISTS statement.
func (t *TableDefinition) CreateSQL() string {
	ctb := sqlbuilder.PostgreSQL.NewCreateTableBuilder()
	ctb.CreateTable(t.Name).IfNotExists()

	for _, col := range t.Columns {
		def := []string{col.Name, string(col.Type)}
		if col.PrimaryKey {
			def = append(def, "PRIMARY KEY")
		}
		if col.NotNull {
			def = append(def, "NOT NULL")
		}
		if col.Default != "" {
			def = append(def, "DEFAULT", col.Default)
		}
		ctb.Define(def...)
	}

	for _, fk := range t.ForeignKeys {
		clause := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)", fk.Column, fk.RefTable, fk.RefColumn)
		if fk.OnDelete != "" {
			clause += " ON DELETE " + fk.OnDelete
		}
		ctb.Define(clause)
	}

	sql, _ := ctb.Build()
	return sql
}

// IndexSQL renders one CREATE INDEX IF NOT EXISTS statement per index.
func (t *TableDefinition) IndexSQL() []string {
	stmts := make([]string, 0, len(t.Indexes))
	for _, idx := range t.Indexes {
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		stmts = append(stmts, fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
			unique, idx.Name, t.Name, strings.Join(idx.Columns, ", ")))
	}
	return stmts
}

// AllSQL returns the create statement followed by the index statements.
func (t *TableDefinition) AllSQL() []string {
	return append([]string{t.CreateSQL()}, t.IndexSQL()...)
}

// DropSQL renders the DROP TABLE IF EXISTS statement.
func (t *TableDefinition) DropSQL() string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", t.Name)
}

// Column returns the column with the given name, or nil.
func (t *TableDefinition) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}
