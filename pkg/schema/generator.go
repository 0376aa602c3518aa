package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/andrfilipenk/new-sub001/pkg/models"
)

// MigrationGenerator writes migration file pairs in the layout the migration
// service consumes: NNNN_name.up.sql / NNNN_name.down.sql under one folder.
// Generated files are plain DDL snapshots of the blueprints, so they can be
// reviewed and checked in like hand-written migrations.
type MigrationGenerator struct {
	dir     string
	builder *StructureBuilder
	logger  ectologger.Logger
}

// NewMigrationGenerator creates a generator writing into dir.
func NewMigrationGenerator(dir string, builder *StructureBuilder, logger ectologger.Logger) *MigrationGenerator {
	return &MigrationGenerator{
		dir:     dir,
		builder: builder,
		logger:  logger,
	}
}

// GenerateBase writes the migration pair creating the base schema: both
// metadata tables and every value table. Returns the paths of the two files.
func (g *MigrationGenerator) GenerateBase(version uint) (up string, down string, err error) {
	defs := g.builder.BaseTables()

	var upSQL strings.Builder
	for _, def := range defs {
		for _, stmt := range def.AllSQL() {
			upSQL.WriteString(stmt)
			upSQL.WriteString(";\n")
		}
		upSQL.WriteString("\n")
	}

	var downSQL strings.Builder
	for i := len(defs) - 1; i >= 0; i-- {
		downSQL.WriteString(defs[i].DropSQL())
		downSQL.WriteString(";\n")
	}

	return g.write(version, "eav_base_schema", upSQL.String(), downSQL.String())
}

// GenerateEntityType writes the migration pair for one entity type: the
// entity table plus metadata seed rows with the configuration baked in as
// literals, so the migration replays identically regardless of later config
// edits.
func (g *MigrationGenerator) GenerateEntityType(version uint, entityType *models.EntityType) (up string, down string, err error) {
	def := g.builder.BuildEntityTable(entityType)

	var upSQL strings.Builder
	for _, stmt := range def.AllSQL() {
		upSQL.WriteString(stmt)
		upSQL.WriteString(";\n")
	}
	upSQL.WriteString("\n")
	upSQL.WriteString(fmt.Sprintf(
		"INSERT INTO %s (entity_code, entity_label, entity_table, storage_strategy)\nVALUES (%s, %s, %s, %s)\nON CONFLICT (entity_code) DO NOTHING;\n\n",
		models.EntityTypeTable,
		quoteLiteral(entityType.Code),
		quoteLiteral(entityType.Label),
		quoteLiteral(entityType.EntityTable),
		quoteLiteral(entityType.StorageStrategy),
	))
	for _, attr := range entityType.Attributes {
		upSQL.WriteString(fmt.Sprintf(
			"INSERT INTO %s (entity_type_id, attribute_code, attribute_label, backend_type, frontend_type, is_required, is_unique, is_searchable, is_filterable, sort_order)\nSELECT entity_type_id, %s, %s, %s, %s, %t, %t, %t, %t, %d FROM %s WHERE entity_code = %s\nON CONFLICT (entity_type_id, attribute_code) DO NOTHING;\n",
			models.AttributeTable,
			quoteLiteral(attr.Code),
			quoteLiteral(attr.Label),
			quoteLiteral(attr.BackendType.String()),
			quoteLiteral(attr.FrontendType),
			attr.IsRequired,
			attr.IsUnique,
			attr.IsSearchable,
			attr.IsFilterable,
			attr.SortOrder,
			models.EntityTypeTable,
			quoteLiteral(entityType.Code),
		))
	}

	var downSQL strings.Builder
	downSQL.WriteString(fmt.Sprintf(
		"DELETE FROM %s WHERE entity_type_id IN (SELECT entity_type_id FROM %s WHERE entity_code = %s);\n",
		models.AttributeTable, models.EntityTypeTable, quoteLiteral(entityType.Code),
	))
	downSQL.WriteString(fmt.Sprintf(
		"DELETE FROM %s WHERE entity_code = %s;\n",
		models.EntityTypeTable, quoteLiteral(entityType.Code),
	))
	downSQL.WriteString(def.DropSQL())
	downSQL.WriteString(";\n")

	return g.write(version, fmt.Sprintf("eav_entity_%s", entityType.Code), upSQL.String(), downSQL.String())
}

// NextVersion derives a timestamp-based migration version, matching the
// numbering convention golang-migrate sorts by.
func (g *MigrationGenerator) NextVersion() uint {
	return uint(time.Now().UTC().Unix())
}

func (g *MigrationGenerator) write(version uint, name, upSQL, downSQL string) (string, string, error) {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create migration folder %s: %w", g.dir, err)
	}

	upPath := filepath.Join(g.dir, fmt.Sprintf("%d_%s.up.sql", version, name))
	downPath := filepath.Join(g.dir, fmt.Sprintf("%d_%s.down.sql", version, name))

	if err := os.WriteFile(upPath, []byte(upSQL), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write %s: %w", upPath, err)
	}
	if err := os.WriteFile(downPath, []byte(downSQL), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write %s: %w", downPath, err)
	}

	g.logger.WithFields(map[string]any{
		"version": version,
		"name":    name,
	}).Info("generated migration pair")

	return upPath, downPath, nil
}

// quoteLiteral renders s as a single-quoted SQL literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
