package schema

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/andrfilipenk/new-sub001/internal/repositories/attribute"
	"github.com/andrfilipenk/new-sub001/internal/repositories/entitytype"
	"github.com/andrfilipenk/new-sub001/pkg/database"
	"github.com/andrfilipenk/new-sub001/pkg/models"
	"github.com/andrfilipenk/new-sub001/pkg/tracing"
)

// Version is the schema layout version, informational only.
const Version = "1.0.0"

var validate = newValidator()

// codePattern admits canonical EAV codes: lowercase, digits and underscores,
// starting with a letter ("product", "cms_page", "released_at").
var codePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("eav_code", func(fl validator.FieldLevel) bool {
		return codePattern.MatchString(fl.Field().String())
	})
	return v
}

// Manager makes the live database match entity type configuration, safely
// and idempotently. Every write path runs in one transaction; PostgreSQL's
// transactional DDL is what lets Initialize promise all-or-nothing.
type Manager struct {
	db         database.DB
	builder    *StructureBuilder
	types      entitytype.EntityTypeRepository
	attributes attribute.AttributeRepository
	logger     ectologger.Logger
}

// NewManager creates a schema manager.
func NewManager(db database.DB, builder *StructureBuilder, types entitytype.EntityTypeRepository, attributes attribute.AttributeRepository, logger ectologger.Logger) *Manager {
	return &Manager{
		db:         db,
		builder:    builder,
		types:      types,
		attributes: attributes,
		logger:     logger,
	}
}

// SchemaVersion returns the schema layout version.
func (m *Manager) SchemaVersion() string {
	return Version
}

// IsInitialized reports whether the base schema (metadata tables plus the
// varchar value table as a probe) already exists.
func (m *Manager) IsInitialized(ctx context.Context) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "SchemaManager.IsInitialized")
	defer span.End()

	for _, table := range []string{models.EntityTypeTable, models.AttributeTable, models.BackendVarchar.ValueTable()} {
		exists, err := m.types.TableExists(ctx, table)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

// Initialize creates the base schema: both metadata tables and one value
// table per backend type. It is idempotent and atomic; on failure every
// table from this call is rolled back.
func (m *Manager) Initialize(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "SchemaManager.Initialize")
	defer span.End()

	initialized, err := m.IsInitialized(ctx)
	if err != nil {
		return NewSynchronizationError("failed to check base schema", "base schema probe failed").Wrap(err)
	}
	if initialized {
		return nil
	}

	ctx, tx, err := m.db.GetTx(ctx, nil)
	if err != nil {
		return NewSynchronizationError("failed to begin transaction", "base schema initialization failed").Wrap(err)
	}
	defer tx.Rollback(ctx)

	for _, def := range m.builder.BaseTables() {
		for _, stmt := range def.AllSQL() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": def.Name}).Error("failed to create base table")
				return NewSynchronizationError(
					fmt.Sprintf("failed to create table %s", def.Name),
					"base schema initialization failed",
				).AddContext("table", def.Name).Wrap(err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return NewSynchronizationError("failed to commit base schema", "base schema initialization failed").Wrap(err)
	}

	m.logger.WithContext(ctx).Info("initialized base schema")
	return nil
}

// Synchronize makes the database match the configured entity type: the base
// schema exists, the entity type row exists (its id is captured onto
// entityType), its entity table exists, and the persisted attribute metadata
// matches configuration. Running it twice with unchanged configuration
// changes nothing the second time.
func (m *Manager) Synchronize(ctx context.Context, entityType *models.EntityType) error {
	ctx, span := tracing.StartSpan(ctx, "SchemaManager.Synchronize")
	defer span.End()

	if err := m.validateConfig(entityType); err != nil {
		return NewSynchronizationError("invalid entity type configuration", "synchronization rejected").
			AddContext("entity_code", entityType.Code).Wrap(err)
	}

	if err := m.Initialize(ctx); err != nil {
		return err
	}

	ctx, tx, err := m.db.GetTx(ctx, nil)
	if err != nil {
		return NewSynchronizationError("failed to begin transaction", "synchronization failed").
			AddContext("entity_code", entityType.Code).Wrap(err)
	}
	defer tx.Rollback(ctx)

	existing, err := m.types.GetByCode(ctx, entityType.Code)
	if err != nil {
		return NewSynchronizationError("failed to look up entity type", "synchronization failed").
			AddContext("entity_code", entityType.Code).Wrap(err)
	}

	if existing == nil {
		id, err := m.types.Create(ctx, entityType)
		if err != nil {
			return NewSynchronizationError("failed to insert entity type", "synchronization failed").
				AddContext("entity_code", entityType.Code).Wrap(err)
		}
		entityType.ID = id
	} else {
		entityType.ID = existing.ID
	}

	tableExists, err := m.types.TableExists(ctx, entityType.EntityTable)
	if err != nil {
		return NewSynchronizationError("failed to check entity table", "synchronization failed").
			AddContext("entity_code", entityType.Code).Wrap(err)
	}
	if !tableExists {
		for _, stmt := range m.builder.BuildEntityTable(entityType).AllSQL() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return NewSynchronizationError("failed to create entity table", "synchronization failed").
					AddContext("entity_code", entityType.Code).
					AddContext("entity_table", entityType.EntityTable).Wrap(err)
			}
		}
	}

	if err := m.SynchronizeAttributes(ctx, entityType); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return NewSynchronizationError("failed to commit synchronization", "synchronization failed").
			AddContext("entity_code", entityType.Code).Wrap(err)
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_code":    entityType.Code,
		"entity_type_id": entityType.ID,
	}).Info("synchronized entity type")

	return nil
}

// SynchronizeAttributes diffs configured attributes against persisted
// metadata: new codes are inserted (capturing the assigned id), changed
// rows are updated, unchanged rows are left untouched. Changing an
// attribute's backend type is refused once value rows exist in the old
// value table; there is no migration path for stored values.
func (m *Manager) SynchronizeAttributes(ctx context.Context, entityType *models.EntityType) error {
	ctx, span := tracing.StartSpan(ctx, "SchemaManager.SynchronizeAttributes")
	defer span.End()

	ctx, tx, err := m.db.GetTx(ctx, nil)
	if err != nil {
		return NewSynchronizationError("failed to begin transaction", "attribute synchronization failed").
			AddContext("entity_code", entityType.Code).Wrap(err)
	}
	defer tx.Rollback(ctx)

	persisted, err := m.attributes.ListByEntityType(ctx, entityType.ID)
	if err != nil {
		return NewSynchronizationError("failed to list persisted attributes", "attribute synchronization failed").
			AddContext("entity_code", entityType.Code).Wrap(err)
	}

	persistedByCode := make(map[string]*models.Attribute, len(persisted))
	for _, attr := range persisted {
		persistedByCode[attr.Code] = attr
	}

	for _, attr := range entityType.Attributes {
		attr.EntityTypeID = entityType.ID

		current, ok := persistedByCode[attr.Code]
		if !ok {
			id, err := m.attributes.Create(ctx, attr)
			if err != nil {
				return NewSynchronizationError("failed to insert attribute", "attribute synchronization failed").
					AddContext("entity_code", entityType.Code).
					AddContext("attribute_code", attr.Code).Wrap(err)
			}
			attr.ID = id
			continue
		}

		attr.ID = current.ID
		if current.Equal(attr) {
			continue
		}

		if current.BackendType != attr.BackendType {
			hasValues, err := m.attributes.HasValues(ctx, entityType.ID, current.ID, current.BackendType)
			if err != nil {
				return NewSynchronizationError("failed to check existing values", "attribute synchronization failed").
					AddContext("entity_code", entityType.Code).
					AddContext("attribute_code", attr.Code).Wrap(err)
			}
			if hasValues {
				return NewSynchronizationError(
					fmt.Sprintf("cannot change backend type of attribute %q from %s to %s: values exist", attr.Code, current.BackendType, attr.BackendType),
					"backend type change refused",
				).AddContext("entity_code", entityType.Code).
					AddContext("attribute_code", attr.Code).
					AddContext("backend_type", current.BackendType.String())
			}
		}

		if err := m.attributes.Update(ctx, attr); err != nil {
			return NewSynchronizationError("failed to update attribute", "attribute synchronization failed").
				AddContext("entity_code", entityType.Code).
				AddContext("attribute_code", attr.Code).Wrap(err)
		}
	}

	return tx.Commit(ctx)
}

// NeedsSynchronization is a read-only dry run: true when the entity type
// row, its entity table or any configured attribute code is missing.
func (m *Manager) NeedsSynchronization(ctx context.Context, entityType *models.EntityType) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "SchemaManager.NeedsSynchronization")
	defer span.End()

	initialized, err := m.IsInitialized(ctx)
	if err != nil {
		return false, err
	}
	if !initialized {
		return true, nil
	}

	existing, err := m.types.GetByCode(ctx, entityType.Code)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return true, nil
	}

	tableExists, err := m.types.TableExists(ctx, entityType.EntityTable)
	if err != nil {
		return false, err
	}
	if !tableExists {
		return true, nil
	}

	persisted, err := m.attributes.ListByEntityType(ctx, existing.ID)
	if err != nil {
		return false, err
	}
	persistedByCode := make(map[string]struct{}, len(persisted))
	for _, attr := range persisted {
		persistedByCode[attr.Code] = struct{}{}
	}
	for _, attr := range entityType.Attributes {
		if _, ok := persistedByCode[attr.Code]; !ok {
			return true, nil
		}
	}

	return false, nil
}

// ExportSchema returns the tooling-facing description of one synchronized
// entity type.
func (m *Manager) ExportSchema(ctx context.Context, code string) (*models.SchemaExport, error) {
	ctx, span := tracing.StartSpan(ctx, "SchemaManager.ExportSchema")
	defer span.End()

	entityType, err := m.types.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if entityType == nil {
		return nil, nil
	}

	attrs, err := m.attributes.ListByEntityType(ctx, entityType.ID)
	if err != nil {
		return nil, err
	}

	fields := make([]models.SchemaExportField, 0, len(attrs))
	for _, attr := range attrs {
		fields = append(fields, models.SchemaExportField{
			Code:        attr.Code,
			Label:       attr.Label,
			BackendType: attr.BackendType,
			Required:    attr.IsRequired,
			Unique:      attr.IsUnique,
			SortOrder:   attr.SortOrder,
		})
	}

	return &models.SchemaExport{
		EntityType: entityType.Code,
		Label:      entityType.Label,
		Table:      entityType.EntityTable,
		Fields:     fields,
	}, nil
}

// validateConfig rejects malformed configuration before any transaction
// begins: struct tags via validator, duplicate attribute codes by hand.
func (m *Manager) validateConfig(entityType *models.EntityType) error {
	if err := validate.Struct(entityType); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(entityType.Attributes))
	for _, attr := range entityType.Attributes {
		if _, ok := seen[attr.Code]; ok {
			return fmt.Errorf("duplicate attribute code %q", attr.Code)
		}
		seen[attr.Code] = struct{}{}
		if !attr.BackendType.Valid() {
			return fmt.Errorf("attribute %q: unknown backend type %q", attr.Code, attr.BackendType)
		}
	}
	return nil
}
