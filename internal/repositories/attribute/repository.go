package attribute

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/andrfilipenk/new-sub001/pkg/database"
	"github.com/andrfilipenk/new-sub001/pkg/models"
	"github.com/andrfilipenk/new-sub001/pkg/tracing"
)

// AttributeRepository defines metadata operations on eav_attribute.
type AttributeRepository interface {
	ListByEntityType(ctx context.Context, entityTypeID int64) ([]*models.Attribute, error)
	Create(ctx context.Context, attr *models.Attribute) (int64, error)
	Update(ctx context.Context, attr *models.Attribute) error
	HasValues(ctx context.Context, entityTypeID, attributeID int64, backendType models.BackendType) (bool, error)
}

// Repository implements AttributeRepository.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new attribute repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// attributeRow mirrors one eav_attribute row; validation_rules is a jsonb
// list of rule expressions.
type attributeRow struct {
	ID              int64                    `db:"attribute_id"`
	EntityTypeID    int64                    `db:"entity_type_id"`
	Code            string                   `db:"attribute_code"`
	Label           string                   `db:"attribute_label"`
	BackendType     string                   `db:"backend_type"`
	FrontendType    string                   `db:"frontend_type"`
	IsRequired      bool                     `db:"is_required"`
	IsUnique        bool                     `db:"is_unique"`
	IsSearchable    bool                     `db:"is_searchable"`
	IsFilterable    bool                     `db:"is_filterable"`
	DefaultValue    *string                  `db:"default_value"`
	ValidationRules database.JSONB[[]string] `db:"validation_rules"`
	SortOrder       int                      `db:"sort_order"`
	CreatedAt       time.Time                `db:"created_at"`
	UpdatedAt       time.Time                `db:"updated_at"`
}

func (row *attributeRow) toModel() (*models.Attribute, error) {
	backendType, err := models.ParseBackendType(row.BackendType)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", row.Code, err)
	}
	return &models.Attribute{
		ID:              row.ID,
		EntityTypeID:    row.EntityTypeID,
		Code:            row.Code,
		Label:           row.Label,
		BackendType:     backendType,
		FrontendType:    row.FrontendType,
		IsRequired:      row.IsRequired,
		IsUnique:        row.IsUnique,
		IsSearchable:    row.IsSearchable,
		IsFilterable:    row.IsFilterable,
		DefaultValue:    row.DefaultValue,
		ValidationRules: row.ValidationRules.Data,
		SortOrder:       row.SortOrder,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}, nil
}

const columns = "attribute_id, entity_type_id, attribute_code, attribute_label, backend_type, frontend_type, is_required, is_unique, is_searchable, is_filterable, default_value, validation_rules, sort_order, created_at, updated_at"

// ListByEntityType returns the persisted attributes of one entity type
// ordered by sort order. Reads join any transaction carried by ctx.
func (r *Repository) ListByEntityType(ctx context.Context, entityTypeID int64) ([]*models.Attribute, error) {
	ctx, span := tracing.StartSpan(ctx, "AttributeRepository.ListByEntityType")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns)
	sb.From(models.AttributeTable)
	sb.Where(sb.Equal("entity_type_id", entityTypeID))
	sb.OrderBy("sort_order ASC, attribute_code ASC")

	query, args := sb.Build()

	var rows []attributeRow
	err := database.FromContext(ctx, r.db).SelectContext(ctx, &rows, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list attributes")
		return nil, fmt.Errorf("failed to list attributes: %w", err)
	}

	attrs := make([]*models.Attribute, 0, len(rows))
	for i := range rows {
		attr, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// Create inserts the attribute row and returns the assigned id.
func (r *Repository) Create(ctx context.Context, attr *models.Attribute) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "AttributeRepository.Create")
	defer span.End()

	now := time.Now().UTC()

	sb := database.NewInsertBuilder()
	sb.InsertInto(models.AttributeTable)
	sb.Cols("entity_type_id", "attribute_code", "attribute_label", "backend_type", "frontend_type",
		"is_required", "is_unique", "is_searchable", "is_filterable",
		"default_value", "validation_rules", "sort_order", "created_at", "updated_at")
	sb.Values(attr.EntityTypeID, attr.Code, attr.Label, attr.BackendType.String(), attr.FrontendType,
		attr.IsRequired, attr.IsUnique, attr.IsSearchable, attr.IsFilterable,
		attr.DefaultValue, database.JSONB[[]string]{Data: attr.ValidationRules}, attr.SortOrder, now, now)
	sb.Returning("attribute_id")

	query, args := sb.Build()

	var id int64
	err := database.FromContext(ctx, r.db).GetContext(ctx, &id, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_type_id": attr.EntityTypeID,
			"attribute_code": attr.Code,
		}).Error("failed to create attribute")
		return 0, fmt.Errorf("failed to create attribute: %w", err)
	}

	return id, nil
}

// Update rewrites the mutable configuration fields of a persisted attribute.
func (r *Repository) Update(ctx context.Context, attr *models.Attribute) error {
	ctx, span := tracing.StartSpan(ctx, "AttributeRepository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(models.AttributeTable)
	ub.Set(
		ub.Assign("attribute_label", attr.Label),
		ub.Assign("backend_type", attr.BackendType.String()),
		ub.Assign("frontend_type", attr.FrontendType),
		ub.Assign("is_required", attr.IsRequired),
		ub.Assign("is_unique", attr.IsUnique),
		ub.Assign("is_searchable", attr.IsSearchable),
		ub.Assign("is_filterable", attr.IsFilterable),
		ub.Assign("default_value", attr.DefaultValue),
		ub.Assign("validation_rules", database.JSONB[[]string]{Data: attr.ValidationRules}),
		ub.Assign("sort_order", attr.SortOrder),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("attribute_id", attr.ID))

	query, args := ub.Build()

	_, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"attribute_id":   attr.ID,
			"attribute_code": attr.Code,
		}).Error("failed to update attribute")
		return fmt.Errorf("failed to update attribute: %w", err)
	}

	return nil
}

// HasValues reports whether any value row exists for the attribute in the
// value table of the given backend type. Guards backend type changes once
// data has been written.
func (r *Repository) HasValues(ctx context.Context, entityTypeID, attributeID int64, backendType models.BackendType) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "AttributeRepository.HasValues")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("1")
	sb.From(backendType.ValueTable())
	sb.Where(
		sb.Equal("entity_type_id", entityTypeID),
		sb.Equal("attribute_id", attributeID),
	)
	sb.Limit(1)

	query, args := sb.Build()

	var one int
	err := database.FromContext(ctx, r.db).GetContext(ctx, &one, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to check attribute values")
		return false, fmt.Errorf("failed to check attribute values: %w", err)
	}
	return true, nil
}
