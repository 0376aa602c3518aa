package entitytype

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

// EntityTypeRepository defines metadata operations on eav_entity_type.
type EntityTypeRepository interface {
	GetByCode(ctx context.Context, code string) (*models.EntityType, error)
	Create(ctx context.Context, entityType *models.EntityType) (int64, error)
	List(ctx context.Context) ([]models.EntityType, error)
	TableExists(ctx context.Context, table string) (bool, error)
}

// Repository implements EntityTypeRepository.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity type repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetByCode returns the entity type row with the given code, or nil when it
// has never been synchronized. Reads join any transaction carried by ctx.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.EntityType, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityTypeRepository.GetByCode")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("entity_type_id", "entity_code", "entity_label", "entity_table", "storage_strategy", "created_at", "updated_at")
	sb.From(models.EntityTypeTable)
	sb.Where(sb.Equal("entity_code", code))

	query, args := sb.Build()

	var et models.EntityType
	err := database.FromContext(ctx, r.db).GetContext(ctx, &et, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get entity type by code")
		return nil, fmt.Errorf("failed to get entity type: %w", err)
	}

	return &et, nil
}

// Create inserts the entity type row and returns the assigned id.
func (r *Repository) Create(ctx context.Context, entityType *models.EntityType) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityTypeRepository.Create")
	defer span.End()

	now := time.Now().UTC()
	strategy := entityType.StorageStrategy
	if strategy == "" {
		strategy = models.DefaultStorageStrategy
	}

	sb := database.NewInsertBuilder()
	sb.InsertInto(models.EntityTypeTable)
	sb.Cols("entity_code", "entity_label", "entity_table", "storage_strategy", "created_at", "updated_at")
	sb.Values(entityType.Code, entityType.Label, entityType.EntityTable, strategy, now, now)
	sb.Returning("entity_type_id")

	query, args := sb.Build()

	var id int64
	err := database.FromContext(ctx, r.db).GetContext(ctx, &id, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create entity type")
		return 0, fmt.Errorf("failed to create entity type: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type_id": id,
		"entity_code":    entityType.Code,
	}).Info("created entity type")

	return id, nil
}

// List returns every synchronized entity type ordered by code.
func (r *Repository) List(ctx context.Context) ([]models.EntityType, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityTypeRepository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("entity_type_id", "entity_code", "entity_label", "entity_table", "storage_strategy", "created_at", "updated_at")
	sb.From(models.EntityTypeTable)
	sb.OrderBy("entity_code ASC")

	query, args := sb.Build()

	var items []models.EntityType
	err := database.FromContext(ctx, r.db).SelectContext(ctx, &items, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list entity types")
		return nil, fmt.Errorf("failed to list entity types: %w", err)
	}

	return items, nil
}

// TableExists reports whether the named table exists in the connected
// database. Used by the schema manager's initialization and dry-run checks.
func (r *Repository) TableExists(ctx context.Context, table string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityTypeRepository.TableExists")
	defer span.End()

	var regclass *string
	err := database.FromContext(ctx, r.db).GetContext(ctx, &regclass, "SELECT to_regclass($1)", table)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": table}).Error("failed to check table existence")
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}

	return regclass != nil, nil
}
