package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/andrfilipenk/new-sub001/pkg/database"
	"github.com/andrfilipenk/new-sub001/pkg/models"
	"github.com/andrfilipenk/new-sub001/pkg/tracing"
)

// Filter is one attribute-level query predicate. Attribute names an
// attribute code of the entity type, or one of the entity columns
// entity_id / created_at / updated_at.
type Filter struct {
	Attribute string
	Operator  string
	Value     any
}

// Sort orders query results by an attribute value or entity column.
type Sort struct {
	Attribute  string
	Descending bool
}

// QueryOptions bundles the predicate, ordering and paging of a Query call.
type QueryOptions struct {
	Filters []Filter
	Sorts   []Sort
	Limit   int
	Offset  int
}

var allowedOperators = map[string]struct{}{
	"=": {}, "!=": {}, "<": {}, "<=": {}, ">": {}, ">=": {}, "LIKE": {},
}

var entityColumns = map[string]struct{}{
	"entity_id": {}, "created_at": {}, "updated_at": {},
}

// Storage reads and writes entities against the dynamic schema. Value reads
// are batched per backend type, value writes are atomic upserts, and every
// mutation runs in one transaction. All failures wrap in *StorageError.
type Storage struct {
	db       database.DB
	factory  *StrategyFactory
	identity *IdentityMap
	logger   ectologger.Logger
}

// NewStorage creates a storage backed by db. identity may be nil when no
// per-scope instance coherence is wanted.
func NewStorage(db database.DB, factory *StrategyFactory, identity *IdentityMap, logger ectologger.Logger) *Storage {
	return &Storage{
		db:       db,
		factory:  factory,
		identity: identity,
		logger:   logger,
	}
}

type entityRow struct {
	EntityID     int64     `db:"entity_id"`
	EntityTypeID int64     `db:"entity_type_id"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type valueRow struct {
	AttributeID int64 `db:"attribute_id"`
	EntityID    int64 `db:"entity_id"`
	Value       any   `db:"value"`
}

// Load fetches one entity with all its attribute values. Returns nil when no
// row exists. The loaded entity starts clean and, when an identity map is
// attached, the same (type, id) always yields the same instance.
func (s *Storage) Load(ctx context.Context, entityType *models.EntityType, id int64) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "Storage.Load")
	defer span.End()

	if s.identity != nil {
		if e := s.identity.Get(entityType.Code, id); e != nil {
			return e, nil
		}
	}

	entities, err := s.LoadMultiple(ctx, entityType, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return entities[0], nil
}

// LoadMultiple fetches a set of entities by id. Ids with no row are simply
// absent from the result. Value hydration issues one query per backend type
// present in the entity type's attribute set, not one per attribute.
func (s *Storage) LoadMultiple(ctx context.Context, entityType *models.EntityType, ids []int64) ([]*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "Storage.LoadMultiple")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	q := database.FromContext(ctx, s.db)

	sb := database.NewSelectBuilder()
	sb.Select("entity_id", "entity_type_id", "created_at", "updated_at").
		From(entityType.EntityTable)
	sb.Where(
		sb.EQ("entity_type_id", entityType.ID),
		sb.In("entity_id", sqlbuilder.List(ids)),
	)
	query, args := sb.Build()

	var rows []entityRow
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_code": entityType.Code}).Error("failed to load entity rows")
		return nil, NewStorageError("failed to load entity rows", "entity load failed").
			AddContext("entity_code", entityType.Code).Wrap(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	byID := make(map[int64]*models.Entity, len(rows))
	entities := make([]*models.Entity, 0, len(rows))
	loadedIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		e := models.NewEntity(entityType.Code)
		e.ID = row.EntityID
		e.CreatedAt = row.CreatedAt
		e.UpdatedAt = row.UpdatedAt
		byID[row.EntityID] = e
		entities = append(entities, e)
		loadedIDs = append(loadedIDs, row.EntityID)
	}

	if err := s.hydrateValues(ctx, entityType, byID, loadedIDs); err != nil {
		return nil, err
	}

	for _, e := range entities {
		e.MarkClean()
		if s.identity != nil {
			s.identity.Set(e)
		}
	}
	return entities, nil
}

// hydrateValues fills attribute values onto the entities, one query per
// backend type.
func (s *Storage) hydrateValues(ctx context.Context, entityType *models.EntityType, byID map[int64]*models.Entity, ids []int64) error {
	q := database.FromContext(ctx, s.db)

	for backendType, attrs := range entityType.AttributesByBackend() {
		strategy, err := s.factory.GetStrategy(backendType)
		if err != nil {
			return NewStorageError("no strategy for backend type", "entity load failed").
				AddContext("backend_type", backendType.String()).Wrap(err)
		}

		attrIDs := make([]int64, 0, len(attrs))
		attrByID := make(map[int64]*models.Attribute, len(attrs))
		for _, a := range attrs {
			attrIDs = append(attrIDs, a.ID)
			attrByID[a.ID] = a
		}

		sb := database.NewSelectBuilder()
		sb.Select("attribute_id", "entity_id", "value").From(strategy.Table())
		sb.Where(
			sb.EQ("entity_type_id", entityType.ID),
			sb.In("entity_id", sqlbuilder.List(ids)),
			sb.In("attribute_id", sqlbuilder.List(attrIDs)),
		)
		query, args := sb.Build()

		rows, err := q.QueryxContext(ctx, query, args...)
		if err != nil {
			return NewStorageError("failed to load attribute values", "entity load failed").
				AddContext("entity_code", entityType.Code).
				AddContext("backend_type", backendType.String()).Wrap(err)
		}

		for rows.Next() {
			var vr valueRow
			if err := rows.StructScan(&vr); err != nil {
				rows.Close()
				return NewStorageError("failed to scan attribute value", "entity load failed").
					AddContext("entity_code", entityType.Code).Wrap(err)
			}
			attr, ok := attrByID[vr.AttributeID]
			if !ok {
				continue
			}
			value, err := strategy.FromStorage(vr.Value)
			if err != nil {
				rows.Close()
				return NewStorageError("failed to transform stored value", "entity load failed").
					AddContext("entity_code", entityType.Code).
					AddContext("attribute_code", attr.Code).Wrap(err)
			}
			if e, ok := byID[vr.EntityID]; ok {
				e.SetLoaded(attr.Code, value)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return NewStorageError("failed to iterate attribute values", "entity load failed").
				AddContext("entity_code", entityType.Code).Wrap(err)
		}
		rows.Close()
	}
	return nil
}

// Save persists the entity transactionally. A new entity gets its row
// inserted (capturing the assigned id) and every set attribute written; an
// existing entity gets its updated_at bumped and only dirty attributes
// written. Each value write is a single atomic upsert, so at most one value
// row per entity and attribute can ever exist. A nil value removes the
// value row. Dirty tracking resets after a successful save.
func (s *Storage) Save(ctx context.Context, entityType *models.EntityType, entity *models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "Storage.Save")
	defer span.End()

	var codes []string
	isNew := entity.IsNew()
	if isNew {
		for code := range entity.Values() {
			codes = append(codes, code)
		}
		if err := s.checkRequired(entityType, entity); err != nil {
			return err
		}
	} else {
		codes = entity.DirtyCodes()
	}
	sort.Strings(codes)

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return NewStorageError("failed to begin transaction", "entity save failed").
			AddContext("entity_code", entityType.Code).Wrap(err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	q := database.FromContext(ctx, s.db)

	// A rolled-back save must leave the entity looking unsaved, otherwise a
	// retry takes the update path against an entity row that no longer exists
	// and writes orphan value rows.
	prevUpdated := entity.UpdatedAt
	revert := func() {
		if isNew {
			entity.ID = 0
			entity.CreatedAt = time.Time{}
		}
		entity.UpdatedAt = prevUpdated
	}

	if isNew {
		ib := database.NewInsertBuilder().
			InsertInto(entityType.EntityTable).
			Cols("entity_type_id", "created_at", "updated_at").
			Values(entityType.ID, now, now).
			Returning("entity_id")
		query, args := ib.Build()
		if err := q.GetContext(ctx, &entity.ID, query, args...); err != nil {
			revert()
			return NewStorageError("failed to insert entity row", "entity save failed").
				AddContext("entity_code", entityType.Code).Wrap(err)
		}
		entity.CreatedAt = now
	} else {
		ub := database.NewUpdateBuilder()
		ub.Update(entityType.EntityTable).Set(ub.Assign("updated_at", now))
		ub.Where(ub.EQ("entity_id", entity.ID), ub.EQ("entity_type_id", entityType.ID))
		query, args := ub.Build()
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return NewStorageError("failed to update entity row", "entity save failed").
				AddContext("entity_code", entityType.Code).
				AddContext("entity_id", entity.ID).Wrap(err)
		}
	}
	entity.UpdatedAt = now

	for _, code := range codes {
		if err := s.saveValue(ctx, q, entityType, entity, code); err != nil {
			revert()
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		revert()
		return NewStorageError("failed to commit entity save", "entity save failed").
			AddContext("entity_code", entityType.Code).
			AddContext("entity_id", entity.ID).Wrap(err)
	}

	entity.MarkClean()
	if s.identity != nil {
		s.identity.Set(entity)
	}
	return nil
}

func (s *Storage) saveValue(ctx context.Context, q database.Queryer, entityType *models.EntityType, entity *models.Entity, code string) error {
	attr := entityType.Attribute(code)
	if attr == nil {
		return NewStorageError(
			fmt.Sprintf("attribute %q is not configured on entity type %q", code, entityType.Code),
			"entity save failed",
		).AddContext("entity_code", entityType.Code).AddContext("attribute_code", code)
	}

	strategy, err := s.factory.GetStrategy(attr.BackendType)
	if err != nil {
		return NewStorageError("no strategy for backend type", "entity save failed").
			AddContext("attribute_code", code).
			AddContext("backend_type", attr.BackendType.String()).Wrap(err)
	}

	value, _ := entity.Get(code)
	if value == nil {
		db := database.NewDeleteBuilder()
		db.DeleteFrom(strategy.Table())
		db.Where(
			db.EQ("entity_type_id", entityType.ID),
			db.EQ("attribute_id", attr.ID),
			db.EQ("entity_id", entity.ID),
		)
		query, args := db.Build()
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return NewStorageError("failed to remove attribute value", "entity save failed").
				AddContext("entity_id", entity.ID).
				AddContext("attribute_code", code).Wrap(err)
		}
		return nil
	}

	stored, err := strategy.ToStorage(value)
	if err != nil {
		return NewStorageError("failed to transform attribute value", "entity save failed").
			AddContext("entity_id", entity.ID).
			AddContext("attribute_code", code).Wrap(err)
	}

	ib := database.NewInsertBuilder().
		InsertInto(strategy.Table()).
		Cols("entity_type_id", "attribute_id", "entity_id", "value").
		Values(entityType.ID, attr.ID, entity.ID, stored)
	ub := ib.OnConflict("entity_type_id", "attribute_id", "entity_id")
	ub.Set(ub.Assign("value", database.Excluded("value")))
	query, args := ib.Build()

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return NewStorageError("failed to upsert attribute value", "entity save failed").
			AddContext("entity_id", entity.ID).
			AddContext("attribute_code", code).Wrap(err)
	}
	return nil
}

func (s *Storage) checkRequired(entityType *models.EntityType, entity *models.Entity) error {
	for _, attr := range entityType.Attributes {
		if !attr.IsRequired {
			continue
		}
		if v, ok := entity.Get(attr.Code); !ok || v == nil {
			return NewStorageError(
				fmt.Sprintf("required attribute %q is missing", attr.Code),
				"entity save rejected",
			).AddContext("entity_code", entityType.Code).AddContext("attribute_code", attr.Code)
		}
	}
	return nil
}

// Delete removes the entity's value rows from every backend table its
// attribute set references, then the entity row, in one transaction. A
// never-saved entity returns false without touching storage.
func (s *Storage) Delete(ctx context.Context, entityType *models.EntityType, entity *models.Entity) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "Storage.Delete")
	defer span.End()

	if entity.IsNew() {
		return false, nil
	}

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return false, NewStorageError("failed to begin transaction", "entity delete failed").
			AddContext("entity_id", entity.ID).Wrap(err)
	}
	defer tx.Rollback(ctx)

	q := database.FromContext(ctx, s.db)

	for backendType := range entityType.AttributesByBackend() {
		strategy, err := s.factory.GetStrategy(backendType)
		if err != nil {
			return false, NewStorageError("no strategy for backend type", "entity delete failed").
				AddContext("backend_type", backendType.String()).Wrap(err)
		}
		db := database.NewDeleteBuilder()
		db.DeleteFrom(strategy.Table())
		db.Where(db.EQ("entity_type_id", entityType.ID), db.EQ("entity_id", entity.ID))
		query, args := db.Build()
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return false, NewStorageError("failed to delete attribute values", "entity delete failed").
				AddContext("entity_id", entity.ID).
				AddContext("backend_type", backendType.String()).Wrap(err)
		}
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(entityType.EntityTable)
	db.Where(db.EQ("entity_id", entity.ID), db.EQ("entity_type_id", entityType.ID))
	query, args := db.Build()
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return false, NewStorageError("failed to delete entity row", "entity delete failed").
			AddContext("entity_id", entity.ID).Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, NewStorageError("failed to commit entity delete", "entity delete failed").
			AddContext("entity_id", entity.ID).Wrap(err)
	}

	if s.identity != nil {
		s.identity.Remove(entityType.Code, entity.ID)
	}
	return true, nil
}

// Query returns entities of the type matching the filters, ordered and
// paged. Attribute filters become EXISTS subqueries against the attribute's
// value table, attribute sorts become scalar subqueries, so the entity table
// stays the single driving table.
func (s *Storage) Query(ctx context.Context, entityType *models.EntityType, opts QueryOptions) ([]*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "Storage.Query")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("e.entity_id").From(entityType.EntityTable + " e")
	sb.Where(sb.EQ("e.entity_type_id", entityType.ID))

	if err := s.applyFilters(sb, entityType, opts.Filters); err != nil {
		return nil, err
	}
	if err := s.applySorts(sb, entityType, opts.Sorts); err != nil {
		return nil, err
	}
	if opts.Limit > 0 {
		sb.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		sb.Offset(opts.Offset)
	}

	query, args := sb.Build()

	q := database.FromContext(ctx, s.db)
	var ids []int64
	if err := q.SelectContext(ctx, &ids, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_code": entityType.Code}).Error("entity query failed")
		return nil, NewStorageError("failed to query entities", "entity query failed").
			AddContext("entity_code", entityType.Code).Wrap(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	entities, err := s.LoadMultiple(ctx, entityType, ids)
	if err != nil {
		return nil, err
	}

	// LoadMultiple has no order guarantee; restore the query's ordering.
	byID := make(map[int64]*models.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}
	ordered := make([]*models.Entity, 0, len(entities))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}

// Count counts entities of the type matching the filters.
func (s *Storage) Count(ctx context.Context, entityType *models.EntityType, filters []Filter) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "Storage.Count")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)").From(entityType.EntityTable + " e")
	sb.Where(sb.EQ("e.entity_type_id", entityType.ID))

	if err := s.applyFilters(sb, entityType, filters); err != nil {
		return 0, err
	}

	query, args := sb.Build()

	q := database.FromContext(ctx, s.db)
	var count int64
	if err := q.GetContext(ctx, &count, query, args...); err != nil {
		return 0, NewStorageError("failed to count entities", "entity count failed").
			AddContext("entity_code", entityType.Code).Wrap(err)
	}
	return count, nil
}

func (s *Storage) applyFilters(sb *database.SelectBuilder, entityType *models.EntityType, filters []Filter) error {
	for _, f := range filters {
		op := f.Operator
		if op == "" {
			op = "="
		}
		if _, ok := allowedOperators[op]; !ok {
			return NewStorageError(fmt.Sprintf("unsupported filter operator %q", f.Operator), "entity query rejected").
				AddContext("attribute_code", f.Attribute)
		}

		if _, ok := entityColumns[f.Attribute]; ok {
			sb.Where(fmt.Sprintf("e.%s %s %s", f.Attribute, op, sb.Var(f.Value)))
			continue
		}

		attr := entityType.Attribute(f.Attribute)
		if attr == nil {
			return NewStorageError(
				fmt.Sprintf("filter attribute %q is not configured on entity type %q", f.Attribute, entityType.Code),
				"entity query rejected",
			).AddContext("attribute_code", f.Attribute)
		}
		strategy, err := s.factory.GetStrategy(attr.BackendType)
		if err != nil {
			return NewStorageError("no strategy for backend type", "entity query rejected").
				AddContext("attribute_code", f.Attribute).Wrap(err)
		}
		stored := f.Value
		if op != "LIKE" {
			if stored, err = strategy.ToStorage(f.Value); err != nil {
				return NewStorageError("failed to transform filter value", "entity query rejected").
					AddContext("attribute_code", f.Attribute).Wrap(err)
			}
		}
		sb.Where(fmt.Sprintf(
			"EXISTS (SELECT 1 FROM %s v WHERE v.entity_id = e.entity_id AND v.attribute_id = %s AND v.value %s %s)",
			strategy.Table(), sb.Var(attr.ID), op, sb.Var(stored),
		))
	}
	return nil
}

func (s *Storage) applySorts(sb *database.SelectBuilder, entityType *models.EntityType, sorts []Sort) error {
	for _, sort := range sorts {
		dir := "ASC"
		if sort.Descending {
			dir = "DESC"
		}

		if _, ok := entityColumns[sort.Attribute]; ok {
			sb.OrderBy(fmt.Sprintf("e.%s %s", sort.Attribute, dir))
			continue
		}

		attr := entityType.Attribute(sort.Attribute)
		if attr == nil {
			return NewStorageError(
				fmt.Sprintf("sort attribute %q is not configured on entity type %q", sort.Attribute, entityType.Code),
				"entity query rejected",
			).AddContext("attribute_code", sort.Attribute)
		}
		strategy, err := s.factory.GetStrategy(attr.BackendType)
		if err != nil {
			return NewStorageError("no strategy for backend type", "entity query rejected").
				AddContext("attribute_code", sort.Attribute).Wrap(err)
		}
		sb.OrderBy(fmt.Sprintf(
			"(SELECT v.value FROM %s v WHERE v.entity_id = e.entity_id AND v.attribute_id = %s) %s",
			strategy.Table(), sb.Var(attr.ID), dir,
		))
	}
	return nil
}

// IsAvailable is a health probe: a trivial query against the entity table.
// It never propagates an error.
func (s *Storage) IsAvailable(ctx context.Context, entityType *models.EntityType) bool {
	ctx, span := tracing.StartSpan(ctx, "Storage.IsAvailable")
	defer span.End()

	var one int
	err := s.db.GetContext(ctx, &one, fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", entityType.EntityTable))
	if err != nil && err != sql.ErrNoRows {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_code": entityType.Code}).Warn("storage availability probe failed")
		return false
	}
	return true
}
