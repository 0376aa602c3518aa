package integration

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrfilipenk/new-sub001/internal/repositories/attribute"
	"github.com/andrfilipenk/new-sub001/internal/repositories/entitytype"
	"github.com/andrfilipenk/new-sub001/pkg/cache"
	"github.com/andrfilipenk/new-sub001/pkg/database"
	"github.com/andrfilipenk/new-sub001/pkg/logging"
	"github.com/andrfilipenk/new-sub001/pkg/models"
	"github.com/andrfilipenk/new-sub001/pkg/schema"
	"github.com/andrfilipenk/new-sub001/pkg/storage"
)

type scenario struct {
	db       database.DB
	mock     sqlmock.Sqlmock
	schema   *schema.Manager
	storage  *storage.Storage
	identity *storage.IdentityMap
	cache    *cache.Manager
	strategy *cache.InvalidationStrategy
}

func newScenario(t *testing.T) *scenario {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	logger := logging.NewNop()
	db := database.NewDatabaseInstance(sqlx.NewDb(mockDB, "sqlmock"), logger)

	identity := storage.NewIdentityMap()
	manager := cache.NewManager(cache.NewMemoryDriver(), cache.NewMemoryDriver(),
		cache.NewQueryCache(cache.NewMemoryDriver(), logger), logger)

	return &scenario{
		db:       db,
		mock:     mock,
		schema:   schema.NewManager(db, schema.NewStructureBuilder(), entitytype.NewRepository(db, logger), attribute.NewRepository(db, logger), logger),
		storage:  storage.NewStorage(db, storage.NewStrategyFactory(), identity, logger),
		identity: identity,
		cache:    manager,
		strategy: cache.NewInvalidationStrategy(manager, cache.DefaultInvalidationConfig(), logger),
	}
}

func productCatalogType() *models.EntityType {
	return models.NewEntityType("product", "Product", "product_entity",
		&models.Attribute{Code: "name", Label: "Name", BackendType: models.BackendVarchar, IsRequired: true, SortOrder: 1},
		&models.Attribute{Code: "price", Label: "Price", BackendType: models.BackendDecimal, SortOrder: 2},
		&models.Attribute{Code: "released_at", Label: "Released At", BackendType: models.BackendDatetime, SortOrder: 3},
	)
}

// regclassRow marks a table as existing for the to_regclass probe.
func regclassRow(name string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"to_regclass"}).AddRow(name)
}

func TestProductCatalogLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newScenario(t)
	et := productCatalogType()

	// Synchronize the product type against an initialized base schema.
	for _, table := range []string{"eav_entity_type", "eav_attribute", "eav_value_varchar"} {
		s.mock.ExpectQuery(`SELECT to_regclass\(\$1\)`).WithArgs(table).WillReturnRows(regclassRow(table))
	}
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`SELECT .* FROM eav_entity_type WHERE entity_code = `).
		WithArgs("product").
		WillReturnRows(sqlmock.NewRows([]string{"entity_type_id"}))
	s.mock.ExpectQuery(`INSERT INTO eav_entity_type .*RETURNING entity_type_id`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_type_id"}).AddRow(int64(3)))
	s.mock.ExpectQuery(`SELECT to_regclass\(\$1\)`).
		WithArgs("product_entity").
		WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow(nil))
	s.mock.ExpectExec(`CREATE TABLE IF NOT EXISTS product_entity`).WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_product_entity_entity_type`).WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectQuery(`SELECT .* FROM eav_attribute WHERE entity_type_id = `).
		WillReturnRows(sqlmock.NewRows([]string{"attribute_id"}))
	for _, id := range []int64{11, 12, 13} {
		s.mock.ExpectQuery(`INSERT INTO eav_attribute .*RETURNING attribute_id`).
			WillReturnRows(sqlmock.NewRows([]string{"attribute_id"}).AddRow(id))
	}
	s.mock.ExpectCommit()

	require.NoError(t, s.schema.Synchronize(ctx, et))
	assert.Equal(t, int64(3), et.ID)
	assert.Equal(t, int64(11), et.Attribute("name").ID)
	assert.Equal(t, int64(13), et.Attribute("released_at").ID)

	// Create a product; the decimal price rounds to scale four on the way in.
	released := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	product := models.NewEntity("product")
	product.Set("name", "Widget")
	product.Set("price", 19.99995)
	product.Set("released_at", released)

	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`INSERT INTO product_entity .*RETURNING entity_id`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id"}).AddRow(int64(1)))
	s.mock.ExpectExec(`INSERT INTO eav_value_varchar .*ON CONFLICT`).
		WithArgs(int64(3), int64(11), int64(1), "Widget").
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(`INSERT INTO eav_value_decimal .*ON CONFLICT`).
		WithArgs(int64(3), int64(12), int64(1), 20.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(`INSERT INTO eav_value_datetime .*ON CONFLICT`).
		WithArgs(int64(3), int64(13), int64(1), "2026-03-01 14:30:00").
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	require.NoError(t, s.storage.Save(ctx, et, product))
	assert.Equal(t, int64(1), product.ID)
	assert.Empty(t, product.DirtyCodes())

	// Cache the entity and a query result, then update the price; the
	// invalidation hook evicts both.
	s.cache.Set(ctx, cache.EntityKey("product", 1), "cached", 0)
	require.NoError(t, s.cache.QueryCache().Set(ctx, "query:product", []int64{1}, time.Minute,
		cache.EntityTypeTag("product"), cache.EntityTag("product", 1)))

	product.Set("price", 24.5)
	changed := product.DirtyCodes()

	s.mock.ExpectBegin()
	s.mock.ExpectExec(`UPDATE product_entity SET updated_at`).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(`INSERT INTO eav_value_decimal .*ON CONFLICT`).
		WithArgs(int64(3), int64(12), int64(1), 24.5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	require.NoError(t, s.storage.Save(ctx, et, product))
	invalidated := s.strategy.OnEntitySave(ctx, "product", 1, changed)
	assert.Equal(t, 1, invalidated)
	assert.False(t, s.cache.Has(ctx, cache.EntityKey("product", 1), cache.L1))

	// Loading through the identity map returns the live instance without SQL.
	loaded, err := s.storage.Load(ctx, et, 1)
	require.NoError(t, err)
	assert.Same(t, product, loaded)
	price, _ := loaded.Get("price")
	assert.Equal(t, 24.5, price)

	// Delete sweeps every value table the type uses plus the entity row.
	s.mock.MatchExpectationsInOrder(false)
	s.mock.ExpectBegin()
	s.mock.ExpectExec(`DELETE FROM eav_value_varchar`).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(`DELETE FROM eav_value_decimal`).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(`DELETE FROM eav_value_datetime`).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(`DELETE FROM product_entity`).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	deleted, err := s.storage.Delete(ctx, et, product)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, s.identity.Has("product", 1))

	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestSynchronizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newScenario(t)
	et := productCatalogType()
	now := time.Now().UTC()

	attrColumns := []string{
		"attribute_id", "entity_type_id", "attribute_code", "attribute_label", "backend_type",
		"frontend_type", "is_required", "is_unique", "is_searchable", "is_filterable",
		"default_value", "validation_rules", "sort_order", "created_at", "updated_at",
	}

	for _, table := range []string{"eav_entity_type", "eav_attribute", "eav_value_varchar"} {
		s.mock.ExpectQuery(`SELECT to_regclass\(\$1\)`).WithArgs(table).WillReturnRows(regclassRow(table))
	}
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`SELECT .* FROM eav_entity_type WHERE entity_code = `).
		WillReturnRows(sqlmock.NewRows([]string{
			"entity_type_id", "entity_code", "entity_label", "entity_table", "storage_strategy", "created_at", "updated_at",
		}).AddRow(int64(3), "product", "Product", "product_entity", "eav", now, now))
	s.mock.ExpectQuery(`SELECT to_regclass\(\$1\)`).
		WithArgs("product_entity").
		WillReturnRows(regclassRow("product_entity"))
	s.mock.ExpectQuery(`SELECT .* FROM eav_attribute WHERE entity_type_id = `).
		WillReturnRows(sqlmock.NewRows(attrColumns).
			AddRow(int64(11), int64(3), "name", "Name", "varchar", "", true, false, false, false, nil, nil, 1, now, now).
			AddRow(int64(12), int64(3), "price", "Price", "decimal", "", false, false, false, false, nil, nil, 2, now, now).
			AddRow(int64(13), int64(3), "released_at", "Released At", "datetime", "", false, false, false, false, nil, nil, 3, now, now))
	s.mock.ExpectCommit()

	require.NoError(t, s.schema.Synchronize(ctx, et))
	assert.Equal(t, int64(3), et.ID, "adopts the persisted id")
	assert.NoError(t, s.mock.ExpectationsWereMet(), "no insert, update or DDL on the second run")
}
