package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrfilipenk/new-sub001/pkg/database"
	"github.com/andrfilipenk/new-sub001/pkg/logging"
	"github.com/andrfilipenk/new-sub001/pkg/models"
)

func newTestStorage(t *testing.T) (*Storage, sqlmock.Sqlmock, *IdentityMap) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := database.NewDatabaseInstance(sqlx.NewDb(mockDB, "sqlmock"), logging.NewNop())
	identity := NewIdentityMap()
	return NewStorage(db, NewStrategyFactory(), identity, logging.NewNop()), mock, identity
}

func productType() *models.EntityType {
	return &models.EntityType{
		ID:          3,
		Code:        "product",
		Label:       "Product",
		EntityTable: "product_entity",
		Attributes: []*models.Attribute{
			{ID: 11, EntityTypeID: 3, Code: "name", Label: "Name", BackendType: models.BackendVarchar, IsRequired: true},
			{ID: 12, EntityTypeID: 3, Code: "price", Label: "Price", BackendType: models.BackendDecimal},
			{ID: 13, EntityTypeID: 3, Code: "released_at", Label: "Released At", BackendType: models.BackendDatetime},
		},
	}
}

func TestStorage_SaveNewEntity(t *testing.T) {
	s, mock, _ := newTestStorage(t)
	et := productType()

	entity := models.NewEntity("product")
	entity.Set("name", "Widget")
	entity.Set("price", 19.99995)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO product_entity \(entity_type_id, created_at, updated_at\).*RETURNING entity_id`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id"}).AddRow(int64(7)))
	mock.ExpectExec(`INSERT INTO eav_value_varchar \(entity_type_id, attribute_id, entity_id, value\).*ON CONFLICT \(entity_type_id, attribute_id, entity_id\) DO UPDATE`).
		WithArgs(int64(3), int64(11), int64(7), "Widget").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO eav_value_decimal .*ON CONFLICT \(entity_type_id, attribute_id, entity_id\) DO UPDATE`).
		WithArgs(int64(3), int64(12), int64(7), 20.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Save(context.Background(), et, entity)
	require.NoError(t, err)

	assert.Equal(t, int64(7), entity.ID)
	assert.Empty(t, entity.DirtyCodes())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_SaveWritesOnlyDirtyAttributes(t *testing.T) {
	s, mock, _ := newTestStorage(t)
	et := productType()

	entity := models.NewEntity("product")
	entity.ID = 7
	entity.SetLoaded("name", "Widget")
	entity.SetLoaded("price", 19.99)
	entity.Set("price", 24.5)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE product_entity SET updated_at = .* WHERE entity_id = .* AND entity_type_id = `).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO eav_value_decimal .*ON CONFLICT`).
		WithArgs(int64(3), int64(12), int64(7), 24.5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Save(context.Background(), et, entity)
	require.NoError(t, err)

	// No statement may touch the varchar or datetime tables for this save.
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, entity.DirtyCodes())
}

func TestStorage_SaveRejectsMissingRequiredAttribute(t *testing.T) {
	s, _, _ := newTestStorage(t)
	et := productType()

	entity := models.NewEntity("product")
	entity.Set("price", 10.0)

	err := s.Save(context.Background(), et, entity)
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}

func TestStorage_SaveUnknownAttributeRollsBack(t *testing.T) {
	s, mock, _ := newTestStorage(t)
	et := productType()

	entity := models.NewEntity("product")
	entity.Set("name", "Widget")
	entity.Set("bogus", "value")

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO product_entity .*RETURNING entity_id`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id"}).AddRow(int64(7)))
	mock.ExpectRollback()

	err := s.Save(context.Background(), et, entity)
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_SaveRolledBackEntityStaysNew(t *testing.T) {
	s, mock, _ := newTestStorage(t)
	et := productType()

	entity := models.NewEntity("product")
	entity.Set("name", "Widget")
	entity.Set("price", 19.99995)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO product_entity .*RETURNING entity_id`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id"}).AddRow(int64(7)))
	mock.ExpectExec(`INSERT INTO eav_value_varchar .*ON CONFLICT`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Save(context.Background(), et, entity)
	require.Error(t, err)
	assert.True(t, IsStorageError(err))

	// The rollback undid the entity row; the in-memory entity must look
	// unsaved so a retry re-inserts instead of updating a missing row.
	assert.True(t, entity.IsNew())
	assert.True(t, entity.CreatedAt.IsZero())
	assert.True(t, entity.UpdatedAt.IsZero())

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO product_entity .*RETURNING entity_id`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id"}).AddRow(int64(8)))
	mock.ExpectExec(`INSERT INTO eav_value_varchar .*ON CONFLICT`).
		WithArgs(int64(3), int64(11), int64(8), "Widget").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO eav_value_decimal .*ON CONFLICT`).
		WithArgs(int64(3), int64(12), int64(8), 20.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Save(context.Background(), et, entity))
	assert.Equal(t, int64(8), entity.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_SaveNilValueRemovesRow(t *testing.T) {
	s, mock, _ := newTestStorage(t)
	et := productType()

	entity := models.NewEntity("product")
	entity.ID = 7
	entity.SetLoaded("price", 19.99)
	entity.Set("price", nil)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE product_entity SET updated_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM eav_value_decimal WHERE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Save(context.Background(), et, entity)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_DeleteSpansAllBackendTables(t *testing.T) {
	s, mock, identity := newTestStorage(t)
	et := productType()

	entity := models.NewEntity("product")
	entity.ID = 7
	identity.Set(entity)

	// Value tables are visited in map order, so match out of order.
	mock.MatchExpectationsInOrder(false)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM eav_value_varchar WHERE`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM eav_value_decimal WHERE`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM eav_value_datetime WHERE`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM product_entity WHERE`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deleted, err := s.Delete(context.Background(), et, entity)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, identity.Has("product", 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_DeleteNewEntityIsNoOp(t *testing.T) {
	s, mock, _ := newTestStorage(t)
	et := productType()

	deleted, err := s.Delete(context.Background(), et, models.NewEntity("product"))
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_LoadHydratesValues(t *testing.T) {
	s, mock, identity := newTestStorage(t)
	et := productType()
	now := time.Now().UTC().Truncate(time.Second)

	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery(`SELECT entity_id, entity_type_id, created_at, updated_at FROM product_entity`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "entity_type_id", "created_at", "updated_at"}).
			AddRow(int64(7), int64(3), now, now))
	mock.ExpectQuery(`SELECT attribute_id, entity_id, value FROM eav_value_varchar`).
		WillReturnRows(sqlmock.NewRows([]string{"attribute_id", "entity_id", "value"}).
			AddRow(int64(11), int64(7), "Widget"))
	mock.ExpectQuery(`SELECT attribute_id, entity_id, value FROM eav_value_decimal`).
		WillReturnRows(sqlmock.NewRows([]string{"attribute_id", "entity_id", "value"}).
			AddRow(int64(12), int64(7), 20.0))
	mock.ExpectQuery(`SELECT attribute_id, entity_id, value FROM eav_value_datetime`).
		WillReturnRows(sqlmock.NewRows([]string{"attribute_id", "entity_id", "value"}))

	entity, err := s.Load(context.Background(), et, 7)
	require.NoError(t, err)
	require.NotNil(t, entity)

	name, _ := entity.Get("name")
	assert.Equal(t, "Widget", name)
	price, _ := entity.Get("price")
	assert.Equal(t, 20.0, price)
	assert.Empty(t, entity.DirtyCodes(), "loaded entity starts clean")

	assert.Same(t, entity, identity.Get("product", 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_LoadUsesIdentityMap(t *testing.T) {
	s, mock, identity := newTestStorage(t)
	et := productType()

	cached := models.NewEntity("product")
	cached.ID = 7
	identity.Set(cached)

	entity, err := s.Load(context.Background(), et, 7)
	require.NoError(t, err)
	assert.Same(t, cached, entity)
	assert.NoError(t, mock.ExpectationsWereMet(), "identity hit must not touch the database")
}

func TestStorage_LoadMissingEntityReturnsNil(t *testing.T) {
	s, mock, _ := newTestStorage(t)
	et := productType()

	mock.ExpectQuery(`SELECT entity_id, entity_type_id, created_at, updated_at FROM product_entity`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "entity_type_id", "created_at", "updated_at"}))

	entity, err := s.Load(context.Background(), et, 404)
	require.NoError(t, err)
	assert.Nil(t, entity)
}

func TestStorage_CountWithAttributeFilter(t *testing.T) {
	s, mock, _ := newTestStorage(t)
	et := productType()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM product_entity e WHERE .*EXISTS \(SELECT 1 FROM eav_value_varchar v WHERE v\.entity_id = e\.entity_id AND v\.attribute_id = .* AND v\.value = `).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	count, err := s.Count(context.Background(), et, []Filter{{Attribute: "name", Operator: "=", Value: "Widget"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_QueryRejectsBadFilters(t *testing.T) {
	s, _, _ := newTestStorage(t)
	et := productType()

	t.Run("unknown attribute", func(t *testing.T) {
		_, err := s.Query(context.Background(), et, QueryOptions{
			Filters: []Filter{{Attribute: "color", Value: "red"}},
		})
		require.Error(t, err)
		assert.True(t, IsStorageError(err))
	})

	t.Run("unsupported operator", func(t *testing.T) {
		_, err := s.Query(context.Background(), et, QueryOptions{
			Filters: []Filter{{Attribute: "name", Operator: "REGEXP", Value: "W.*"}},
		})
		require.Error(t, err)
	})

	t.Run("unknown sort attribute", func(t *testing.T) {
		_, err := s.Query(context.Background(), et, QueryOptions{
			Sorts: []Sort{{Attribute: "color"}},
		})
		require.Error(t, err)
	})
}

func TestStorage_IsAvailable(t *testing.T) {
	s, mock, _ := newTestStorage(t)
	et := productType()

	t.Run("healthy", func(t *testing.T) {
		mock.ExpectQuery(`SELECT 1 FROM product_entity LIMIT 1`).
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
		assert.True(t, s.IsAvailable(context.Background(), et))
	})

	t.Run("empty table is still available", func(t *testing.T) {
		mock.ExpectQuery(`SELECT 1 FROM product_entity LIMIT 1`).
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
		assert.True(t, s.IsAvailable(context.Background(), et))
	})

	t.Run("driver failure degrades to false", func(t *testing.T) {
		mock.ExpectQuery(`SELECT 1 FROM product_entity LIMIT 1`).
			WillReturnError(errors.New("connection refused"))
		assert.False(t, s.IsAvailable(context.Background(), et))
	})
}
