package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrfilipenk/new-sub001/pkg/logging"
)

// stubDriver hides the memory driver's tag methods so the query cache has to
// fall back to its own tag index.
type stubDriver struct {
	inner *MemoryDriver
}

func (d *stubDriver) Name() string { return "stub" }
func (d *stubDriver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return d.inner.Get(ctx, key)
}
func (d *stubDriver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return d.inner.Set(ctx, key, value, ttl)
}
func (d *stubDriver) Delete(ctx context.Context, key string) error { return d.inner.Delete(ctx, key) }
func (d *stubDriver) Clear(ctx context.Context) error              { return d.inner.Clear(ctx) }
func (d *stubDriver) Available(ctx context.Context) bool           { return true }

func TestQueryCache_SetAndGet(t *testing.T) {
	ctx := context.Background()
	qc := NewQueryCache(NewMemoryDriver(), logging.NewNop())

	require.NoError(t, qc.Set(ctx, "query:product:all", []int64{1, 2, 3}, time.Minute, EntityTypeTag("product")))

	var ids []int64
	found, err := qc.Get(ctx, "query:product:all", &ids)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	t.Run("miss", func(t *testing.T) {
		var ids []int64
		found, err := qc.Get(ctx, "query:product:none", &ids)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestQueryCache_InvalidateByTag(t *testing.T) {
	ctx := context.Background()
	qc := NewQueryCache(NewMemoryDriver(), logging.NewNop())

	require.NoError(t, qc.Set(ctx, "q1", []int64{1}, time.Minute, EntityTypeTag("product")))
	require.NoError(t, qc.Set(ctx, "q2", []int64{2}, time.Minute, EntityTypeTag("product"), EntityTag("product", 2)))
	require.NoError(t, qc.Set(ctx, "q3", []int64{3}, time.Minute, EntityTypeTag("customer")))

	invalidated := qc.InvalidateByTag(ctx, EntityTypeTag("product"))
	assert.Equal(t, 2, invalidated)

	var ids []int64
	found, _ := qc.Get(ctx, "q1", &ids)
	assert.False(t, found)
	found, _ = qc.Get(ctx, "q3", &ids)
	assert.True(t, found, "other type's results survive")

	t.Run("unknown tag invalidates nothing", func(t *testing.T) {
		assert.Zero(t, qc.InvalidateByTag(ctx, EntityTypeTag("ghost")))
	})
}

func TestQueryCache_InvalidateEntity(t *testing.T) {
	ctx := context.Background()
	qc := NewQueryCache(NewMemoryDriver(), logging.NewNop())

	require.NoError(t, qc.Set(ctx, "q1", []int64{7}, time.Minute, EntityTag("product", 7)))
	require.NoError(t, qc.Set(ctx, "q2", []int64{8}, time.Minute, EntityTag("product", 8)))

	assert.Equal(t, 1, qc.InvalidateEntity(ctx, "product", 7))

	var ids []int64
	found, _ := qc.Get(ctx, "q2", &ids)
	assert.True(t, found)
}

func TestQueryCache_FallbackTagIndex(t *testing.T) {
	ctx := context.Background()
	qc := NewQueryCache(&stubDriver{inner: NewMemoryDriver()}, logging.NewNop())

	require.NoError(t, qc.Set(ctx, "q1", []int64{1}, time.Minute, EntityTypeTag("product")))
	assert.Equal(t, 1, qc.InvalidateByTag(ctx, EntityTypeTag("product")))

	var ids []int64
	found, err := qc.Get(ctx, "q1", &ids)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQueryCache_Clear(t *testing.T) {
	ctx := context.Background()
	qc := NewQueryCache(NewMemoryDriver(), logging.NewNop())

	require.NoError(t, qc.Set(ctx, "q1", []int64{1}, time.Minute, EntityTypeTag("product")))
	require.NoError(t, qc.Clear(ctx))

	var ids []int64
	found, _ := qc.Get(ctx, "q1", &ids)
	assert.False(t, found)
}

func TestTagConstructors(t *testing.T) {
	assert.Equal(t, "entity:product:7", EntityTag("product", 7))
	assert.Equal(t, "entity_type:product", EntityTypeTag("product"))
	assert.Equal(t, "attribute:product:price", AttributeTag("product", "price"))
}
