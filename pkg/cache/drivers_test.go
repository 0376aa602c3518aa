package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDriver(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, d.Set(ctx, "k", []byte("v"), time.Minute))

		value, ok, err := d.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("v"), value)
	})

	t.Run("expired entry is a miss", func(t *testing.T) {
		require.NoError(t, d.Set(ctx, "short", []byte("v"), time.Millisecond))
		time.Sleep(5 * time.Millisecond)

		_, ok, err := d.Get(ctx, "short")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		require.NoError(t, d.Set(ctx, "forever", []byte("v"), 0))

		_, ok, err := d.Get(ctx, "forever")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("delete and clear", func(t *testing.T) {
		require.NoError(t, d.Set(ctx, "gone", []byte("v"), 0))
		require.NoError(t, d.Delete(ctx, "gone"))
		_, ok, _ := d.Get(ctx, "gone")
		assert.False(t, ok)

		require.NoError(t, d.Set(ctx, "a", []byte("v"), 0))
		require.NoError(t, d.Clear(ctx))
		assert.Zero(t, d.Size())
	})

	t.Run("tag store", func(t *testing.T) {
		require.NoError(t, d.AddToTag(ctx, "t", "k1", "k2"))

		members, err := d.TagMembers(ctx, "t")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"k1", "k2"}, members)

		require.NoError(t, d.DeleteTag(ctx, "t"))
		members, err = d.TagMembers(ctx, "t")
		require.NoError(t, err)
		assert.Empty(t, members)
	})
}

func TestFileDriver(t *testing.T) {
	ctx := context.Background()
	d, err := NewFileDriver(t.TempDir())
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		require.NoError(t, d.Set(ctx, "k", []byte(`{"cached":true}`), time.Minute))

		value, ok, err := d.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte(`{"cached":true}`), value)
	})

	t.Run("missing key", func(t *testing.T) {
		_, ok, err := d.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired entry is removed", func(t *testing.T) {
		require.NoError(t, d.Set(ctx, "short", []byte("v"), time.Millisecond))
		time.Sleep(5 * time.Millisecond)

		_, ok, err := d.Get(ctx, "short")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, d.Set(ctx, "a", []byte("v"), 0))
		require.NoError(t, d.Clear(ctx))
		_, ok, _ := d.Get(ctx, "a")
		assert.False(t, ok)
	})

	t.Run("available", func(t *testing.T) {
		assert.True(t, d.Available(ctx))
	})
}
