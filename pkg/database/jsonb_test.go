package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONB_Scan(t *testing.T) {
	t.Run("json array", func(t *testing.T) {
		var rules JSONB[[]string]
		require.NoError(t, rules.Scan([]byte(`["required","max:255"]`)))
		assert.Equal(t, []string{"required", "max:255"}, rules.GetValue())
	})

	t.Run("nil yields zero value", func(t *testing.T) {
		var rules JSONB[[]string]
		require.NoError(t, rules.Scan(nil))
		assert.Nil(t, rules.GetValue())
	})

	t.Run("unexpected source type", func(t *testing.T) {
		var rules JSONB[[]string]
		assert.Error(t, rules.Scan(42))
	})
}

func TestJSONB_Value(t *testing.T) {
	rules := JSONB[[]string]{Data: []string{"required"}}
	v, err := rules.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `["required"]`, string(v.([]byte)))
}

