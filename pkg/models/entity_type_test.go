package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendType(t *testing.T) {
	t.Run("value tables follow the naming convention", func(t *testing.T) {
		assert.Equal(t, "eav_value_varchar", BackendVarchar.ValueTable())
		assert.Equal(t, "eav_value_decimal", BackendDecimal.ValueTable())
	})

	t.Run("parse rejects unknown types", func(t *testing.T) {
		_, err := ParseBackendType("json")
		assert.Error(t, err)

		bt, err := ParseBackendType("datetime")
		require.NoError(t, err)
		assert.Equal(t, BackendDatetime, bt)
	})

	t.Run("every listed type is valid", func(t *testing.T) {
		for _, bt := range BackendTypes() {
			assert.True(t, bt.Valid())
		}
		assert.False(t, BackendType("blob").Valid())
	})
}

func TestEntityType_AttributesByBackend(t *testing.T) {
	et := NewEntityType("product", "Product", "product_entity",
		&Attribute{Code: "name", BackendType: BackendVarchar},
		&Attribute{Code: "sku", BackendType: BackendVarchar},
		&Attribute{Code: "price", BackendType: BackendDecimal},
	)

	grouped := et.AttributesByBackend()
	assert.Len(t, grouped[BackendVarchar], 2)
	assert.Len(t, grouped[BackendDecimal], 1)
	assert.NotContains(t, grouped, BackendText)
}

func TestEntityType_Attribute(t *testing.T) {
	et := NewEntityType("product", "Product", "product_entity",
		&Attribute{Code: "name", BackendType: BackendVarchar},
	)

	require.NotNil(t, et.Attribute("name"))
	assert.Nil(t, et.Attribute("missing"))
}

func TestAttribute_Equal(t *testing.T) {
	base := func() *Attribute {
		def := "n/a"
		return &Attribute{
			Code:            "name",
			Label:           "Name",
			BackendType:     BackendVarchar,
			IsRequired:      true,
			DefaultValue:    &def,
			ValidationRules: []string{"min:1"},
			SortOrder:       1,
		}
	}

	t.Run("identical configuration", func(t *testing.T) {
		assert.True(t, base().Equal(base()))
	})

	t.Run("label change", func(t *testing.T) {
		other := base()
		other.Label = "Product Name"
		assert.False(t, base().Equal(other))
	})

	t.Run("backend type change", func(t *testing.T) {
		other := base()
		other.BackendType = BackendText
		assert.False(t, base().Equal(other))
	})

	t.Run("validation rules change", func(t *testing.T) {
		other := base()
		other.ValidationRules = []string{"min:2"}
		assert.False(t, base().Equal(other))
	})

	t.Run("default value nil vs set", func(t *testing.T) {
		other := base()
		other.DefaultValue = nil
		assert.False(t, base().Equal(other))
	})

	t.Run("ids and timestamps are ignored", func(t *testing.T) {
		other := base()
		other.ID = 99
		other.EntityTypeID = 7
		assert.True(t, base().Equal(other))
	})
}
