package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrfilipenk/new-sub001/pkg/models"
)

func mustStrategy(t *testing.T, bt models.BackendType) ValueStrategy {
	t.Helper()
	s, err := NewStrategyFactory().GetStrategy(bt)
	require.NoError(t, err)
	return s
}

func TestStrategies_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		backend models.BackendType
		value   any
		want    any
	}{
		{"varchar", models.BackendVarchar, "Widget", "Widget"},
		{"text", models.BackendText, strings.Repeat("x", 10000), strings.Repeat("x", 10000)},
		{"int", models.BackendInt, int64(42), int64(42)},
		{"decimal exact", models.BackendDecimal, 19.9990, 19.9990},
		{"decimal rounded", models.BackendDecimal, 1.23456, 1.2346},
		{"datetime", models.BackendDatetime, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustStrategy(t, tt.backend)

			stored, err := s.ToStorage(tt.value)
			require.NoError(t, err)

			got, err := s.FromStorage(stored)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecimalStrategy_Rounding(t *testing.T) {
	s := mustStrategy(t, models.BackendDecimal)

	stored, err := s.ToStorage(19.99995)
	require.NoError(t, err)
	assert.Equal(t, 20.0000, stored)

	got, err := s.FromStorage(stored)
	require.NoError(t, err)
	assert.Equal(t, 20.0000, got)
}

func TestDatetimeStrategy_Normalization(t *testing.T) {
	s := mustStrategy(t, models.BackendDatetime)

	t.Run("non-UTC input stores as UTC", func(t *testing.T) {
		loc := time.FixedZone("CET", 3600)
		stored, err := s.ToStorage(time.Date(2024, 3, 1, 13, 30, 0, 0, loc))
		require.NoError(t, err)
		assert.Equal(t, "2024-03-01 12:30:00", stored)
	})

	t.Run("string input is parsed", func(t *testing.T) {
		stored, err := s.ToStorage("2024-03-01 12:30:00")
		require.NoError(t, err)
		assert.Equal(t, "2024-03-01 12:30:00", stored)
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := s.ToStorage("not a date")
		assert.Error(t, err)
	})
}

func TestVarcharStrategy_Limits(t *testing.T) {
	s := mustStrategy(t, models.BackendVarchar)

	_, err := s.ToStorage(strings.Repeat("x", 256))
	assert.Error(t, err)

	_, err = s.ToStorage(strings.Repeat("x", 255))
	assert.NoError(t, err)
}

func TestIntStrategy_Coercion(t *testing.T) {
	s := mustStrategy(t, models.BackendInt)

	t.Run("string digits", func(t *testing.T) {
		v, err := s.ToStorage("42")
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)
	})

	t.Run("whole float", func(t *testing.T) {
		v, err := s.ToStorage(42.0)
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)
	})

	t.Run("fractional float rejected", func(t *testing.T) {
		_, err := s.ToStorage(42.5)
		assert.Error(t, err)
	})
}
