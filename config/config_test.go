package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "eav-engine", cfg.AppName)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "5432", cfg.DatabasePort)
	assert.Equal(t, "memory", cfg.CacheL2Driver)
	assert.Equal(t, 15*time.Minute, cfg.CacheL2TTL)
	assert.True(t, cfg.CacheL4Enabled)
	assert.True(t, cfg.AutoInvalidate)
	assert.False(t, cfg.BroadcastEnabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("CACHE_L2_DRIVER", "redis")
	t.Setenv("CACHE_L4_ENABLED", "false")
	t.Setenv("STARTUP_MAX_ATTEMPTS", "3")
	t.Setenv("DB_CONN_MAX_LIFETIME", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DatabaseHost)
	assert.Equal(t, "redis", cfg.CacheL2Driver)
	assert.False(t, cfg.CacheL4Enabled)
	assert.Equal(t, 3, cfg.StartupMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.DatabaseConnMaxLifetime)
}
