package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"STORAGE_DRIVER", "ROLE_FETCH_MAX_ATTEMPTS", "ROLE_FETCH_BASE_DELAY", "ROLE_FETCH_MAX_DELAY", "MIGRATE_ON_START"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, DefaultRetryConfig(), cfg.RoleFetch)
	assert.Equal(t, 3, cfg.RoleFetch.MaxAttempts)
	assert.Equal(t, time.Second, cfg.RoleFetch.BaseDelay)
	assert.Equal(t, 8*time.Second, cfg.RoleFetch.MaxDelay)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("ROLE_FETCH_MAX_ATTEMPTS", "5")
	t.Setenv("ROLE_FETCH_BASE_DELAY", "250ms")
	t.Setenv("MIGRATE_ON_START", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, 5, cfg.RoleFetch.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.RoleFetch.BaseDelay)
	assert.False(t, cfg.MigrateOnStart)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 0, cfg.RedisDB)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"unknown driver", func(c *AppConfig) { c.StorageDriver = "mysql" }},
		{"missing dsn", func(c *AppConfig) { c.DatabaseURL = "" }},
		{"no attempts", func(c *AppConfig) { c.RoleFetch.MaxAttempts = 0 }},
		{"max below base", func(c *AppConfig) { c.RoleFetch.MaxDelay = time.Millisecond }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := AppConfig{StorageDriver: StoragePostgres, DatabaseURL: "postgres://x", RoleFetch: DefaultRetryConfig()}
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
