package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
	// development defaults to verbose logging
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "data/artifacts", cfg.Artifacts.Dir)
	assert.Equal(t, int64(0), cfg.Optimization.Seed)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORAGE_TYPE", "sqlite")
	t.Setenv("STORAGE_DSN", "file:"+filepath.Join(t.TempDir(), "nested", "sweep.db"))
	t.Setenv("SWEEP_SEED", "42")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, int64(42), cfg.Optimization.Seed)
}

func TestLoadCreatesSQLiteDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STORAGE_TYPE", "sqlite")
	t.Setenv("STORAGE_DSN", "file:"+filepath.Join(dir, "a", "b", "sweep.db")+"?cache=shared")

	_, err := Load()
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dir, "a", "b"))
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-port")
	_, err := Load()
	require.Error(t, err)
}
