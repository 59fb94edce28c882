package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "default", cfg.Database)
	assert.Equal(t, "main", cfg.Branch)
	assert.True(t, cfg.WAL.Enabled)
	assert.Equal(t, "batch", cfg.WAL.SyncMode)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("missing_file_uses_defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "./data", cfg.DataDir)
	})

	t.Run("yaml_file_overrides_defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "skaldb.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/skaldb
database: prod
wal:
  sync_mode: immediate
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/skaldb", cfg.DataDir)
		assert.Equal(t, "prod", cfg.Database)
		assert.Equal(t, "main", cfg.Branch)
		assert.Equal(t, "immediate", cfg.WAL.SyncMode)
	})

	t.Run("environment_wins_over_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "skaldb.yaml")
		require.NoError(t, os.WriteFile(path, []byte("database: prod\n"), 0o644))

		t.Setenv("SKALDB_DATABASE", "staging")
		t.Setenv("SKALDB_WAL_SYNC_MODE", "none")
		t.Setenv("SKALDB_WAL_BATCH_SYNC_INTERVAL", "250ms")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "staging", cfg.Database)
		assert.Equal(t, "none", cfg.WAL.SyncMode)
		assert.Equal(t, 250*time.Millisecond, cfg.WAL.BatchSyncInterval)
	})

	t.Run("malformed_yaml_is_an_error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "skaldb.yaml")
		require.NoError(t, os.WriteFile(path, []byte("data_dir: [\n"), 0o644))

		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("rejects_unknown_sync_mode", func(t *testing.T) {
		cfg := Default()
		cfg.WAL.SyncMode = "yolo"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects_empty_data_dir", func(t *testing.T) {
		cfg := Default()
		cfg.DataDir = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects_nonpositive_batch_interval", func(t *testing.T) {
		cfg := Default()
		cfg.WAL.BatchSyncInterval = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skaldb.yaml")
	cfg := Default()
	cfg.Database = "roundtrip"

	require.NoError(t, cfg.WriteFile(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "roundtrip", loaded.Database)
}
