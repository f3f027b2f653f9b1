package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/folio/internal/storage"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "state", cfg.Storage.Key)
	assert.Equal(t, int64(0), cfg.Storage.QuotaBytes)
	assert.Equal(t, "500ms", cfg.SQLite.PollInterval)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "folio", cfg.Redis.Prefix)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.toml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_ParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
[storage]
backend = "sqlite"
dir = "/tmp/folio"
key = "prefs"
quota_bytes = 5242880

[sqlite]
path = "/tmp/folio.db"
poll_interval = "2s"

[redis]
addr = "redis:6379"
password = "secret"
db = 3
prefix = "site"

[output]
format = "yaml"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/folio", cfg.Storage.Dir)
	assert.Equal(t, "prefs", cfg.Storage.Key)
	assert.Equal(t, int64(5242880), cfg.Storage.QuotaBytes)
	assert.Equal(t, "/tmp/folio.db", cfg.SQLitePath())
	assert.Equal(t, 2*time.Second, cfg.PollInterval())
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "site", cfg.Redis.Prefix)
	assert.Equal(t, "yaml", cfg.Output.Format)
}

func TestLoadConfig_PartialConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
[storage]
key = "prefs"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "prefs", cfg.Storage.Key)

	// Unchanged fields should have defaults
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "json", cfg.Output.Format)
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, os.WriteFile(path, []byte(`this is not valid toml [`), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "[storage]\nbackend = \"indexeddb\"\n"},
		{"empty key", "[storage]\nkey = \"\"\n"},
		{"negative quota", "[storage]\nquota_bytes = -1\n"},
		{"bad interval", "[sqlite]\npoll_interval = \"soon\"\n"},
		{"zero interval", "[sqlite]\npoll_interval = \"0s\"\n"},
		{"unknown format", "[output]\nformat = \"xml\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestConfig_Save(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "config.toml")

	cfg := DefaultConfig()
	cfg.Storage.Backend = BackendRedis
	cfg.Redis.Prefix = "portfolio"

	require.NoError(t, cfg.Save(path))

	_, err := os.Stat(path)
	require.NoError(t, err)

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", loaded.Storage.Backend)
	assert.Equal(t, "portfolio", loaded.Redis.Prefix)
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/folio/config.toml", ConfigPath())
}

func TestConfigPathDefault(t *testing.T) {
	path := ConfigPath()
	assert.Contains(t, path, "folio/config.toml")
}

func TestDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	assert.Equal(t, "/custom/data/folio", DataPath())
}

func TestStorageDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")

	cfg := DefaultConfig()
	assert.Equal(t, "/custom/data/folio/storage", cfg.StorageDir())
	assert.Equal(t, "/custom/data/folio/folio.db", cfg.SQLitePath())

	cfg.Storage.Dir = "/elsewhere"
	assert.Equal(t, "/elsewhere", cfg.StorageDir())
}

func TestPollInterval_FallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SQLite.PollInterval = "garbage"
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval())
}

func TestOpenArea(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	for _, backend := range []string{BackendFile, BackendSQLite, BackendMemory} {
		t.Run(backend, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Storage.Backend = backend

			area, closeArea, err := cfg.OpenArea(nil)
			require.NoError(t, err)
			defer closeArea()

			assert.Equal(t, storage.KindLocal, area.Kind())
			assert.True(t, storage.IsAvailable(area))
		})
	}
}

func TestOpenArea_SQLiteCustomPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "site", "folio.db")

	cfg := DefaultConfig()
	cfg.Storage.Backend = BackendSQLite
	cfg.SQLite.Path = path

	area, closeArea, err := cfg.OpenArea(nil)
	require.NoError(t, err)
	defer closeArea()

	require.NoError(t, area.SetItem("state", "x"))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpenArea_Unknown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = "tape"

	_, _, err := cfg.OpenArea(nil)
	assert.Error(t, err)
}
