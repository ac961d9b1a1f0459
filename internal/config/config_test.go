package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadJSONResolvesSQLitePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"server_address": ":9999", "database_driver": "sqlite3"},
		"inquiry": {"suggestion_delay_ms": 10, "typed_delay_ms": 20},
		"databases": {"sqlite3": {"dsn": "copilot.db"}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, filepath.Join(dir, "copilot.db"), cfg.Databases["sqlite3"].DSN)
	assert.Equal(t, 10*time.Millisecond, cfg.SuggestionDelay())
	assert.Equal(t, 20*time.Millisecond, cfg.TypedDelay())
	// untouched sections keep their defaults
	assert.Equal(t, 2000*time.Millisecond, cfg.UploadDelay())
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "basic_config:\n  database_driver: sqlite3\npreferences:\n  backend: memory\ndatabases:\n  sqlite3:\n    dsn: \":memory:\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Preferences.Backend)
	assert.Equal(t, ":memory:", cfg.Databases["sqlite3"].DSN)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"databases": {"sqlite3": {"dsn": ":memory:"}}}`), 0o600))
	t.Setenv("POLICYCOPILOT_ADDR", ":7000")
	t.Setenv("POLICYCOPILOT_PREFS", "redis")
	t.Setenv("POLICYCOPILOT_SECRET_KEY", " key ")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "redis", cfg.Preferences.Backend)
	assert.Equal(t, "key", cfg.SecretKey)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.BasicConfig.DatabaseDriver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Preferences.Backend = "cookies"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.BasicConfig.MinWorkers = 8
	cfg.BasicConfig.MaxWorkers = 4
	assert.Error(t, cfg.Validate())
}
