package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policycopilot/internal/config"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := Open("sqlite3", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db, "sqlite3"))
	return db
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openMemory(t)
	require.NoError(t, Migrate(db, "sqlite3"))
}

func TestSeedFillsEmptyTablesOnce(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	require.NoError(t, Seed(ctx, db))
	require.NoError(t, Seed(ctx, db))

	assert.Equal(t, len(SeedDocuments), count(t, db, "documents"))
	assert.Equal(t, len(SeedAuditEvents), count(t, db, "audit_events"))
	assert.Equal(t, len(SeedSettings), count(t, db, "security_settings"))

	var newest string
	require.NoError(t, db.QueryRow(`SELECT event FROM audit_events ORDER BY id DESC LIMIT 1`).Scan(&newest))
	assert.Equal(t, "Login Attempt", newest)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("postgres", &config.Config{Databases: map[string]config.DatabaseConfig{"postgres": {}}})
	assert.Error(t, err)

	_, err = Open("sqlite3", &config.Config{})
	assert.Error(t, err)
}

func TestMigrateUnknownDriver(t *testing.T) {
	db := openMemory(t)
	assert.Error(t, Migrate(db, "oracle"))
}
