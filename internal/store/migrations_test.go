package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries, "at least one migration must be embedded")

	for _, e := range entries {
		require.False(t, e.IsDir())
		assert.True(t, strings.HasSuffix(e.Name(), ".sql"), "migration %s must be a .sql file", e.Name())

		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		require.NoError(t, err)
		assert.NotEmpty(t, strings.TrimSpace(string(content)), "migration %s is empty", e.Name())
	}
}

func TestInitialMigrationIsRerunnable(t *testing.T) {
	content, err := migrationFiles.ReadFile("migrations/0001_init.sql")
	require.NoError(t, err)

	sql := string(content)
	for _, table := range []string{"work_items", "transcripts", "job_runs", "job_log_entries"} {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table, "table %s must be created idempotently", table)
	}
}
