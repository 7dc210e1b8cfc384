package db

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpenWithMigrations(t *testing.T) {
	t.Run("creates catalog and job tables", func(t *testing.T) {
		conn, err := OpenWithMigrations("sqlite3", filepath.Join(t.TempDir(), "test.db"), zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		defer conn.Close()

		for _, table := range []string{"schema_migrations", "async_jobs", "meta_master", "meta_tasks"} {
			var count int
			err = conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count, "%s should exist after migrations", table)
		}
	})

	t.Run("migration errors include stack traces", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		// A conflicting async_jobs shape makes 001's index creation fail
		conn, err := Open("sqlite3", dbPath, nil)
		require.NoError(t, err)
		_, err = conn.Exec("CREATE TABLE async_jobs (bad_schema TEXT)")
		require.NoError(t, err)
		conn.Close()

		conn, err = OpenWithMigrations("sqlite3", dbPath, nil)
		require.Error(t, err)
		assert.Nil(t, conn)

		detailed := fmt.Sprintf("%+v", err)
		assert.Contains(t, detailed, "001_create_async_jobs.sql")
		assert.Contains(t, detailed, "migrate.go", "stack should reference source file")
	})
}

func TestMigrate(t *testing.T) {
	t.Run("records every migration", func(t *testing.T) {
		conn, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, Migrate(conn, nil))

		var count int
		require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		assert.Equal(t, 4, count)
	})

	t.Run("is idempotent", func(t *testing.T) {
		conn, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, Migrate(conn, nil))
		require.NoError(t, Migrate(conn, nil), "running migrations multiple times should be safe")
	})

	t.Run("fails on closed database", func(t *testing.T) {
		conn, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		conn.Close()

		require.Error(t, Migrate(conn, nil))
	})

	t.Run("postgres migrations are embedded", func(t *testing.T) {
		entries, err := migrations.ReadDir("migrations/postgres")
		require.NoError(t, err)
		assert.Len(t, entries, 4)
	})
}
