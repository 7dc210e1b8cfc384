package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/datacat/errors"
)

func TestOpen(t *testing.T) {
	t.Run("opens sqlite database with pragmas on every connection", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		conn, err := Open("sqlite3", dbPath, nil)
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, DialectSQLite, conn.Dialect)

		var journalMode string
		require.NoError(t, conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)

		var foreignKeys int
		require.NoError(t, conn.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
		assert.Equal(t, 1, foreignKeys)

		var busyTimeout int
		require.NoError(t, conn.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
	})

	t.Run("returns error for invalid path", func(t *testing.T) {
		conn, err := Open("sqlite3", "/invalid/nonexistent/path/db.sqlite", nil)
		require.Error(t, err)
		assert.Nil(t, conn)
		assert.NotNil(t, errors.GetStack(err), "error should have stack trace from errors.Wrap")
	})

	t.Run("rejects unknown driver", func(t *testing.T) {
		_, err := Open("mysql", "whatever", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported database driver")
	})

	t.Run("creates database file if it doesn't exist", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "new.db")

		_, err := os.Stat(dbPath)
		assert.True(t, os.IsNotExist(err))

		conn, err := Open("sqlite3", dbPath, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, err = os.Stat(dbPath)
		assert.NoError(t, err)
	})

	t.Run("closed connection is reported as closed", func(t *testing.T) {
		conn, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		conn.Close()

		_, err = conn.Exec("PRAGMA journal_mode")
		require.Error(t, err)
		assert.True(t, IsDatabaseClosed(err))
	})
}

func TestOpen_WithLogger(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	conn, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	defer conn.Close()
}

func TestRebind(t *testing.T) {
	query := "SELECT * FROM meta_master WHERE record_key = ? AND approved_status = ?"

	assert.Equal(t, query, Rebind(DialectSQLite, query))
	assert.Equal(t,
		"SELECT * FROM meta_master WHERE record_key = $1 AND approved_status = $2",
		Rebind(DialectPostgres, query))

	conn := &Conn{Dialect: DialectPostgres}
	assert.Equal(t, "VALUES ($1, $2, $3)", conn.Rebind("VALUES (?, ?, ?)"))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"dataset_crimes"`, QuoteIdent("dataset_crimes"))
	assert.Equal(t, `"odd""name"`, QuoteIdent(`odd"name`))
}
