package db

import (
	"path/filepath"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/datacat/errors"
)

func TestIsUndefinedTable(t *testing.T) {
	conn, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Query("SELECT * FROM meta_master")
	require.Error(t, err)
	assert.True(t, IsUndefinedTable(err))
	assert.True(t, IsUndefinedTable(errors.Wrap(err, "list pending")))

	assert.True(t, IsUndefinedTable(&pq.Error{Code: "42P01"}))
	assert.False(t, IsUndefinedTable(&pq.Error{Code: "23505"}))
	assert.False(t, IsUndefinedTable(errors.New("connection refused")))
	assert.False(t, IsUndefinedTable(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	conn, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec("CREATE TABLE t (k TEXT PRIMARY KEY)")
	require.NoError(t, err)
	_, err = conn.Exec("INSERT INTO t (k) VALUES ('a')")
	require.NoError(t, err)

	_, err = conn.Exec("INSERT INTO t (k) VALUES ('a')")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.True(t, IsUniqueViolation(errors.Wrap(err, "insert record")))

	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(errors.New("no such table: t")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestIsDatabaseClosed(t *testing.T) {
	assert.True(t, IsDatabaseClosed(errors.Wrap(ErrDatabaseClosed, "dequeue")))
	assert.True(t, IsDatabaseClosed(errors.New("sql: database is closed")))
	assert.False(t, IsDatabaseClosed(errors.New("timeout")))
	assert.False(t, IsDatabaseClosed(nil))
}
