package db

import (
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/teranos/datacat/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database.
// This typically occurs during graceful shutdown when the connection is closed
// before all workers have finished.
var ErrDatabaseClosed = errors.New("database is closed")

// Postgres SQLSTATE codes matched below
const (
	pgUndefinedTable  = "42P01"
	pgUniqueViolation = "23505"
)

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// The string fallback covers raw errors from database/sql that we cannot wrap at the source.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsUndefinedTable reports whether err comes from querying a table that does not exist.
// Read paths use it to degrade to empty results before migrations have run.
func IsUndefinedTable(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUndefinedTable
	}

	// SQLite reports missing tables as a generic SQLITE_ERROR; only the message distinguishes them
	return strings.Contains(err.Error(), "no such table")
}

// IsUniqueViolation reports whether err is a primary key or unique constraint failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
