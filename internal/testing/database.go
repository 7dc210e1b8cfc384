package testing

import (
	"path/filepath"
	"testing"

	"github.com/teranos/datacat/db"
)

// CreateTestDB creates a migrated SQLite test database in the test's temp dir.
// A file is used rather than :memory: so every pooled connection sees the same data.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *db.Conn {
	t.Helper()

	conn, err := db.OpenWithMigrations("sqlite3", filepath.Join(t.TempDir(), "datacat_test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
