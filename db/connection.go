package db

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/datacat/errors"
)

// Dialect names the SQL flavour behind a Conn. Values match database/sql driver names.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// SQLiteBusyTimeoutMS is how long SQLite waits on a locked database before failing.
const SQLiteBusyTimeoutMS = 5000

// Conn is a database handle that knows its dialect.
// Queries throughout datacat are written with ? placeholders and passed through Rebind.
type Conn struct {
	*sql.DB
	Dialect Dialect
}

// Execer is satisfied by *Conn and *sql.Tx, so writes can join a caller's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Open opens a catalog database.
// For sqlite3 the dsn is a file path; WAL mode, foreign keys and the busy timeout
// are configured through connection parameters so every pooled connection gets them.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(driver, dsn string, logger *zap.SugaredLogger) (*Conn, error) {
	dialect := Dialect(driver)

	var connString string
	switch dialect {
	case DialectSQLite:
		connString = sqliteDSN(dsn)
	case DialectPostgres:
		connString = dsn
	default:
		return nil, errors.Newf("unsupported database driver %q", driver)
	}

	if logger != nil {
		logger.Debugw("Opening database", "driver", driver)
	}

	sqlDB, err := sql.Open(driver, connString)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// sql.Open is lazy; surface bad paths and unreachable servers here
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, errors.Wrapf(err, "failed to connect to %s database", driver)
	}

	if logger != nil {
		logger.Infow("Database opened",
			"driver", driver,
			"wal_mode", dialect == DialectSQLite,
		)
	}

	return &Conn{DB: sqlDB, Dialect: dialect}, nil
}

// OpenWithMigrations opens the database and applies pending migrations.
func OpenWithMigrations(driver, dsn string, logger *zap.SugaredLogger) (*Conn, error) {
	conn, err := Open(driver, dsn, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := Migrate(conn, logger); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return conn, nil
}

func sqliteDSN(path string) string {
	params := "_journal_mode=WAL&_foreign_keys=on&_txlock=immediate&_busy_timeout=" + strconv.Itoa(SQLiteBusyTimeoutMS)
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// Rebind converts ? placeholders into the dialect's bind syntax.
func (c *Conn) Rebind(query string) string {
	return Rebind(c.Dialect, query)
}

// Rebind converts ? placeholders into $1, $2, ... for Postgres and leaves SQLite queries untouched.
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// QuoteIdent quotes a table or column name. Both dialects accept double-quoted identifiers.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
