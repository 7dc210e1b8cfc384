package ingest

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datacat/catalog/dataset"
	"github.com/teranos/datacat/db"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/logger"
	"github.com/teranos/datacat/pulse/async"
)

const (
	// DefaultBatchSize is the number of rows per INSERT statement.
	DefaultBatchSize = 500

	// maxBindVars keeps a statement under SQLite's and Postgres' placeholder limits.
	maxBindVars = 30000
)

// Loader writes CSV files into dataset tables. Every column is TEXT; typed
// views over the table are left to consumers.
type Loader struct {
	conn      *db.Conn
	batchSize int
	logger    *zap.SugaredLogger
}

// NewLoader creates a loader inserting batchSize rows per statement.
func NewLoader(conn *db.Conn, batchSize int, log *zap.SugaredLogger) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = logger.Logger
	}
	return &Loader{conn: conn, batchSize: batchSize, logger: log.Named("load")}
}

// LoadResult summarises a completed load.
type LoadResult struct {
	Table   string
	Columns []string
	Rows    int64
}

// Load replaces the contents of table with the CSV at path. The table is
// dropped, recreated and filled in one transaction, so a failed load leaves
// the previous contents in place.
func (l *Loader) Load(ctx context.Context, table, path string, emitter async.ProgressEmitter) (*LoadResult, error) {
	if emitter == nil {
		emitter = async.NopEmitter{}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open staged source")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, async.Permanent(errors.NewInvalidRequestError("source has no header row"))
	}
	if err != nil {
		return nil, async.Permanent(errors.Wrap(errors.ErrInvalidRequest, "failed to parse csv header: "+err.Error()))
	}
	columns := dataset.ColumnNames(header)

	// SQLite holds the write lock for the whole transaction, so progress
	// can only be persisted once it commits.
	live := l.conn.Dialect == db.DialectPostgres

	emitter.EmitStage("load", fmt.Sprintf("loading %s", table))
	start := time.Now()
	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin load transaction")
	}
	defer tx.Rollback()

	if err := l.createTable(ctx, tx, table, columns); err != nil {
		return nil, err
	}

	batch := l.batchRows(len(columns))
	pending := make([]any, 0, batch*len(columns))
	var rows int64
	line := 1

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n := len(pending) / len(columns)
		if _, err := tx.ExecContext(ctx, l.insertStatement(table, columns, n), pending...); err != nil {
			return errors.Wrapf(err, "failed to insert rows ending at line %d", line)
		}
		rows += int64(n)
		if live {
			emitter.EmitRows(n)
		}
		pending = pending[:0]
		return ctx.Err()
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, async.Permanent(errors.Wrapf(errors.ErrInvalidRequest, "failed to parse csv line %d: %v", line, err))
		}
		if isBlank(record) {
			continue
		}
		for i := range columns {
			if i < len(record) {
				pending = append(pending, record[i])
			} else {
				pending = append(pending, nil)
			}
		}
		if len(pending) >= batch*len(columns) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit load")
	}
	if !live && rows > 0 {
		emitter.EmitRows(int(rows))
	}

	l.logger.Infow("Table loaded",
		logger.FieldTable, table,
		logger.FieldRows, rows,
		logger.FieldCount, len(columns),
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return &LoadResult{Table: table, Columns: columns, Rows: rows}, nil
}

// Drop removes table if it exists.
func (l *Loader) Drop(ctx context.Context, table string) error {
	if _, err := l.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+db.QuoteIdent(table)); err != nil {
		return errors.Wrapf(err, "failed to drop %s", table)
	}
	l.logger.Infow("Table dropped", logger.FieldTable, table)
	return nil
}

func (l *Loader) createTable(ctx context.Context, tx *sql.Tx, table string, columns []string) error {
	quoted := db.QuoteIdent(table)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoted); err != nil {
		return errors.Wrapf(err, "failed to drop %s", table)
	}

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = db.QuoteIdent(c) + " TEXT"
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoted, strings.Join(defs, ", "))); err != nil {
		return errors.Wrapf(err, "failed to create %s", table)
	}
	return nil
}

func (l *Loader) batchRows(width int) int {
	n := l.batchSize
	if n*width > maxBindVars {
		n = maxBindVars / width
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (l *Loader) insertStatement(table string, columns []string, rows int) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = db.QuoteIdent(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", db.QuoteIdent(table), strings.Join(quoted, ", "))
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
	}
	return l.conn.Rebind(b.String())
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
