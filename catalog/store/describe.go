package store

import (
	"context"
	"database/sql"

	"github.com/teranos/datacat/db"
	"github.com/teranos/datacat/errors"
)

// ColumnInfo describes one column of an ingested table.
type ColumnInfo struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Nullable bool   `json:"nullable" yaml:"nullable"`
}

// DescribeTable lists the columns of an ingested table and counts its rows.
// A table that does not exist is errors.ErrNotFound.
func (s *Store) DescribeTable(ctx context.Context, name string) ([]ColumnInfo, int64, error) {
	var (
		columns []ColumnInfo
		err     error
	)
	switch s.conn.Dialect {
	case db.DialectPostgres:
		columns, err = s.postgresColumns(ctx, name)
	default:
		columns, err = s.sqliteColumns(ctx, name)
	}
	if err != nil {
		return nil, 0, err
	}
	if len(columns) == 0 {
		return nil, 0, errors.Wrapf(errors.ErrNotFound, "table %s", name)
	}

	var count int64
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+db.QuoteIdent(name)).Scan(&count); err != nil {
		if db.IsUndefinedTable(err) {
			return nil, 0, errors.Wrapf(errors.ErrNotFound, "table %s", name)
		}
		return nil, 0, errors.Wrapf(err, "failed to count rows in %s", name)
	}

	return columns, count, nil
}

func (s *Store) sqliteColumns(ctx context.Context, name string) ([]ColumnInfo, error) {
	rows, err := s.conn.QueryContext(ctx, `PRAGMA table_info(`+db.QuoteIdent(name)+`)`)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to describe %s", name)
	}
	defer rows.Close()

	var columns []ColumnInfo
	for rows.Next() {
		var (
			cid      int
			col      ColumnInfo
			notNull  int
			defValue sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &defValue, &pk); err != nil {
			return nil, errors.Wrap(err, "failed to scan column info")
		}
		col.Nullable = notNull == 0 && pk == 0
		columns = append(columns, col)
	}
	return columns, errors.Wrap(rows.Err(), "failed to iterate column info")
}

func (s *Store) postgresColumns(ctx context.Context, name string) ([]ColumnInfo, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to describe %s", name)
	}
	defer rows.Close()

	var columns []ColumnInfo
	for rows.Next() {
		var (
			col      ColumnInfo
			nullable string
		)
		if err := rows.Scan(&col.Name, &col.Type, &nullable); err != nil {
			return nil, errors.Wrap(err, "failed to scan column info")
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	return columns, errors.Wrap(rows.Err(), "failed to iterate column info")
}
