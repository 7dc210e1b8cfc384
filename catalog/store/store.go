// Package store persists catalog metadata records and their task handles.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datacat/catalog/meta"
	"github.com/teranos/datacat/db"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/logger"
)

// Store reads and writes meta_master and meta_tasks.
type Store struct {
	conn   *db.Conn
	logger *zap.SugaredLogger
}

// NewStore creates a record store over conn.
func NewStore(conn *db.Conn, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = logger.Logger
	}
	return &Store{conn: conn, logger: log.Named("catalog-store")}
}

// Conn exposes the underlying connection for collaborators that share it.
func (s *Store) Conn() *db.Conn {
	return s.conn
}

const recordColumns = `record_key, source_url, submitted_url, view_url, dataset_name, human_name,
	attribution, description, update_freq,
	contributor_name, contributor_organization, contributor_email,
	approved_status, column_names,
	observed_date, latitude, longitude, location,
	is_shapefile, date_added, last_update`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*meta.Record, error) {
	var (
		rec        meta.Record
		viewURL    sql.NullString
		columns    string
		lastUpdate sql.NullTime
	)

	err := row.Scan(
		&rec.Key, &rec.SourceURL, &rec.SubmittedURL, &viewURL, &rec.DatasetName, &rec.HumanName,
		&rec.Attribution, &rec.Description, &rec.UpdateFrequency,
		&rec.ContributorName, &rec.ContributorOrganization, &rec.ContributorEmail,
		&rec.ApprovedStatus, &columns,
		&rec.ObservedDate, &rec.Latitude, &rec.Longitude, &rec.Location,
		&rec.IsShapefile, &rec.DateAdded, &lastUpdate,
	)
	if err != nil {
		return nil, err
	}

	rec.ViewURL = viewURL.String
	if lastUpdate.Valid {
		t := lastUpdate.Time
		rec.LastUpdate = &t
	}
	if columns != "" {
		if err := json.Unmarshal([]byte(columns), &rec.ColumnNames); err != nil {
			return nil, errors.Wrapf(err, "record %s has malformed column_names", rec.Key)
		}
	}

	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Insert persists a new record. A record with the same key is reported as a
// *meta.DuplicateError; a different record already using the dataset name is
// reported as errors.ErrConflict.
func (s *Store) Insert(ctx context.Context, rec *meta.Record) error {
	columns, err := json.Marshal(nonNil(rec.ColumnNames))
	if err != nil {
		return errors.Wrap(err, "failed to encode column names")
	}

	query := s.conn.Rebind(`INSERT INTO meta_master (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.conn.ExecContext(ctx, query,
		rec.Key, rec.SourceURL, rec.SubmittedURL, nullString(rec.ViewURL), rec.DatasetName, rec.HumanName,
		rec.Attribution, rec.Description, rec.UpdateFrequency,
		rec.ContributorName, rec.ContributorOrganization, rec.ContributorEmail,
		string(rec.ApprovedStatus), string(columns),
		rec.ObservedDate, rec.Latitude, rec.Longitude, rec.Location,
		rec.IsShapefile, rec.DateAdded.UTC(), nullTime(rec.LastUpdate),
	)
	if err == nil {
		s.logger.Infow("Record created",
			logger.FieldRecordKey, rec.Key,
			"dataset_name", rec.DatasetName,
			logger.FieldStatus, rec.ApprovedStatus,
		)
		return nil
	}

	if !db.IsUniqueViolation(err) {
		return errors.Wrap(err, "failed to insert record")
	}

	// Lost a race with a concurrent submission of the same URL, or the slug is taken
	if existing, getErr := s.Get(ctx, rec.Key); getErr == nil {
		return &meta.DuplicateError{Key: existing.Key, HumanName: existing.HumanName}
	}
	return errors.WithHint(
		errors.Wrapf(errors.ErrConflict, "dataset name %q already in use", rec.DatasetName),
		"choose a different dataset name",
	)
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

// Get loads a record and its task handles. A missing record is errors.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (*meta.Record, error) {
	query := s.conn.Rebind(`SELECT ` + recordColumns + ` FROM meta_master WHERE record_key = ?`)

	rec, err := scanRecord(s.conn.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "record %s", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get record")
	}

	tasks, err := s.tasksFor(ctx, key)
	if err != nil {
		return nil, err
	}
	rec.Tasks = tasks

	return rec, nil
}

// rowQuerier is satisfied by *db.Conn and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Exists reports whether a record with key is stored.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.exists(ctx, s.conn, key)
}

func (s *Store) exists(ctx context.Context, q rowQuerier, key string) (bool, error) {
	query := s.conn.Rebind(`SELECT 1 FROM meta_master WHERE record_key = ?`)

	var one int
	err := q.QueryRowContext(ctx, query, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to check record")
	}
	return true, nil
}

// ListByStatus returns records in the given approval state, oldest first.
// Before migrations have run the list is empty rather than an error.
func (s *Store) ListByStatus(ctx context.Context, status meta.ApprovalStatus) ([]*meta.Record, error) {
	query := s.conn.Rebind(`SELECT ` + recordColumns + `
		FROM meta_master
		WHERE approved_status = ?
		ORDER BY date_added ASC, record_key ASC`)

	rows, err := s.conn.QueryContext(ctx, query, string(status))
	if err != nil {
		if db.IsUndefinedTable(err) {
			s.logger.Warnw("Catalog tables missing, listing nothing", logger.FieldError, err)
			return []*meta.Record{}, nil
		}
		return nil, errors.Wrap(err, "failed to list records")
	}

	var records []*meta.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan record")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "failed to iterate records")
	}
	rows.Close()

	// Handles are loaded after the cursor is closed; SQLite test databases may hold one connection
	for _, rec := range records {
		if rec.Tasks, err = s.tasksFor(ctx, rec.Key); err != nil {
			return nil, err
		}
	}

	if records == nil {
		records = []*meta.Record{}
	}
	return records, nil
}

// ApproveTx moves a pending record to approved as part of tx. It returns true
// only for the call that took the transition; approving an approved record
// returns false. The transition is final once tx commits.
func (s *Store) ApproveTx(ctx context.Context, tx *sql.Tx, key string) (bool, error) {
	query := s.conn.Rebind(`UPDATE meta_master SET approved_status = ?
		WHERE record_key = ? AND approved_status = ?`)

	res, err := tx.ExecContext(ctx, query, string(meta.StatusApproved), key, string(meta.StatusPending))
	if err != nil {
		return false, errors.Wrap(err, "failed to approve record")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read approval result")
	}
	if n == 1 {
		return true, nil
	}

	exists, err := s.exists(ctx, tx, key)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, errors.Wrapf(errors.ErrNotFound, "record %s", key)
	}
	return false, nil
}

// Update writes the editable fields of rec. Approval status is changed only through ApproveTx.
func (s *Store) Update(ctx context.Context, rec *meta.Record) error {
	query := s.conn.Rebind(`UPDATE meta_master
		SET human_name = ?,
		    description = ?,
		    attribution = ?,
		    update_freq = ?,
		    observed_date = ?,
		    latitude = ?,
		    longitude = ?,
		    location = ?
		WHERE record_key = ?`)

	res, err := s.conn.ExecContext(ctx, query,
		rec.HumanName,
		rec.Description,
		rec.Attribution,
		rec.UpdateFrequency,
		rec.ObservedDate,
		rec.Latitude,
		rec.Longitude,
		rec.Location,
		rec.Key,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update record")
	}
	return requireOne(res, rec.Key)
}

// MarkLoaded records a successful ingestion at when. The first load also
// resets date_added so it reflects when the data became available.
func (s *Store) MarkLoaded(ctx context.Context, key string, when time.Time, firstLoad bool) error {
	when = when.UTC()

	var (
		res sql.Result
		err error
	)
	if firstLoad {
		res, err = s.conn.ExecContext(ctx,
			s.conn.Rebind(`UPDATE meta_master SET last_update = ?, date_added = ? WHERE record_key = ?`),
			when, when, key)
	} else {
		res, err = s.conn.ExecContext(ctx,
			s.conn.Rebind(`UPDATE meta_master SET last_update = ? WHERE record_key = ?`),
			when, key)
	}
	if err != nil {
		return errors.Wrap(err, "failed to mark record loaded")
	}
	return requireOne(res, key)
}

// Delete removes a record; its task handles go with it.
func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.conn.ExecContext(ctx, s.conn.Rebind(`DELETE FROM meta_master WHERE record_key = ?`), key)
	if err != nil {
		return errors.Wrap(err, "failed to delete record")
	}
	if err := requireOne(res, key); err != nil {
		return err
	}

	s.logger.Infow("Record deleted", logger.FieldRecordKey, key)
	return nil
}

func requireOne(res sql.Result, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "record %s", key)
	}
	return nil
}
