package onboard

import (
	"context"

	"github.com/teranos/datacat/catalog/meta"
	"github.com/teranos/datacat/catalog/store"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/logger"
)

// Submission is a dataset offered for the catalog.
type Submission struct {
	URL         string
	IsShapefile bool
	Form        meta.FormInput
}

// prepare checks for duplicates, resolves the URL and builds the record
// without writing anything.
func (s *Service) prepare(ctx context.Context, sub Submission) (*meta.Record, error) {
	if err := s.checkDuplicate(ctx, sub.URL); err != nil {
		return nil, err
	}

	desc, problems := s.ResolveDataset(ctx, sub.URL, sub.IsShapefile)
	if len(problems) > 0 {
		return nil, &ResolutionError{URL: sub.URL, Messages: problems}
	}
	return meta.Build(sub.URL, desc, sub.Form, meta.StatusPending)
}

func (s *Service) insert(ctx context.Context, rec *meta.Record) error {
	if err := s.records.Insert(ctx, rec); err != nil {
		return err
	}
	s.logger.Infow("Record created",
		logger.FieldRecordKey, rec.Key,
		logger.FieldDatasetID, rec.DatasetName,
		logger.FieldStatus, rec.ApprovedStatus)
	return nil
}

// Submit records a contributor's dataset as pending and sends them a
// receipt. Administrators are told about it when an admin address is set.
func (s *Service) Submit(ctx context.Context, sub Submission) (*meta.Record, error) {
	rec, err := s.prepare(ctx, sub)
	if err != nil {
		return nil, err
	}
	if err := s.insert(ctx, rec); err != nil {
		return nil, err
	}

	s.send(ctx, s.composer.Submitted(rec))
	if s.adminEmail != "" {
		s.send(ctx, s.composer.ReviewRequested(rec, s.adminEmail))
	}
	return rec, nil
}

// AdminAdd adds a dataset on an administrator's behalf. The admin is
// recorded as contributor and the record is approved at once, dispatching
// its add task through the normal approval edge.
func (s *Service) AdminAdd(ctx context.Context, sub Submission, admin meta.Submitter) (*meta.Record, error) {
	sub.Form = sub.Form.WithSubmitter(admin)
	rec, err := s.prepare(ctx, sub)
	if err != nil {
		return nil, err
	}
	if err := s.insert(ctx, rec); err != nil {
		return nil, err
	}

	approved, _, err := s.Approve(ctx, rec.Key)
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// ApproveAndNotify approves key and tells the contributor. Approving an
// already approved record neither dispatches nor notifies.
func (s *Service) ApproveAndNotify(ctx context.Context, key string) (*meta.Record, error) {
	rec, transitioned, err := s.Approve(ctx, key)
	if err != nil {
		return rec, err
	}
	if transitioned && rec.ContributorEmail != "" {
		s.send(ctx, s.composer.Approved(rec))
	}
	return rec, nil
}

// Edit applies an administrator's corrections. Editing a pending record
// also approves it; editing an approved record never dispatches.
func (s *Service) Edit(ctx context.Context, key string, edit meta.EditInput) (*meta.Record, error) {
	if err := edit.Validate(); err != nil {
		return nil, err
	}
	rec, err := s.records.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := edit.Apply(rec); err != nil {
		return nil, err
	}
	if err := s.records.Update(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Infow("Record edited", logger.FieldRecordKey, key)

	if rec.IsApproved() {
		return rec, nil
	}
	return s.ApproveAndNotify(ctx, key)
}

// TableDescription is a loaded dataset's table as it exists in the database.
type TableDescription struct {
	Record  *meta.Record       `json:"record" yaml:"record"`
	Table   string             `json:"table" yaml:"table"`
	Columns []store.ColumnInfo `json:"columns" yaml:"columns"`
	Rows    int64              `json:"rows" yaml:"rows"`
}

// DescribeDataset introspects the table loaded for key. It is NotFound until
// the first load completes.
func (s *Service) DescribeDataset(ctx context.Context, key string) (*TableDescription, error) {
	rec, err := s.records.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	columns, rows, err := s.records.DescribeTable(ctx, rec.TableName())
	if errors.IsNotFoundError(err) {
		return nil, errors.WithHint(
			errors.Wrapf(err, "dataset %s has not been loaded", rec.DatasetName),
			"check `datacat status "+key+"` for its ingestion task")
	}
	if err != nil {
		return nil, err
	}
	return &TableDescription{Record: rec, Table: rec.TableName(), Columns: columns, Rows: rows}, nil
}
