// Package onboard runs the catalog's submission and approval flows on top of
// the resolver, the record store and the task dispatcher.
package onboard

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/datacat/catalog/dataset"
	"github.com/teranos/datacat/catalog/meta"
	"github.com/teranos/datacat/catalog/notify"
	"github.com/teranos/datacat/catalog/store"
	"github.com/teranos/datacat/catalog/tasks"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/logger"
)

// Resolver describes a submitted URL.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string, isShapefile bool) (*dataset.Description, []string)
}

// Deps wires a Service.
type Deps struct {
	Resolver   Resolver
	Records    *store.Store
	Dispatcher *tasks.Dispatcher
	Tracker    *tasks.Tracker
	Sender     notify.Sender // nil disables notifications
	Composer   notify.Composer
	AdminEmail string // receives review requests when set
	Logger     *zap.SugaredLogger
}

// Service is the catalog's onboarding state machine. Records start pending;
// the pending→approved edge dispatches exactly one add task.
type Service struct {
	resolver   Resolver
	records    *store.Store
	dispatcher *tasks.Dispatcher
	tracker    *tasks.Tracker
	sender     notify.Sender
	composer   notify.Composer
	adminEmail string
	logger     *zap.SugaredLogger
}

// NewService creates a service from deps.
func NewService(deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = logger.Logger
	}
	return &Service{
		resolver:   deps.Resolver,
		records:    deps.Records,
		dispatcher: deps.Dispatcher,
		tracker:    deps.Tracker,
		sender:     deps.Sender,
		composer:   deps.Composer,
		adminEmail: deps.AdminEmail,
		logger:     log.Named("onboard"),
	}
}

// ResolutionError reports why a URL could not be described.
type ResolutionError struct {
	URL      string
	Messages []string
}

func (e *ResolutionError) Error() string {
	return "could not resolve " + e.URL + ": " + strings.Join(e.Messages, "; ")
}

// Unwrap marks resolution failures as invalid requests.
func (e *ResolutionError) Unwrap() error { return errors.ErrInvalidRequest }

// ResolveDataset describes rawURL. Problems come back as messages alongside
// whatever partial description was gathered.
func (s *Service) ResolveDataset(ctx context.Context, rawURL string, isShapefile bool) (*dataset.Description, []string) {
	desc, problems := s.resolver.Resolve(ctx, rawURL, isShapefile)
	if desc != nil {
		desc.IsShapefile = isShapefile
	}
	return desc, problems
}

// checkDuplicate fails with *meta.DuplicateError when submittedURL is
// already catalogued.
func (s *Service) checkDuplicate(ctx context.Context, submittedURL string) error {
	existing, err := s.records.Get(ctx, meta.Fingerprint(submittedURL))
	if errors.IsNotFoundError(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return &meta.DuplicateError{Key: existing.Key, HumanName: existing.HumanName}
}

// BuildAndPersistRecord builds a record from desc and form and stores it.
// Duplicates and validation failures are reported before anything is written.
// It never dispatches; approval is a separate transition.
func (s *Service) BuildAndPersistRecord(ctx context.Context, submittedURL string, desc *dataset.Description, form meta.FormInput, status meta.ApprovalStatus) (*meta.Record, error) {
	if err := s.checkDuplicate(ctx, submittedURL); err != nil {
		return nil, err
	}

	rec, err := meta.Build(submittedURL, desc, form, status)
	if err != nil {
		return nil, err
	}
	if err := s.insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Approve takes the pending→approved edge for key and dispatches the add
// task with it. transitioned is false when the record was already approved,
// in which case nothing is dispatched. When dispatch fails the record stays
// pending, so Approve can simply be retried.
func (s *Service) Approve(ctx context.Context, key string) (rec *meta.Record, transitioned bool, err error) {
	_, transitioned, err = s.dispatcher.Approve(ctx, key)
	if errors.IsNotFoundError(err) {
		return nil, false, err
	}
	if err != nil {
		return nil, false, errors.WithHint(
			errors.Wrapf(err, "record %s left pending", key),
			"run `datacat approve "+key+"` to retry")
	}

	rec, err = s.records.Get(ctx, key)
	if err != nil {
		return nil, transitioned, err
	}
	if !transitioned {
		s.logger.Debugw("Record already approved", logger.FieldRecordKey, key)
		return rec, false, nil
	}
	s.logger.Infow("Record approved", logger.FieldRecordKey, key)
	return rec, true, nil
}

// dispatch gates add and update on approval. Delete is open to pending
// records so a submission can be rejected.
func (s *Service) dispatch(ctx context.Context, kind meta.TaskKind, key string) (meta.TaskHandle, error) {
	rec, err := s.records.Get(ctx, key)
	if err != nil {
		return meta.TaskHandle{}, err
	}
	if kind != meta.TaskDelete && !rec.IsApproved() {
		return meta.TaskHandle{}, errors.WithHint(
			errors.NewInvalidRequestError("record %s is %s; only approved records are ingested", key, rec.ApprovedStatus),
			"run `datacat approve "+key+"` first")
	}
	return s.dispatcher.Dispatch(ctx, kind, rec)
}

// DispatchIngestion (re)loads an approved record's data.
func (s *Service) DispatchIngestion(ctx context.Context, key string) (meta.TaskHandle, error) {
	return s.dispatch(ctx, meta.TaskAdd, key)
}

// DispatchUpdate refreshes an approved record's data.
func (s *Service) DispatchUpdate(ctx context.Context, key string) (meta.TaskHandle, error) {
	return s.dispatch(ctx, meta.TaskUpdate, key)
}

// DispatchDeletion removes the record, its table and its archived source.
// Pending records can be deleted too.
func (s *Service) DispatchDeletion(ctx context.Context, key string) (meta.TaskHandle, error) {
	return s.dispatch(ctx, meta.TaskDelete, key)
}

// ListPendingRecords lists records awaiting approval, oldest first.
func (s *Service) ListPendingRecords(ctx context.Context) ([]*meta.Record, error) {
	return s.records.ListByStatus(ctx, meta.StatusPending)
}

// ListApprovedRecordsWithStatus lists approved records with the status of
// their newest task.
func (s *Service) ListApprovedRecordsWithStatus(ctx context.Context) ([]tasks.RecordStatus, error) {
	return s.tracker.LatestForApproved(ctx)
}

// GetStatusForRecord lists task outcomes for key, or for every record when key is empty.
func (s *Service) GetStatusForRecord(ctx context.Context, key string) ([]tasks.Status, error) {
	return s.tracker.PollStatus(ctx, tasks.Filter{RecordKey: key})
}

// CheckTask reports tasks.Ready once the job has finished and tasks.Pending otherwise.
func (s *Service) CheckTask(ctx context.Context, jobID string) (string, error) {
	return s.tracker.CheckTask(ctx, jobID)
}

// send delivers msg and logs, rather than returns, any failure.
func (s *Service) send(ctx context.Context, msg notify.Message) {
	if s.sender == nil {
		return
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		s.logger.Warnw("Notification not sent",
			"subject", msg.Subject,
			"to", msg.Recipient,
			logger.FieldError, err)
	}
}
