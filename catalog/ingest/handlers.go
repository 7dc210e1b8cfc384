package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datacat/catalog/meta"
	"github.com/teranos/datacat/catalog/store"
	"github.com/teranos/datacat/catalog/tasks"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/logger"
	"github.com/teranos/datacat/pulse/async"
)

// Deps is what the catalog handlers need.
type Deps struct {
	Records *store.Store
	Queue   *async.Queue
	Fetcher *Fetcher
	Loader  *Loader
	Archive Archive
	Logger  *zap.SugaredLogger
}

// RegisterHandlers registers catalog.add, catalog.update and catalog.delete.
func RegisterHandlers(registry *async.HandlerRegistry, deps Deps) {
	if deps.Archive == nil {
		deps.Archive = NopArchive{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Logger
	}
	registry.Register(&LoadHandler{kind: meta.TaskAdd, deps: deps})
	registry.Register(&LoadHandler{kind: meta.TaskUpdate, deps: deps})
	registry.Register(&DeleteHandler{deps: deps})
}

// LoadHandler downloads a record's source and (re)loads its table. Add and
// update share it; both replace the table wholesale.
type LoadHandler struct {
	kind meta.TaskKind
	deps Deps
}

// Name returns the registry name for the handler's kind.
func (h *LoadHandler) Name() string { return h.kind.HandlerName() }

// Execute runs one load.
func (h *LoadHandler) Execute(ctx context.Context, job *async.Job) error {
	payload, err := tasks.DecodePayload(job)
	if err != nil {
		return err
	}

	rec, err := h.deps.Records.Get(ctx, payload.RecordKey)
	if errors.IsNotFoundError(err) {
		return async.Permanent(errors.Wrapf(err, "record removed before %s ran", h.kind))
	}
	if err != nil {
		return err
	}

	log := logger.FromContext(logger.WithRecordKey(ctx, rec.Key), h.deps.Logger).
		With(logger.FieldTaskKind, h.kind, logger.FieldDatasetID, rec.DatasetName)

	var emitter async.ProgressEmitter = async.NewJobProgressEmitter(ctx, job, h.deps.Queue, h.deps.Logger)

	emitter.EmitStage("fetch", rec.SourceURL)
	staged, err := h.deps.Fetcher.Fetch(ctx, rec.SourceURL, rec.DatasetName)
	if err != nil {
		emitter.EmitError("fetch", err)
		return err
	}
	defer staged.Cleanup()

	if location, err := h.deps.Archive.Put(ctx, ObjectName(rec), staged.Path); err != nil {
		// The archive is a convenience copy; a failed upload does not fail the load
		log.Warnw("Failed to archive source", logger.FieldError, err)
	} else if location != "" {
		log.Debugw("Source archived", logger.FieldObject, location)
	}

	if rec.IsShapefile {
		log.Infow("Shapefile archived without table load")
	} else {
		result, err := h.deps.Loader.Load(ctx, rec.TableName(), staged.Path, emitter)
		if err != nil {
			emitter.EmitError("load", err)
			return err
		}
		log.Infow("Dataset loaded", logger.FieldTable, result.Table, logger.FieldRows, result.Rows)
	}

	firstLoad := h.kind == meta.TaskAdd && rec.LastUpdate == nil
	if err := h.deps.Records.MarkLoaded(ctx, rec.Key, time.Now(), firstLoad); err != nil {
		if errors.IsNotFoundError(err) {
			return async.Permanent(err)
		}
		return err
	}
	emitter.EmitStage("done", "")
	return nil
}

// DeleteHandler drops a record's table, its archived source and the record
// itself. Each step tolerates work already done by an earlier attempt.
type DeleteHandler struct {
	deps Deps
}

// Name returns "catalog.delete".
func (h *DeleteHandler) Name() string { return meta.TaskDelete.HandlerName() }

// Execute runs one delete.
func (h *DeleteHandler) Execute(ctx context.Context, job *async.Job) error {
	payload, err := tasks.DecodePayload(job)
	if err != nil {
		return err
	}

	rec, err := h.deps.Records.Get(ctx, payload.RecordKey)
	if errors.IsNotFoundError(err) {
		h.deps.Logger.Infow("Record already deleted", logger.FieldRecordKey, payload.RecordKey, logger.FieldJobID, job.ID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := h.deps.Loader.Drop(ctx, rec.TableName()); err != nil {
		return err
	}
	if err := h.deps.Archive.Remove(ctx, ObjectName(rec)); err != nil {
		return err
	}
	if err := h.deps.Records.Delete(ctx, rec.Key); err != nil && !errors.IsNotFoundError(err) {
		return err
	}

	h.deps.Logger.Infow("Dataset deleted",
		logger.FieldRecordKey, rec.Key,
		logger.FieldTable, rec.TableName(),
		logger.FieldJobID, job.ID)
	return nil
}
