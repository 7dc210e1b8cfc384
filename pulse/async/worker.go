package async

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datacat/am"
	"github.com/teranos/datacat/db"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/logger"
)

const (
	// MaxOrphanedJobsToRecover limits how many orphaned jobs we'll attempt to recover
	// on startup to prevent overwhelming the system after a crash
	MaxOrphanedJobsToRecover = 1000

	// DefaultMaxRetries is used when no configuration is supplied
	DefaultMaxRetries = 2
)

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker/daemon operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

// Pulse logs general Pulse/worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// WorkerPool manages a pool of workers that process async jobs
type WorkerPool struct {
	queue         *Queue
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context // Parent context from which worker context is derived
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	executor      JobExecutor
	registry      *HandlerRegistry
	jobsProcessed int         // Track jobs processed for gradual startup
	activeWorkers int         // Track currently active workers (executing jobs)
	startTime     time.Time   // Track when daemon started
	logger        pulseLogger // Shows STARTING/CLOSING levels
	mu            sync.Mutex
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers            int           `json:"workers"`              // Number of concurrent workers
	PollInterval       time.Duration `json:"poll_interval"`        // How often to check for new jobs; 0 ramps up gradually
	MaxRetries         int           `json:"max_retries"`          // Retries for retryable failures
	GracefulTimeout    time.Duration `json:"graceful_timeout"`     // How long Stop waits for running jobs
	GracefulStartPhase time.Duration `json:"graceful_start_phase"` // Window over which orphaned jobs are re-queued
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:            1,
		PollInterval:       time.Second,
		MaxRetries:         DefaultMaxRetries,
		GracefulTimeout:    30 * time.Second,
		GracefulStartPhase: 5 * time.Minute,
	}
}

// PoolConfigFromAm builds a pool configuration from the [pulse] config section
func PoolConfigFromAm(cfg am.PulseConfig) WorkerPoolConfig {
	poolCfg := DefaultWorkerPoolConfig()
	poolCfg.Workers = cfg.Workers
	poolCfg.PollInterval = time.Duration(cfg.PollIntervalMS) * time.Millisecond
	poolCfg.MaxRetries = cfg.MaxRetries
	if cfg.GracefulTimeoutSeconds > 0 {
		poolCfg.GracefulTimeout = time.Duration(cfg.GracefulTimeoutSeconds) * time.Second
	}
	return poolCfg
}

// NewWorkerPool creates a new worker pool with an empty handler registry.
// Callers must register handlers before calling Start().
func NewWorkerPool(conn *db.Conn, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), conn, poolCfg, logger)
}

// NewWorkerPoolWithContext creates a worker pool whose workers stop when ctx is cancelled.
func NewWorkerPoolWithContext(ctx context.Context, conn *db.Conn, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithRegistry(ctx, conn, poolCfg, logger, NewHandlerRegistry())
}

// NewWorkerPoolWithRegistry creates a worker pool with a caller-supplied handler registry.
func NewWorkerPoolWithRegistry(ctx context.Context, conn *db.Conn, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger, registry *HandlerRegistry) *WorkerPool {
	// Child context so Stop can cancel workers; cancelling the parent also stops them
	workerCtx, cancel := context.WithCancel(ctx)

	if poolCfg.GracefulTimeout <= 0 {
		poolCfg.GracefulTimeout = DefaultWorkerPoolConfig().GracefulTimeout
	}
	if poolCfg.MaxRetries < 0 {
		poolCfg.MaxRetries = 0
	}

	return &WorkerPool{
		queue:      NewQueue(conn),
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		executor:   NewRegistryExecutor(registry),
		registry:   registry,
		logger:     pulseLogger{logger.Named("pulse")},
	}
}

// Start begins processing jobs with the worker pool
// ✿ Opening: Recover orphaned jobs before starting workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()

	// A previous Stop cancelled the context; derive a fresh one before spawning workers
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}

	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	ctx := wp.ctx
	wp.mu.Unlock()

	if err := wp.recoverOrphanedJobs(ctx); err != nil {
		wp.logger.Warnw("Failed to recover orphaned jobs", "error", err)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	wp.logger.Pulse("꩜ Worker pool started",
		"workers", wp.workers,
		"handlers", wp.registry.Names(),
		"max_retries", wp.poolConfig.MaxRetries,
	)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// recoverOrphanedJobs re-queues jobs left "running" by an ungraceful shutdown
// (crash, kill -9, power loss). One job per worker goes back immediately;
// the rest are spread over GracefulStartPhase so a restart does not stampede.
// Assumes a single worker process per database.
func (wp *WorkerPool) recoverOrphanedJobs(ctx context.Context) error {
	runningStatus := JobStatusRunning
	orphanedJobs, err := wp.queue.ListJobs(ctx, &runningStatus, MaxOrphanedJobsToRecover)
	if err != nil {
		return errors.Wrap(err, "failed to list running jobs")
	}

	if len(orphanedJobs) == 0 {
		return nil
	}

	wp.logger.Starting("Opening - found orphaned jobs from previous run", "count", len(orphanedJobs))

	burst := max(wp.workers, 1)
	immediate := orphanedJobs[:min(burst, len(orphanedJobs))]
	for _, job := range immediate {
		if err := wp.requeueOrphanedJob(ctx, job); err != nil {
			wp.logger.Warnw("Failed to recover orphaned job", logger.FieldJobID, job.ID, "error", err)
		}
	}

	if rest := orphanedJobs[len(immediate):]; len(rest) > 0 {
		wp.logger.Starting("Will gradually recover remaining jobs", "count", len(rest), "window", wp.poolConfig.GracefulStartPhase)
		wp.wg.Add(1)
		go func() {
			defer wp.wg.Done()
			wp.gradualRecovery(ctx, rest)
		}()
	}

	return nil
}

// requeueOrphanedJob re-queues a single orphaned job
func (wp *WorkerPool) requeueOrphanedJob(ctx context.Context, job *Job) error {
	job.Requeue("")

	if err := wp.queue.UpdateJob(ctx, job); err != nil {
		return errors.Wrapf(err, "failed to update recovered job %s", job.ID)
	}

	wp.logger.Starting("Recovered orphaned job", logger.FieldJobID, job.ID, logger.FieldHandler, job.HandlerName)
	return nil
}

// gradualRecovery re-queues jobs at an even interval across GracefulStartPhase
func (wp *WorkerPool) gradualRecovery(ctx context.Context, jobs []*Job) {
	startTime := time.Now()
	interval := wp.poolConfig.GracefulStartPhase / time.Duration(len(jobs))

	recovered := 0
	for i, job := range jobs {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				wp.logger.Closing("Gradual recovery cancelled", "recovered", recovered, "total", len(jobs))
				return
			case <-time.After(interval):
			}
		}

		if err := wp.requeueOrphanedJob(ctx, job); err != nil {
			wp.logger.Warnw("Failed to recover job", logger.FieldJobID, job.ID, "error", err)
			continue
		}
		recovered++
	}

	wp.logger.Starting("Gradual recovery complete", "recovered", recovered, "total", len(jobs), "duration", time.Since(startTime))
}

// Stop gracefully stops the worker pool
// ❀ Closing: running jobs see ctx cancellation and are re-queued
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	cancel := wp.cancel
	wp.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := wp.poolConfig.GracefulTimeout
	select {
	case <-done:
		wp.logger.Pulse("❀ WorkerPool.Stop() complete - all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Closing("WorkerPool.Stop() timeout - workers may still be running", "timeout", timeout)
	}
}

// worker polls the queue until ctx is cancelled
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	interval := wp.getWorkerInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Error backoff state
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, err := wp.processNext(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, sql.ErrConnDone) || db.IsDatabaseClosed(err) {
					// Shutting down
					return
				}

				errorCount++
				wp.logger.Errorw("Worker error processing job",
					"worker_id", id,
					"error", err,
					"consecutive_errors", errorCount)

				if errorCount >= maxConsecutiveErrors {
					wp.logger.Warnw("Worker backing off due to consecutive errors",
						"worker_id", id,
						"backoff", backoffDuration,
						"consecutive_errors", errorCount)
					select {
					case <-ctx.Done():
						return
					case <-time.After(backoffDuration):
					}
					backoffDuration = min(backoffDuration*2, maxBackoff)
				}
				continue
			}

			if errorCount > 0 {
				wp.logger.Infow("Worker recovered from errors",
					"worker_id", id,
					"previous_error_count", errorCount)
			}
			errorCount = 0
			backoffDuration = time.Second

			// Drain back-to-back while there is work
			if processed {
				ticker.Reset(time.Millisecond)
				continue
			}

			newInterval := wp.getWorkerInterval()
			ticker.Reset(newInterval)
			interval = newInterval
		}
	}
}

// getWorkerInterval returns the current worker polling interval.
// An explicit PollInterval wins; otherwise poll every second while warming up
// (first 20 jobs or 2 minutes) and every 5 seconds after.
func (wp *WorkerPool) getWorkerInterval() time.Duration {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.poolConfig.PollInterval > 0 {
		return wp.poolConfig.PollInterval
	}

	elapsed := time.Since(wp.startTime)
	if wp.jobsProcessed < 20 || elapsed < 2*time.Minute {
		return time.Second
	}

	return 5 * time.Second
}

// RunPending processes queued jobs in the calling goroutine until the queue is empty.
// Retries scheduled along the way are processed too. Returns the number of jobs run.
func (wp *WorkerPool) RunPending(ctx context.Context) (int, error) {
	count := 0
	for {
		processed, err := wp.processNext(ctx)
		if err != nil {
			return count, err
		}
		if !processed {
			return count, nil
		}
		count++
	}
}

// processNext claims and executes one job. Reports whether a job was claimed.
func (wp *WorkerPool) processNext(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}

	job, err := wp.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	wp.mu.Lock()
	wp.jobsProcessed++
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	log := wp.logger.With(logger.FieldJobID, job.ID, logger.FieldHandler, job.HandlerName)
	log.Debugw("Executing job", logger.FieldStatus, job.Status, "retry_count", job.RetryCount)

	// Handlers log through logger.FromContext and pick up the job's identity
	execCtx := logger.WithComponent(logger.WithJobID(ctx, job.ID), job.HandlerName)

	start := time.Now()
	execErr := wp.execute(execCtx, job)

	// Outcomes are recorded even when shutdown has cancelled ctx
	persistCtx := context.WithoutCancel(ctx)

	if execErr == nil {
		log.Infow("Job completed", logger.FieldDurationMS, time.Since(start).Milliseconds())
		return true, wp.queue.CompleteJob(persistCtx, job)
	}

	// ❀ Closing: interrupted by shutdown, hand the job back untouched
	if ctx.Err() != nil {
		wp.logger.Closing("Job interrupted during execution, re-queuing", logger.FieldJobID, job.ID)
		job.Requeue("interrupted by shutdown")
		return true, wp.queue.UpdateJob(persistCtx, job)
	}

	return true, wp.handleFailure(persistCtx, job, execErr, log)
}

// execute runs the job's handler, converting a panic into a permanent failure
func (wp *WorkerPool) execute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(errors.Newf("handler %s panicked: %v", job.HandlerName, r))
		}
	}()
	return wp.executor.Execute(ctx, job)
}

// handleFailure retries retryable errors up to MaxRetries and fails the job otherwise.
// The stored trace is the %+v rendering of the final error.
func (wp *WorkerPool) handleFailure(ctx context.Context, job *Job, execErr error, log *zap.SugaredLogger) error {
	ec := ClassifyError(job.HandlerName, execErr)

	finalErr := execErr
	if ec.Retryable {
		requeued, err := RetryableError(ctx, wp.queue, job, job.HandlerName, execErr, wp.poolConfig.MaxRetries, log)
		if requeued {
			return nil
		}
		finalErr = err
	}

	log.Errorw("Job failed",
		"error_code", ec.Code,
		"retryable", ec.Retryable,
		logger.FieldError, execErr,
	)

	return wp.queue.FailJob(ctx, job, finalErr)
}

// GetQueue returns the job queue (useful for enqueuing jobs)
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// ActiveWorkers returns how many workers are executing a job right now
func (wp *WorkerPool) ActiveWorkers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.activeWorkers
}

// Registry returns the handler registry. Register handlers before calling Start():
//
//	pool := async.NewWorkerPool(conn, poolCfg, logger)
//	ingest.RegisterHandlers(pool.Registry(), deps)
//	pool.Start()
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}
