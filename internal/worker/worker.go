package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/cuongbtq/docflow/shared/cache"
)

// Defaults applied when a Config field is zero
const (
	DefaultPollInterval = 2 * time.Second
	DefaultJobTimeout   = 5 * time.Minute
	DefaultStaleAfter   = 30 * time.Minute
)

// JobStore is the queue the worker drains
type JobStore interface {
	LeaseNext(ctx context.Context, limit int) ([]domain.Job, error)
	MarkRunning(ctx context.Context, job *domain.Job) error
	MarkSuccess(ctx context.Context, job *domain.Job) error
	MarkFailed(ctx context.Context, job *domain.Job, cause error) error
	RecoverStale(ctx context.Context, olderThan time.Duration) ([]domain.Job, error)
}

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	Store        JobStore
	Dispatcher   *Dispatcher
	Cache        cache.StatusCache
	WorkerID     string
	PollInterval time.Duration
	JobTimeout   time.Duration
	StaleAfter   time.Duration
	StatusTTL    time.Duration
}

// Worker runs jobs one at a time from the queue
type Worker struct {
	logger       *slog.Logger
	store        JobStore
	dispatcher   *Dispatcher
	cache        cache.StatusCache
	workerID     string
	pollInterval time.Duration
	jobTimeout   time.Duration
	staleAfter   time.Duration
	statusTTL    time.Duration
	wake         chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:       cfg.Logger,
		store:        cfg.Store,
		dispatcher:   cfg.Dispatcher,
		cache:        cfg.Cache,
		workerID:     cfg.WorkerID,
		pollInterval: cfg.PollInterval,
		jobTimeout:   cfg.JobTimeout,
		staleAfter:   cfg.StaleAfter,
		statusTTL:    cfg.StatusTTL,
		wake:         make(chan struct{}, 1),
	}
	if w.cache == nil {
		w.cache = cache.Nop{}
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = DefaultJobTimeout
	}
	if w.staleAfter <= 0 {
		w.staleAfter = DefaultStaleAfter
	}
	return w
}

// Wake interrupts an idle wait so the next lease happens immediately.
// It never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run polls the queue until ctx is canceled. It returns nil on cancellation
// and the store error when the queue becomes unreachable.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	recovered, err := w.store.RecoverStale(ctx, w.staleAfter)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Error("Failed to recover stale jobs", slog.String("error", err.Error()))
		return err
	}
	if len(recovered) > 0 {
		w.logger.Warn("Recovered stale running jobs",
			slog.Int("count", len(recovered)),
			slog.Duration("stale_after", w.staleAfter),
		)
	}
	// the cache still says RUNNING for these
	for i := range recovered {
		w.statusChanged(ctx, &recovered[i])
	}

	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker context canceled, stopping...")
			return nil
		}

		processed, err := w.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Worker context canceled, stopping...")
				return nil
			}
			w.logger.Error("Queue store failure, stopping worker",
				slog.String("worker_id", w.workerID),
				slog.String("error", err.Error()),
			)
			return err
		}
		if processed {
			continue
		}

		if !w.idle(ctx) {
			w.logger.Info("Worker context canceled, stopping...")
			return nil
		}
	}
}

// idle waits for the poll interval or a wake-up. It returns false when ctx
// is done.
func (w *Worker) idle(ctx context.Context) bool {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.wake:
		w.logger.Debug("Worker woken by queue notification")
	case <-timer.C:
	}
	return true
}

// RunOnce leases and processes at most one job. It reports whether a job was
// found. Only store failures are returned; handler failures are recorded on
// the job.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	jobs, err := w.store.LeaseNext(ctx, 1)
	if err != nil {
		return false, err
	}
	if len(jobs) == 0 {
		return false, nil
	}

	job := jobs[0]
	if err := w.processJob(ctx, &job); err != nil {
		return true, err
	}
	return true, nil
}

// statusChanged mirrors the job status into the cache. Cache errors are
// logged and otherwise ignored.
func (w *Worker) statusChanged(ctx context.Context, job *domain.Job) {
	if err := w.cache.SetJobStatus(ctx, job.ID, string(job.Status), w.statusTTL); err != nil {
		w.logger.Warn("Failed to cache job status",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func isClaimConflict(err error) bool {
	return errors.Is(err, domain.ErrJobAlreadyClaimed)
}
