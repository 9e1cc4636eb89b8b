package worker

import (
	"context"
	"errors"
	"time"

	"auto-market-engine/internal/jobs"
	"auto-market-engine/internal/util"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// JobHandler runs one claimed job.
type JobHandler func(ctx context.Context, job jobs.Job) error

// depthReporter is implemented by queues that can count pending jobs.
type depthReporter interface {
	PendingJobs(ctx context.Context) (int64, error)
}

// JobWorkerConfig holds the dispatch settings.
type JobWorkerConfig struct {
	PollInterval time.Duration
	Batch        int
	// Rate caps dispatched jobs per second. Zero means unlimited.
	Rate    float64
	LockTTL time.Duration
}

// JobWorker polls the delayed queue and dispatches due jobs by kind. Jobs for
// the same subject never run concurrently across workers.
type JobWorker struct {
	queue    jobs.Queue
	locker   jobs.Locker
	handlers map[jobs.Kind]JobHandler
	limiter  *rate.Limiter
	cfg      JobWorkerConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewJobWorker creates a new job worker
func NewJobWorker(queue jobs.Queue, locker jobs.Locker, cfg JobWorkerConfig) *JobWorker {
	if cfg.Batch < 1 {
		cfg.Batch = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}

	return &JobWorker{
		queue:    queue,
		locker:   locker,
		handlers: make(map[jobs.Kind]JobHandler),
		limiter:  rate.NewLimiter(limit, cfg.Batch),
		cfg:      cfg,
		now:      time.Now,
		logger:   util.ComponentLogger("job-worker"),
	}
}

// Handle registers the handler for a job kind.
func (w *JobWorker) Handle(kind jobs.Kind, handler JobHandler) {
	w.handlers[kind] = handler
}

// Start polls until ctx is cancelled.
func (w *JobWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting job worker", zap.Duration("poll_interval", w.cfg.PollInterval))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping job worker")
			return nil
		case <-ticker.C:
			if _, err := w.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("Job poll failed", zap.Error(err))
			}
		}
	}
}

// Poll claims the jobs due now and runs them. Claimed jobs that cannot be run
// because ctx ended are put back on the queue. A claim error that still
// returned jobs does not drop them: they are dispatched and the error is
// returned afterwards. It returns the number of jobs dispatched.
func (w *JobWorker) Poll(ctx context.Context) (int, error) {
	due, claimErr := w.queue.ClaimDue(ctx, w.now(), w.cfg.Batch)
	if claimErr != nil {
		if len(due) == 0 {
			return 0, claimErr
		}
		w.logger.Warn("Claim returned a partial batch", zap.Int("claimed", len(due)), zap.Error(claimErr))
	}

	dispatched := 0
	for i, job := range due {
		if err := w.limiter.Wait(ctx); err != nil {
			w.requeue(due[i:])
			return dispatched, errors.Join(claimErr, err)
		}
		w.process(ctx, job)
		dispatched++
	}

	w.reportDepth(ctx)
	return dispatched, claimErr
}

func (w *JobWorker) process(ctx context.Context, job jobs.Job) {
	kind := string(job.Kind)

	handler, ok := w.handlers[job.Kind]
	if !ok {
		util.JobsProcessedTotal.WithLabelValues(kind, "unknown").Inc()
		w.logger.Error("Dropping job of unknown kind", zap.String("kind", kind), zap.String("job_id", job.ID))
		return
	}

	token, locked, err := w.locker.AcquireLock(ctx, job.LockKey(), w.cfg.LockTTL)
	if err != nil || !locked {
		status := "locked"
		if err != nil {
			status = "error"
			w.logger.Error("Failed to acquire job lock", zap.String("key", job.LockKey()), zap.Error(err))
		}
		util.JobsProcessedTotal.WithLabelValues(kind, status).Inc()
		w.requeue([]jobs.Job{job})
		return
	}
	defer func() {
		if err := w.locker.ReleaseLock(context.Background(), job.LockKey(), token); err != nil {
			w.logger.Warn("Failed to release job lock", zap.String("key", job.LockKey()), zap.Error(err))
		}
	}()

	start := time.Now()
	err = handler(ctx, job)
	util.JobProcessingLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		util.JobsProcessedTotal.WithLabelValues(kind, "error").Inc()
		w.logger.Error("Job failed",
			zap.String("kind", kind),
			zap.Int64("subject_id", job.SubjectID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		return
	}
	util.JobsProcessedTotal.WithLabelValues(kind, "ok").Inc()
}

// requeue puts jobs back one poll interval later.
func (w *JobWorker) requeue(pending []jobs.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	notBefore := w.now().Add(w.cfg.PollInterval)
	for _, job := range pending {
		job.NotBefore = notBefore
		if err := w.queue.Enqueue(ctx, job); err != nil {
			w.logger.Error("Failed to requeue job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

func (w *JobWorker) reportDepth(ctx context.Context) {
	dr, ok := w.queue.(depthReporter)
	if !ok {
		return
	}
	depth, err := dr.PendingJobs(ctx)
	if err != nil {
		w.logger.Warn("Failed to read queue depth", zap.Error(err))
		return
	}
	util.JobQueueDepth.Set(float64(depth))
}
