// Package scheduler runs the engine's periodic batch tasks.
package scheduler

import (
	"context"
	"sync"
	"time"

	"auto-market-engine/internal/service"
	"auto-market-engine/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Names of the periodic tasks.
const (
	TaskMatch    = "match"
	TaskRank     = "rank"
	TaskPurchase = "purchase"
)

// RunFunc is one batch pass over all dealers.
type RunFunc func(ctx context.Context) (service.BatchReport, error)

type task struct {
	name     string
	interval time.Duration
	run      RunFunc
}

// Scheduler runs each task on its own ticker. Runs of the same task never overlap.
type Scheduler struct {
	tasks  []task
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates an empty scheduler
func New() *Scheduler {
	return &Scheduler{logger: util.ComponentLogger("scheduler")}
}

// Every registers a task. A non-positive interval disables it.
func (s *Scheduler) Every(name string, interval time.Duration, run RunFunc) {
	if interval <= 0 {
		s.logger.Info("Task disabled", zap.String("task", name))
		return
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, run: run})
}

// Start launches the task loops. They stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, t := range s.tasks {
		t := t
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, t)
		}()
	}
}

// Wait blocks until every task loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t task) {
	s.logger.Info("Scheduling task", zap.String("task", t.name), zap.Duration("interval", t.interval))

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = RunOnce(ctx, t.name, t.run)
		}
	}
}

// RunOnce runs a task, records its outcome and returns its error.
func RunOnce(ctx context.Context, name string, run RunFunc) error {
	ctx, span := util.StartSpan(ctx, "Scheduler.RunOnce", attribute.String("task", name))
	defer span.End()

	logger := util.ComponentLogger("scheduler")
	start := time.Now()

	report, err := run(ctx)
	if err != nil {
		util.ScheduledRunsTotal.WithLabelValues(name, "error").Inc()
		logger.Error("Scheduled task failed", zap.String("task", name), zap.Error(err))
		return util.RecordError(span, err)
	}

	status := "ok"
	if report.Failed > 0 {
		status = "partial"
	}
	util.ScheduledRunsTotal.WithLabelValues(name, status).Inc()
	logger.Info("Scheduled task finished",
		zap.String("task", name),
		zap.Int("dealers", report.Dealers),
		zap.Int("failed", report.Failed),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}
