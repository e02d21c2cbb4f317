package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/matchcache/internal/metrics"
)

// Task is a named unit of recurring work.
type Task struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error
}

// Runner executes tasks when their schedules come due. Tasks run one at a
// time on the runner's goroutine.
type Runner struct {
	tasks  []Task
	logger *slog.Logger
	now    func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRunner creates a runner for tasks. A nil logger uses slog.Default.
func NewRunner(logger *slog.Logger, tasks ...Task) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		tasks:  tasks,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

// Start blocks, running tasks as they come due, until ctx is done or Stop
// is called.
func (r *Runner) Start(ctx context.Context) {
	if len(r.tasks) == 0 {
		select {
		case <-ctx.Done():
		case <-r.stop:
		}
		return
	}

	next := make([]time.Time, len(r.tasks))
	for i, t := range r.tasks {
		next[i] = t.Schedule.Next(r.now())
		r.logger.Info("task scheduled", "task", t.Name, "next_run", next[i].Format(time.RFC3339))
	}

	for {
		i := earliest(next)
		timer := time.NewTimer(max(next[i].Sub(r.now()), 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		r.run(ctx, r.tasks[i])
		next[i] = r.tasks[i].Schedule.Next(r.now())
	}
}

// Stop ends Start. It is safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// RunAll runs every task once, in order, regardless of schedule.
func (r *Runner) RunAll(ctx context.Context) {
	for _, t := range r.tasks {
		r.run(ctx, t)
	}
}

func (r *Runner) run(ctx context.Context, t Task) {
	start := r.now()
	if err := t.Run(ctx); err != nil {
		metrics.ScheduledTaskRuns.WithLabelValues(t.Name, "error").Inc()
		r.logger.ErrorContext(ctx, "task failed", "task", t.Name, "error", err)
		return
	}
	metrics.ScheduledTaskRuns.WithLabelValues(t.Name, "success").Inc()
	r.logger.DebugContext(ctx, "task finished", "task", t.Name, "duration", r.now().Sub(start))
}

func earliest(ts []time.Time) int {
	idx := 0
	for i := 1; i < len(ts); i++ {
		if ts[i].Before(ts[idx]) {
			idx = i
		}
	}
	return idx
}
