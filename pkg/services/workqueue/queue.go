package workqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waypost-ai/waypost-engine/pkg/retry"
)

// RetryConfig configures retry behavior for failed tasks.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig gives a short 2s/4s/8s schedule. Scheduled tasks come
// back on the next tick anyway, so long in-process retry chains add nothing.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Queue executes project tasks in the background. Enqueue never blocks on
// task execution.
type Queue struct {
	mu        sync.Mutex
	tasks     []*taskState
	byProject map[uuid.UUID]*taskState
	cancelled bool

	retryConfig RetryConfig

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(config RetryConfig) Option {
	return func(q *Queue) {
		q.retryConfig = config
	}
}

// New creates a work queue.
func New(logger *zap.Logger, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		byProject:   make(map[uuid.UUID]*taskState),
		retryConfig: DefaultRetryConfig(),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("workqueue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue starts a task asynchronously and returns immediately. Returns
// false when the task was skipped: the queue is shut down, or another task
// for the same project is still in flight. Overlapping runs for one project
// waste backend calls and race on its context log, so the newer trigger
// loses.
func (q *Queue) Enqueue(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		q.logger.Warn("Queue shut down, ignoring task",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return false
	}

	if running, ok := q.byProject[task.ProjectID()]; ok {
		q.logger.Info("Task already in flight for project, skipping",
			zap.String("task_name", task.Name()),
			zap.String("project_id", task.ProjectID().String()),
			zap.String("running_task", running.task.Name()))
		return false
	}

	state := newTaskState(task)
	q.tasks = append(q.tasks, state)
	q.pruneHistoryLocked()
	q.byProject[task.ProjectID()] = state
	state.setStatus(TaskStatusRunning)

	q.logger.Info("Task started",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()),
		zap.String("project_id", task.ProjectID().String()))

	q.wg.Add(1)
	go q.runTask(state)
	return true
}

func (q *Queue) runTask(ts *taskState) {
	defer q.wg.Done()
	defer q.releaseProject(ts)

	retryCfg := &retry.Config{
		MaxRetries:   q.retryConfig.MaxRetries,
		InitialDelay: q.retryConfig.InitialBackoff,
		MaxDelay:     q.retryConfig.MaxBackoff,
		Multiplier:   q.retryConfig.BackoffFactor,
		JitterFactor: 0.1,
	}

	attempt := 0
	err := retry.DoIfRetryable(q.ctx, retryCfg, func() error {
		if attempt > 0 {
			ts.mu.Lock()
			ts.retries++
			ts.mu.Unlock()
			q.logger.Info("Retrying task",
				zap.String("task_name", ts.task.Name()),
				zap.Int("attempt", attempt))
		}
		attempt++
		return ts.task.Execute(q.ctx)
	})

	switch {
	case err == nil:
		ts.setStatus(TaskStatusCompleted)
		q.logger.Info("Task completed",
			zap.String("task_name", ts.task.Name()),
			zap.Int("retries", ts.retries))
	case errors.Is(err, context.Canceled):
		ts.setStatus(TaskStatusCancelled)
	default:
		ts.setError(err)
		ts.setStatus(TaskStatusFailed)
		q.logger.Error("Task failed",
			zap.String("task_name", ts.task.Name()),
			zap.Int("retries", ts.retries),
			zap.Error(err))
	}
}

// maxTaskHistory bounds how many task records Snapshots retains. The queue
// runs for the life of the daemon, so finished records must be dropped or
// the slice grows with every scheduler tick.
const maxTaskHistory = 128

// pruneHistoryLocked drops the oldest terminal task records once the history
// exceeds maxTaskHistory. In-flight tasks are always kept. Caller holds q.mu.
func (q *Queue) pruneHistoryLocked() {
	excess := len(q.tasks) - maxTaskHistory
	if excess <= 0 {
		return
	}

	kept := q.tasks[:0]
	for _, ts := range q.tasks {
		if excess > 0 && ts.isTerminal() {
			excess--
			continue
		}
		kept = append(kept, ts)
	}
	for i := len(kept); i < len(q.tasks); i++ {
		q.tasks[i] = nil
	}
	q.tasks = kept
}

// releaseProject frees the per-project slot once a task reaches a terminal
// state.
func (q *Queue) releaseProject(ts *taskState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.byProject[ts.task.ProjectID()] == ts {
		delete(q.byProject, ts.task.ProjectID())
	}
}

// Snapshots returns the state of every task seen by the queue.
func (q *Queue) Snapshots() []Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshots := make([]Snapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.snapshot()
	}
	return snapshots
}

// RunningCount returns the number of tasks currently in flight.
func (q *Queue) RunningCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byProject)
}

// Shutdown cancels in-flight tasks and waits for them to stop, up to the
// context deadline.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.cancelled = true
	q.mu.Unlock()
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
