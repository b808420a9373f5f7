// Package workqueue runs background project tasks decoupled from the
// request or scheduler tick that triggered them. Enqueue returns
// immediately; execution happens asynchronously with retry on transient
// backend errors. At most one task per project runs at a time, so an
// overlapping trigger for the same project is skipped rather than doubled.
package workqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task is one unit of background work scoped to a project.
type Task interface {
	ID() string
	Name() string
	ProjectID() uuid.UUID
	Execute(ctx context.Context) error
}

// FuncTask wraps a function as a Task.
type FuncTask struct {
	id        string
	name      string
	projectID uuid.UUID
	fn        func(ctx context.Context) error
}

// NewFuncTask creates a task from a function.
func NewFuncTask(name string, projectID uuid.UUID, fn func(ctx context.Context) error) *FuncTask {
	return &FuncTask{
		id:        uuid.New().String(),
		name:      name,
		projectID: projectID,
		fn:        fn,
	}
}

func (t *FuncTask) ID() string                        { return t.id }
func (t *FuncTask) Name() string                      { return t.name }
func (t *FuncTask) ProjectID() uuid.UUID              { return t.projectID }
func (t *FuncTask) Execute(ctx context.Context) error { return t.fn(ctx) }

// taskState holds the runtime state of a queued task.
type taskState struct {
	task        Task
	status      TaskStatus
	startedAt   *time.Time
	completedAt *time.Time
	err         error
	retries     int

	mu sync.RWMutex
}

func newTaskState(task Task) *taskState {
	return &taskState{task: task, status: TaskStatusPending}
}

func (ts *taskState) getStatus() TaskStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.status
}

func (ts *taskState) setStatus(status TaskStatus) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.status = status
	now := time.Now()
	switch status {
	case TaskStatusRunning:
		ts.startedAt = &now
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		ts.completedAt = &now
	}
}

func (ts *taskState) isTerminal() bool {
	switch ts.getStatus() {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

func (ts *taskState) setError(err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.err = err
}

// Snapshot is an immutable view of task state.
type Snapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ProjectID   uuid.UUID  `json:"project_id"`
	Status      TaskStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Retries     int        `json:"retries"`
	Error       string     `json:"error,omitempty"`
}

func (ts *taskState) snapshot() Snapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	var errMsg string
	if ts.err != nil {
		errMsg = ts.err.Error()
	}
	return Snapshot{
		ID:          ts.task.ID(),
		Name:        ts.task.Name(),
		ProjectID:   ts.task.ProjectID(),
		Status:      ts.status,
		StartedAt:   ts.startedAt,
		CompletedAt: ts.completedAt,
		Retries:     ts.retries,
		Error:       errMsg,
	}
}
