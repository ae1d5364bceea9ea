package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusNotExist TaskStatus = "NOTEXIST"
	StatusPending  TaskStatus = "PENDING"
	StatusStarted  TaskStatus = "STARTED"
	StatusSuccess  TaskStatus = "SUCCESS"
	StatusFailure  TaskStatus = "FAILURE"
	StatusRevoked  TaskStatus = "REVOKED"
)

// Terminal reports whether the task has finished.
func (s TaskStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusRevoked
}

// Default limits for long-running tasks.
const (
	DefaultSoftTimeLimit = 100 * time.Hour
	DefaultTimeLimit     = 2 * DefaultSoftTimeLimit

	// maxFinishedTasks bounds how many finished tasks are remembered.
	maxFinishedTasks = 256
)

var (
	// ErrSoftTimeLimit is the failure recorded when a task outlives its soft limit.
	ErrSoftTimeLimit = errors.New("scheduler: soft time limit exceeded")

	// ErrTimeLimit is the failure recorded when a task outlives its hard limit.
	ErrTimeLimit = errors.New("scheduler: time limit exceeded")

	// ErrTaskPanicked wraps a recovered panic.
	ErrTaskPanicked = errors.New("scheduler: task panicked")
)

// TaskFunc is the body of a task. It should return promptly once ctx ends.
type TaskFunc func(ctx context.Context) error

// ApplyOptions bounds a task's run time. Zero values use the defaults.
//
// At SoftTimeLimit the task's context is cancelled. At TimeLimit the task is
// marked FAILURE whether or not the function has returned.
type ApplyOptions struct {
	SoftTimeLimit time.Duration
	TimeLimit     time.Duration
}

// TaskInfo is a snapshot of one task.
type TaskInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    TaskStatus `json:"status"`
	StartedAt time.Time  `json:"started_at,omitzero"`
	EndedAt   time.Time  `json:"ended_at,omitzero"`
	Error     string     `json:"error,omitempty"`

	err error
}

// Err returns the failure that ended the task, if any.
func (t TaskInfo) Err() error { return t.err }

// Logger defines the logging interface for the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type task struct {
	info   TaskInfo
	cancel context.CancelFunc
	timers []*time.Timer
}

// Runner executes tasks in goroutines and tracks their status by id.
type Runner struct {
	logger Logger
	onDone func(TaskInfo)

	mu       sync.RWMutex
	tasks    map[string]*task
	finished []string
	closed   bool

	wg sync.WaitGroup
}

// NewRunner creates an empty runner.
func NewRunner() *Runner {
	return &Runner{
		logger: noopLogger{},
		tasks:  make(map[string]*task),
	}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
}

// OnTaskDone registers a hook called once when a task reaches a terminal
// state. Set it before the first Apply.
func (r *Runner) OnTaskDone(fn func(TaskInfo)) {
	r.onDone = fn
}

// Apply starts fn in its own goroutine and returns its task id.
// ctx supplies values only; the task outlives the caller's cancellation.
func (r *Runner) Apply(ctx context.Context, name string, fn TaskFunc, opts ApplyOptions) string {
	if opts.SoftTimeLimit <= 0 {
		opts.SoftTimeLimit = DefaultSoftTimeLimit
	}
	if opts.TimeLimit <= 0 {
		opts.TimeLimit = DefaultTimeLimit
	}

	id := uuid.NewString()
	taskCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	t := &task{
		info:   TaskInfo{ID: id, Name: name, Status: StatusPending},
		cancel: func() { cancel(context.Canceled) },
	}

	r.mu.Lock()
	r.tasks[id] = t
	if r.closed {
		r.mu.Unlock()
		cancel(context.Canceled)
		r.finish(id, StatusRevoked, errors.New("scheduler: runner shut down"))
		return id
	}
	t.timers = []*time.Timer{
		time.AfterFunc(opts.SoftTimeLimit, func() {
			r.logger.Warn("task soft time limit reached", "task", name, "id", id, "limit", opts.SoftTimeLimit)
			cancel(ErrSoftTimeLimit)
		}),
		time.AfterFunc(opts.TimeLimit, func() {
			r.logger.Error("task time limit reached", "task", name, "id", id, "limit", opts.TimeLimit)
			cancel(ErrTimeLimit)
			r.finish(id, StatusFailure, ErrTimeLimit)
		}),
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(taskCtx, id, name, fn)

	return id
}

func (r *Runner) run(ctx context.Context, id, name string, fn TaskFunc) {
	defer r.wg.Done()

	r.mu.Lock()
	if t, ok := r.tasks[id]; ok && t.info.Status == StatusPending {
		t.info.Status = StatusStarted
		t.info.StartedAt = time.Now()
	}
	r.mu.Unlock()

	r.logger.Info("task started", "task", name, "id", id)

	err := r.invoke(ctx, fn)
	// Stopping at the soft limit is a failure even when fn returns nil.
	if errors.Is(context.Cause(ctx), ErrSoftTimeLimit) {
		if err == nil {
			err = ErrSoftTimeLimit
		} else if !errors.Is(err, ErrSoftTimeLimit) {
			err = fmt.Errorf("%w: %w", ErrSoftTimeLimit, err)
		}
	}

	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	r.finish(id, status, err)
}

// invoke runs fn, converting a panic into an error.
func (r *Runner) invoke(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("task panicked", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, p)
		}
	}()
	return fn(ctx)
}

// finish moves a task to a terminal state. Only the first call has effect.
func (r *Runner) finish(id string, status TaskStatus, err error) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok || t.info.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	for _, tm := range t.timers {
		tm.Stop()
	}
	t.info.Status = status
	t.info.EndedAt = time.Now()
	t.info.err = err
	if err != nil {
		t.info.Error = err.Error()
	}
	info := t.info
	r.finished = append(r.finished, id)
	r.pruneLocked()
	onDone := r.onDone
	r.mu.Unlock()

	t.cancel()

	switch status {
	case StatusFailure:
		r.logger.Error("task failed", "task", info.Name, "id", id, "error", err)
	default:
		r.logger.Info("task finished", "task", info.Name, "id", id, "status", status)
	}

	if onDone != nil {
		onDone(info)
	}
}

func (r *Runner) pruneLocked() {
	for len(r.finished) > maxFinishedTasks {
		delete(r.tasks, r.finished[0])
		r.finished = r.finished[1:]
	}
}

// Status returns the status of id. Unknown and empty ids are NOTEXIST.
func (r *Runner) Status(id string) TaskStatus {
	info, ok := r.Info(id)
	if !ok {
		return StatusNotExist
	}
	return info.Status
}

// Info returns a snapshot of task id.
func (r *Runner) Info(id string) (TaskInfo, bool) {
	if id == "" {
		return TaskInfo{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return TaskInfo{}, false
	}
	return t.info, true
}

// Revoke cancels a running task and marks it REVOKED.
// It returns false if the task is unknown or already finished.
func (r *Runner) Revoke(id string) bool {
	r.mu.RLock()
	t, ok := r.tasks[id]
	active := ok && !t.info.Status.Terminal()
	r.mu.RUnlock()
	if !active {
		return false
	}

	r.finish(id, StatusRevoked, nil)
	return true
}

// Stats summarises the tracked tasks.
type Stats struct {
	Total    int                `json:"total"`
	ByStatus map[TaskStatus]int `json:"by_status"`
}

// Stats counts tracked tasks by status.
func (r *Runner) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Total: len(r.tasks), ByStatus: make(map[TaskStatus]int)}
	for _, t := range r.tasks {
		s.ByStatus[t.info.Status]++
	}
	return s
}

// Shutdown revokes every active task and waits for their functions to
// return, or for ctx to end. Apply after Shutdown yields REVOKED tasks.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	var active []string
	for id, t := range r.tasks {
		if !t.info.Status.Terminal() {
			active = append(active, id)
		}
	}
	r.mu.Unlock()

	for _, id := range active {
		r.finish(id, StatusRevoked, nil)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
