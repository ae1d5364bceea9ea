package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultCheckInterval is how often the supervisor reconciles.
const DefaultCheckInterval = 30 * time.Second

// ProjectStore persists the id of the supervised task.
// *audit.ProjectRepository satisfies this interface.
type ProjectStore interface {
	SensorTaskID(ctx context.Context) (id string, exists bool, err error)
	SetSensorTaskID(ctx context.Context, id string) error
}

// ErrorRecorder stores failures for later inspection.
// *audit.ErrorLog satisfies this interface.
type ErrorRecorder interface {
	Record(ctx context.Context, err error) error
}

// SupervisorConfig describes the task kept alive by a Supervisor.
type SupervisorConfig struct {
	TaskName string
	Task     TaskFunc
	Interval time.Duration
	Limits   ApplyOptions
}

// Supervisor keeps one long-running task alive. On every pass it looks up the
// stored task id and relaunches the task if it is unknown, failed or revoked.
type Supervisor struct {
	runner  *Runner
	project ProjectStore
	errs    ErrorRecorder
	cfg     SupervisorConfig
	logger  Logger
}

// NewSupervisor creates a supervisor. errs may be nil.
func NewSupervisor(runner *Runner, project ProjectStore, errs ErrorRecorder, cfg SupervisorConfig) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCheckInterval
	}
	return &Supervisor{
		runner:  runner,
		project: project,
		errs:    errs,
		cfg:     cfg,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// needsRestart reports whether a task in status should be relaunched.
func needsRestart(status TaskStatus) bool {
	switch status {
	case StatusNotExist, StatusFailure, StatusRevoked:
		return true
	}
	return false
}

// Check runs one reconcile pass. Failures are recorded and returned.
func (s *Supervisor) Check(ctx context.Context) error {
	err := s.check(ctx)
	if err != nil {
		s.logger.Error("supervisor check failed", "task", s.cfg.TaskName, "error", err)
		s.record(ctx, err)
	}
	return err
}

func (s *Supervisor) check(ctx context.Context) error {
	id, exists, err := s.project.SensorTaskID(ctx)
	if err != nil {
		return fmt.Errorf("reading task id: %w", err)
	}

	if exists {
		status := s.runner.Status(id)
		if !needsRestart(status) {
			return nil
		}
		s.logger.Info("relaunching task", "task", s.cfg.TaskName, "previous_id", id, "status", status)
	} else {
		s.logger.Info("no project yet, starting task", "task", s.cfg.TaskName)
	}

	newID := s.runner.Apply(ctx, s.cfg.TaskName, s.cfg.Task, s.cfg.Limits)
	if err := s.project.SetSensorTaskID(ctx, newID); err != nil {
		s.runner.Revoke(newID)
		return fmt.Errorf("storing task id: %w", err)
	}

	s.logger.Info("task launched", "task", s.cfg.TaskName, "id", newID)
	return nil
}

// Run checks immediately and then every interval until ctx ends.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		_ = s.Check(ctx) //nolint:errcheck // Logged and recorded; next tick retries

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Snapshot is the supervisor's view for status reporting.
type Snapshot struct {
	TaskID     string     `json:"task_id"`
	HasProject bool       `json:"has_project"`
	Status     TaskStatus `json:"status"`
	Task       *TaskInfo  `json:"task,omitempty"`
	Runner     Stats      `json:"runner"`
}

// Snapshot reports the stored task id, its status and runner statistics.
func (s *Supervisor) Snapshot(ctx context.Context) (Snapshot, error) {
	id, exists, err := s.project.SensorTaskID(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading task id: %w", err)
	}

	snap := Snapshot{
		TaskID:     id,
		HasProject: exists,
		Status:     s.runner.Status(id),
		Runner:     s.runner.Stats(),
	}
	if info, ok := s.runner.Info(id); ok {
		snap.Task = &info
	}
	return snap, nil
}

// RecordTaskFailure stores a failed task's error. Wire it to Runner.OnTaskDone.
func (s *Supervisor) RecordTaskFailure(info TaskInfo) {
	if info.Status != StatusFailure {
		return
	}
	err := info.Err()
	if err == nil {
		err = errors.New(info.Error)
	}
	s.record(context.Background(), fmt.Errorf("task %s (%s): %w", info.Name, info.ID, err))
}

func (s *Supervisor) record(ctx context.Context, err error) {
	if s.errs == nil {
		return
	}
	if recErr := s.errs.Record(context.WithoutCancel(ctx), err); recErr != nil {
		s.logger.Warn("recording error failed", "error", recErr)
	}
}
