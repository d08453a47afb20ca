package core

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyRegistry is returned when an operation needs a head but the registry is empty.
	ErrEmptyRegistry = errors.New("registry is empty")

	// ErrNotFound is returned when no task matches the given scheduler id or pid.
	ErrNotFound = errors.New("task not found")

	// ErrDuplicateTask is returned when a task id or pid is already registered.
	ErrDuplicateTask = errors.New("task already registered")

	// ErrSpawnFailed is the sentinel wrapped by every SpawnError.
	ErrSpawnFailed = errors.New("spawn failed")

	// ErrRegistryInconsistency is the sentinel wrapped by every InconsistencyError.
	ErrRegistryInconsistency = errors.New("registry inconsistency")

	// ErrNoTasks is returned by Run when there is nothing to schedule.
	ErrNoTasks = errors.New("no tasks to schedule")

	// ErrSchedulerClosed is returned when a request reaches a scheduler that has finished.
	ErrSchedulerClosed = errors.New("scheduler is closed")

	// ErrInvalidTaskName is returned for empty executable names.
	ErrInvalidTaskName = errors.New("invalid task name")
)

// SpawnError reports that an OS process could not be created for a task.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawnFailed, e.Err}
}

// InconsistencyError reports a child state change for a process the registry
// has no record of.
type InconsistencyError struct {
	PID  int
	Kind ChildEventKind
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("%v: pid %d %s but is not tracked", ErrRegistryInconsistency, e.PID, e.Kind)
}

func (e *InconsistencyError) Unwrap() error {
	return ErrRegistryInconsistency
}
