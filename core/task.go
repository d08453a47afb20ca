package core

import (
	"fmt"
	"io"
	"time"
)

// TaskID is the scheduler-assigned identifier of a task.
// IDs increase monotonically and are never reused, even after the OS
// recycles the task's process id.
type TaskID int

// =============================================================================
// TaskState: Lifecycle of a tracked process
// =============================================================================

type TaskState int

const (
	// TaskStateCreated: spawned and held paused, not dispatched yet
	TaskStateCreated TaskState = iota

	// TaskStateRunning: the registry head, signaled to continue
	TaskStateRunning

	// TaskStateReady: stopped, waiting in the ring for its turn
	TaskStateReady

	// TaskStateTerminated is only ever reported, never stored.
	// A task is removed from the registry the instant its exit is observed.
	TaskStateTerminated
)

func (s TaskState) String() string {
	switch s {
	case TaskStateCreated:
		return "CREATED"
	case TaskStateRunning:
		return "RUNNING"
	case TaskStateReady:
		return "READY"
	case TaskStateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// =============================================================================
// Task: One tracked OS process
// =============================================================================

type Task struct {
	ID    TaskID
	PID   int
	Name  string
	State TaskState

	// Controller marks the task driving the control channel.
	Controller bool

	// Dispatches counts how many times the task became RUNNING.
	Dispatches int

	CreatedAt time.Time
}

func (t *Task) String() string {
	return fmt.Sprintf("%s(id=%d, pid=%d, %s)", t.Name, t.ID, t.PID, t.State)
}

// fields returns the structured logging fields describing the task.
func (t *Task) fields() []Field {
	return []Field{F("task_id", t.ID), F("pid", t.PID), F("name", t.Name)}
}

// =============================================================================
// Launching
// =============================================================================

// LaunchSpec describes a process to create.
type LaunchSpec struct {
	// Name is the executable name; it is run as "./<Name>" from the task directory.
	Name string

	// Controller requests a control channel wired to the new process.
	Controller bool
}

// Launched is the outcome of a successful launch.
// The process is stopped when Launch returns.
type Launched struct {
	PID int

	// Channel is the scheduler side of the control channel (controllers only).
	Channel io.ReadWriteCloser
}
