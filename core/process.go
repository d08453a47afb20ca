package core

import (
	"context"
	"fmt"
	"syscall"
)

// =============================================================================
// ChildEvent: An observed change in a child's run state
// =============================================================================

type ChildEventKind int

const (
	// ChildStopped: the child was stopped by a signal
	ChildStopped ChildEventKind = iota

	// ChildExited: the child exited normally
	ChildExited

	// ChildSignaled: the child was terminated by a signal
	ChildSignaled
)

func (k ChildEventKind) String() string {
	switch k {
	case ChildStopped:
		return "stopped"
	case ChildExited:
		return "exited"
	case ChildSignaled:
		return "signaled"
	default:
		return fmt.Sprintf("ChildEventKind(%d)", int(k))
	}
}

// Terminal reports whether the child is gone.
func (k ChildEventKind) Terminal() bool {
	return k == ChildExited || k == ChildSignaled
}

type ChildEvent struct {
	PID  int
	Kind ChildEventKind

	// ExitCode is set for ChildExited.
	ExitCode int

	// Signal is the stop signal for ChildStopped or the fatal signal for ChildSignaled.
	Signal syscall.Signal
}

// =============================================================================
// OS boundaries
// =============================================================================

// Launcher creates task processes held in a stopped state.
type Launcher interface {
	// Launch starts spec.Name and returns once the new process has stopped itself.
	// Failures are reported as *SpawnError.
	Launch(ctx context.Context, spec LaunchSpec) (Launched, error)
}

// ProcessSignaler delivers scheduling signals to task processes.
type ProcessSignaler interface {
	// Stop pauses the process (SIGSTOP).
	Stop(pid int) error

	// Continue resumes the process (SIGCONT).
	Continue(pid int) error

	// Kill terminates the process (SIGKILL).
	Kill(pid int) error
}

// Reaper collects pending child state changes without blocking.
type Reaper interface {
	// Reap returns every state change pending right now, in the order the OS reports them.
	Reap() ([]ChildEvent, error)
}

// ChildNotifier tells the scheduler that at least one child changed state.
// Several changes may be reported by a single notification.
type ChildNotifier interface {
	Start() <-chan struct{}
	Stop()
}
