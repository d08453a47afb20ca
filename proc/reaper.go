//go:build unix

package proc

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/Swind/go-proc-scheduler/core"
)

// Reaper collects child state changes with wait4(2).
type Reaper struct{}

// NewReaper returns a Reaper.
func NewReaper() *Reaper {
	return &Reaper{}
}

// Reap drains every pending stop and exit of any child without blocking.
// Having no children at all is not an error.
func (r *Reaper) Reap() ([]core.ChildEvent, error) {
	var events []core.ChildEvent
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG|unix.WUNTRACED, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			return events, nil
		case err != nil:
			return events, fmt.Errorf("wait4: %w", err)
		case pid <= 0:
			return events, nil
		}

		if ev, ok := childEvent(pid, ws); ok {
			events = append(events, ev)
		}
	}
}

// childEvent converts a wait status. Continued notifications are dropped.
func childEvent(pid int, ws unix.WaitStatus) (core.ChildEvent, bool) {
	switch {
	case ws.Stopped():
		return core.ChildEvent{PID: pid, Kind: core.ChildStopped, Signal: ws.StopSignal()}, true
	case ws.Exited():
		return core.ChildEvent{PID: pid, Kind: core.ChildExited, ExitCode: ws.ExitStatus()}, true
	case ws.Signaled():
		return core.ChildEvent{PID: pid, Kind: core.ChildSignaled, Signal: ws.Signal()}, true
	default:
		return core.ChildEvent{}, false
	}
}
