//go:build unix

package proc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Signaler delivers scheduling signals with kill(2).
type Signaler struct{}

// NewSignaler returns a Signaler.
func NewSignaler() *Signaler {
	return &Signaler{}
}

func (s *Signaler) Stop(pid int) error {
	return send(pid, unix.SIGSTOP)
}

func (s *Signaler) Continue(pid int) error {
	return send(pid, unix.SIGCONT)
}

func (s *Signaler) Kill(pid int) error {
	return send(pid, unix.SIGKILL)
}

func send(pid int, sig unix.Signal) error {
	// kill(2) treats pid <= 0 as a process group.
	if pid <= 0 {
		return fmt.Errorf("send %s: invalid pid %d", unix.SignalName(sig), pid)
	}
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("send %s to pid %d: %w", unix.SignalName(sig), pid, err)
	}
	return nil
}
