//go:build unix

package proc

import (
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
)

// SigchldNotifier reports SIGCHLD deliveries. Bursts collapse into a single
// pending notification; the reaper drains them all anyway.
type SigchldNotifier struct {
	mu      sync.Mutex
	signals chan os.Signal
	out     chan struct{}
	done    chan struct{}
}

// NewSigchldNotifier creates a stopped notifier.
func NewSigchldNotifier() *SigchldNotifier {
	return &SigchldNotifier{}
}

// Start subscribes to SIGCHLD. Calling Start on a running notifier returns
// the same channel.
func (n *SigchldNotifier) Start() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.signals != nil {
		return n.out
	}
	n.signals = make(chan os.Signal, 1)
	n.out = make(chan struct{}, 1)
	n.done = make(chan struct{})
	signal.Notify(n.signals, unix.SIGCHLD)

	go n.forward(n.signals, n.out, n.done)
	return n.out
}

// Stop unsubscribes. The channel returned by Start is not closed.
func (n *SigchldNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.signals == nil {
		return
	}
	signal.Stop(n.signals)
	close(n.done)
	n.signals = nil
}

func (n *SigchldNotifier) forward(signals <-chan os.Signal, out chan<- struct{}, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-signals:
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}
}
