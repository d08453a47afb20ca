package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// SignalBridge turns asynchronous child notifications into events on the
// scheduler loop.
//
// Notifications are coalesced: while a child-state-changed event is queued
// and not yet handled, further notifications are absorbed, because the
// handler drains every pending change at once. The flag is cleared when the
// handler begins, so a notification that arrives mid-drain queues a new event.
type SignalBridge struct {
	notifier ChildNotifier
	loop     *EventLoop

	pending   atomic.Bool
	forwarded atomic.Int64

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSignalBridge creates a bridge from notifier to loop.
func NewSignalBridge(notifier ChildNotifier, loop *EventLoop) *SignalBridge {
	return &SignalBridge{notifier: notifier, loop: loop}
}

// Start begins forwarding; repeated calls are no-ops.
func (b *SignalBridge) Start(ctx context.Context) {
	b.stateMu.Lock()
	if b.running {
		b.stateMu.Unlock()
		return
	}
	bridgeCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true
	notifications := b.notifier.Start()
	b.stateMu.Unlock()

	go b.loopForward(bridgeCtx, notifications)
}

// Stop stops forwarding; repeated calls are safe.
func (b *SignalBridge) Stop() {
	b.stateMu.Lock()
	if !b.running {
		b.stateMu.Unlock()
		return
	}
	cancel := b.cancel
	done := b.done
	b.stateMu.Unlock()

	cancel()
	<-done
	b.notifier.Stop()

	b.stateMu.Lock()
	b.running = false
	b.cancel = nil
	b.done = nil
	b.stateMu.Unlock()
}

// Forwarded returns how many events the bridge posted to the loop.
func (b *SignalBridge) Forwarded() int64 {
	return b.forwarded.Load()
}

// Notify posts a child-state-changed event unless one is already queued.
func (b *SignalBridge) Notify() {
	if !b.pending.CompareAndSwap(false, true) {
		return
	}
	if !b.loop.Post(Event{Kind: EventChildStateChanged}) {
		b.pending.Store(false)
		return
	}
	b.forwarded.Add(1)
}

// beginDrain is called by the handler before it reaps.
func (b *SignalBridge) beginDrain() {
	b.pending.Store(false)
}

func (b *SignalBridge) loopForward(ctx context.Context, notifications <-chan struct{}) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-notifications:
			if !ok {
				return
			}
			b.Notify()
		}
	}
}
