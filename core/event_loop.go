package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

const defaultEventBuffer = 64

// =============================================================================
// Event: The unit of work drained by the EventLoop
// =============================================================================

type EventKind int

const (
	// EventChildStateChanged: at least one child changed state, drain them all
	EventChildStateChanged EventKind = iota

	// EventQuantumExpired: the quantum timer fired
	EventQuantumExpired

	// EventControl: a control request to run on the loop
	EventControl
)

func (k EventKind) String() string {
	switch k {
	case EventChildStateChanged:
		return "child-state-changed"
	case EventQuantumExpired:
		return "quantum-expired"
	case EventControl:
		return "control"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

type Event struct {
	Kind EventKind

	// Generation identifies the timer arming that produced an EventQuantumExpired.
	Generation uint64

	// Run is executed on the loop for EventControl.
	Run func(ctx context.Context)
}

// EventHandler handles one event on the loop goroutine.
// EventControl events carrying Run are executed by the loop itself.
type EventHandler func(ctx context.Context, ev Event)

// =============================================================================
// EventLoop: Single consumer of scheduler events
// =============================================================================

// EventLoop binds a dedicated goroutine that handles events one at a time, in
// the order they were posted. Handlers never run concurrently or nested, so
// state owned by the handler needs no locking.
//
// Producers (signal notifiers, timers, control servers) may post from any
// goroutine.
type EventLoop struct {
	events       chan Event
	handler      EventHandler
	panicHandler PanicHandler

	// Lifecycle control
	ctx    context.Context
	cancel context.CancelFunc

	// For graceful shutdown
	stopped      chan struct{}
	started      atomic.Bool
	once         sync.Once
	closed       atomic.Bool
	shutdownChan chan struct{}
	shutdownOnce sync.Once

	name    string
	handled atomic.Int64
}

// NewEventLoop creates a loop. Call Start to spawn its goroutine.
func NewEventLoop(name string, buffer int, handler EventHandler, panicHandler PanicHandler) *EventLoop {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	if panicHandler == nil {
		panicHandler = &DefaultPanicHandler{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EventLoop{
		events:       make(chan Event, buffer),
		handler:      handler,
		panicHandler: panicHandler,
		ctx:          ctx,
		cancel:       cancel,
		stopped:      make(chan struct{}),
		shutdownChan: make(chan struct{}),
		name:         name,
	}
}

// Name returns the name of the loop
func (l *EventLoop) Name() string {
	return l.name
}

// Start spawns the loop goroutine. Repeated calls are no-ops.
func (l *EventLoop) Start() {
	if l.closed.Load() {
		return
	}
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.runLoop()
}

// Post queues an event. It returns false if the loop is closed.
// Post blocks while the queue is full.
func (l *EventLoop) Post(ev Event) bool {
	if l.closed.Load() {
		return false
	}

	select {
	case <-l.ctx.Done():
		return false
	case l.events <- ev:
		return true
	}
}

// Shutdown marks the loop as closed and signals shutdown waiters.
// Unlike Stop(), this method does NOT wait for the loop goroutine, so a
// handler may call it to end the loop from the inside.
func (l *EventLoop) Shutdown() {
	l.shutdownOnce.Do(func() {
		l.closed.Store(true)
		l.cancel()
		close(l.shutdownChan)
	})
}

// IsClosed returns true once Shutdown or Stop has been called
func (l *EventLoop) IsClosed() bool {
	return l.closed.Load()
}

// Done is closed when the loop shuts down.
func (l *EventLoop) Done() <-chan struct{} {
	return l.shutdownChan
}

// Stop shuts the loop down and waits for the current handler to return.
// It must not be called from a handler.
func (l *EventLoop) Stop() {
	l.once.Do(func() {
		l.Shutdown()
		if l.started.Load() {
			<-l.stopped
		}
	})
}

// Handled returns the number of events handled so far.
func (l *EventLoop) Handled() int64 {
	return l.handled.Load()
}

// runLoop is the core of the loop, it occupies a dedicated goroutine
func (l *EventLoop) runLoop() {
	defer close(l.stopped)

	for {
		select {
		case ev := <-l.events:
			l.handle(ev)
		case <-l.ctx.Done():
			// Queued events are dropped: the owner is finished with them.
			return
		}
	}
}

func (l *EventLoop) handle(ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			l.panicHandler.HandlePanic(l.ctx, l.name, ev, rec, debug.Stack())
		}
	}()
	if ev.Kind == EventControl && ev.Run != nil {
		ev.Run(l.ctx)
	} else {
		l.handler(l.ctx, ev)
	}
	l.handled.Add(1)
}

// =============================================================================
// Synchronization Methods
// =============================================================================

// WaitIdle blocks until all events posted before the call have been handled.
// It posts a barrier event and waits for it to run.
func (l *EventLoop) WaitIdle(ctx context.Context) error {
	if l.IsClosed() {
		return fmt.Errorf("event loop %s is closed", l.name)
	}

	done := make(chan struct{})
	if !l.Post(Event{Kind: EventControl, Run: func(context.Context) { close(done) }}) {
		return fmt.Errorf("event loop %s is closed", l.name)
	}

	select {
	case <-done:
		return nil
	case <-l.shutdownChan:
		return fmt.Errorf("event loop %s shut down", l.name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitShutdown blocks until Shutdown() is called on this loop.
func (l *EventLoop) WaitShutdown(ctx context.Context) error {
	select {
	case <-l.shutdownChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
