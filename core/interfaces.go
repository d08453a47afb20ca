package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling event handler panics
// =============================================================================

// PanicHandler is called when handling an event panics.
// The event loop recovers, reports the panic and keeps draining events.
type PanicHandler interface {
	// HandlePanic is called when an event handler panics.
	//
	// Parameters:
	// - ctx: The event loop context
	// - loopName: The name of the event loop where the panic occurred
	// - ev: The event being handled
	// - panicInfo: The panic value recovered from the handler
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, loopName string, ev Event, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler provides a basic panic handler that logs to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, loopName string, ev Event, panicInfo any, stackTrace []byte) {
	fmt.Printf("[Loop %s] Panic handling %s: %v\nStack trace:\n%s",
		loopName, ev.Kind, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called from the scheduler event loop and must be non-blocking.
type Metrics interface {
	// RecordDispatch records that a task was continued as the new head.
	RecordDispatch(taskName string)

	// RecordPreemption records that the quantum expired and the head was sent a stop signal.
	RecordPreemption(taskName string)

	// RecordTaskExit records an observed task exit.
	// reason is "exited" or "signaled".
	RecordTaskExit(reason string)

	// RecordRegistrySize records the number of tracked tasks after a mutation.
	RecordRegistrySize(size int)

	// RecordControlRequest records a processed control request.
	//
	// Parameters:
	// - op: The request opcode name
	// - status: The status label returned to the controller
	// - duration: How long the request took to process
	RecordControlRequest(op string, status string, duration time.Duration)

	// RecordInconsistency records a child event that referenced an untracked process.
	RecordInconsistency(kind string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordDispatch is a no-op.
func (m *NilMetrics) RecordDispatch(taskName string) {}

// RecordPreemption is a no-op.
func (m *NilMetrics) RecordPreemption(taskName string) {}

// RecordTaskExit is a no-op.
func (m *NilMetrics) RecordTaskExit(reason string) {}

// RecordRegistrySize is a no-op.
func (m *NilMetrics) RecordRegistrySize(size int) {}

// RecordControlRequest is a no-op.
func (m *NilMetrics) RecordControlRequest(op string, status string, duration time.Duration) {}

// RecordInconsistency is a no-op.
func (m *NilMetrics) RecordInconsistency(kind string) {}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

// SpawnPolicy decides what a failed EXEC request does to the scheduler.
type SpawnPolicy int

const (
	// SpawnFailFast terminates the scheduler with the SpawnError.
	SpawnFailFast SpawnPolicy = iota

	// SpawnReport returns the SpawnError to the caller and keeps scheduling.
	SpawnReport
)

func (p SpawnPolicy) String() string {
	if p == SpawnReport {
		return "report"
	}
	return "fail-fast"
}

// DefaultQuantum is the time slice a task runs before it is preempted.
const DefaultQuantum = 2 * time.Second

// SchedulerConfig holds configuration options for Scheduler.
// All handlers are optional; if not provided, default implementations will be used.
type SchedulerConfig struct {
	// Quantum is the time budget of one dispatch. Defaults to DefaultQuantum.
	Quantum time.Duration

	// SpawnPolicy applies to tasks launched after Run started. Initial tasks always fail fast.
	SpawnPolicy SpawnPolicy

	// StrictConsistency stops the scheduler on a RegistryInconsistency instead of logging it.
	StrictConsistency bool

	// Output receives the PrintTasks listing. Defaults to os.Stdout.
	Output io.Writer

	// HistoryCapacity bounds the dispatch history ring.
	HistoryCapacity int

	// EventBuffer is the capacity of the event loop queue.
	EventBuffer int

	// Logger receives scheduler logs. Defaults to DefaultLogger.
	Logger Logger

	// Metrics is called to record scheduler metrics. Defaults to NilMetrics.
	Metrics Metrics

	// PanicHandler is called when an event handler panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Quantum:         DefaultQuantum,
		SpawnPolicy:     SpawnFailFast,
		Output:          os.Stdout,
		HistoryCapacity: defaultDispatchHistoryCapacity,
		EventBuffer:     defaultEventBuffer,
		Logger:          NewDefaultLogger(),
		Metrics:         &NilMetrics{},
		PanicHandler:    &DefaultPanicHandler{},
	}
}

// withDefaults fills unset fields from DefaultSchedulerConfig.
func (c *SchedulerConfig) withDefaults() *SchedulerConfig {
	d := DefaultSchedulerConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Quantum <= 0 {
		out.Quantum = d.Quantum
	}
	if out.Output == nil {
		out.Output = d.Output
	}
	if out.HistoryCapacity <= 0 {
		out.HistoryCapacity = d.HistoryCapacity
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = d.EventBuffer
	}
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	if out.Metrics == nil {
		out.Metrics = d.Metrics
	}
	if out.PanicHandler == nil {
		out.PanicHandler = d.PanicHandler
	}
	return &out
}
