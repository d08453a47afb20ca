package procsched

import "github.com/Swind/go-proc-scheduler/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the procsched package for most use cases.

// Task is one tracked OS process
type Task = core.Task

// TaskID is the scheduler-assigned task identifier
type TaskID = core.TaskID

// TaskState is the lifecycle state of a task
type TaskState = core.TaskState

// Scheduler is the round-robin process scheduler
type Scheduler = core.Scheduler

// SchedulerConfig holds scheduler options
type SchedulerConfig = core.SchedulerConfig

// SchedulerStats is a snapshot of scheduler state
type SchedulerStats = core.SchedulerStats

// DispatchRecord describes one dispatch
type DispatchRecord = core.DispatchRecord

// LaunchSpec describes a process to create
type LaunchSpec = core.LaunchSpec

// SpawnPolicy decides what a failed runtime spawn does
type SpawnPolicy = core.SpawnPolicy

// Logger is the structured logging interface
type Logger = core.Logger

// Metrics is the metrics sink interface
type Metrics = core.Metrics

// Task states
const (
	TaskStateCreated = core.TaskStateCreated
	TaskStateRunning = core.TaskStateRunning
	TaskStateReady   = core.TaskStateReady
)

// Spawn policies
const (
	SpawnFailFast = core.SpawnFailFast
	SpawnReport   = core.SpawnReport
)

// Errors
var (
	ErrNotFound              = core.ErrNotFound
	ErrSpawnFailed           = core.ErrSpawnFailed
	ErrRegistryInconsistency = core.ErrRegistryInconsistency
	ErrNoTasks               = core.ErrNoTasks
	ErrSchedulerClosed       = core.ErrSchedulerClosed
)

// DefaultSchedulerConfig returns a config with default handlers
var DefaultSchedulerConfig = core.DefaultSchedulerConfig
