package core

import "time"

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	RunID           string
	Tasks           int
	HeadID          TaskID
	HeadPID         int
	HeadName        string
	HasHead         bool
	Dispatches      int64
	Preemptions     int64
	Exits           int64
	Inconsistencies int64
	Running         bool
	Finished        bool
	LastDispatchAt  time.Time
}
