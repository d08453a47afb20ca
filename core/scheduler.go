package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
)

// collectTimeout bounds how long a failed or cancelled run waits to reap the
// tasks it killed.
const collectTimeout = 2 * time.Second

// newRunID returns the identifier of one scheduler run. Tests may stub it.
var newRunID = func() string { return uuid.New().String() }

// Dependencies are the OS boundaries a Scheduler drives.
type Dependencies struct {
	Launcher Launcher
	Signaler ProcessSignaler
	Reaper   Reaper
	Notifier ChildNotifier
}

func (d Dependencies) validate() error {
	switch {
	case d.Launcher == nil:
		return errors.New("scheduler: nil Launcher")
	case d.Signaler == nil:
		return errors.New("scheduler: nil Signaler")
	case d.Reaper == nil:
		return errors.New("scheduler: nil Reaper")
	case d.Notifier == nil:
		return errors.New("scheduler: nil Notifier")
	}
	return nil
}

// Scheduler multiplexes one CPU slot among task processes in strict round robin.
//
// The head of the registry is the only RUNNING task. When the quantum expires
// the head is sent SIGSTOP; the ring rotates only once the stop is observed,
// so a task that exits in the meantime is never rotated. Exits remove the task
// and, for the head, dispatch its successor. When the last task is removed the
// scheduler finishes and Run returns nil.
//
// All registry access happens on one EventLoop goroutine: child
// notifications, timer fires and control requests are events drained in
// order, so none of them can interleave with another.
type Scheduler struct {
	cfg      *SchedulerConfig
	logger   Logger
	metrics  Metrics
	launcher Launcher
	signaler ProcessSignaler
	reaper   Reaper

	loop    *EventLoop
	bridge  *SignalBridge
	timer   *QuantumTimer
	history *dispatchHistory

	// Owned by the loop (or by the caller before Run).
	registry *TaskRegistry
	nextID   TaskID
	finished bool

	runMu   sync.Mutex
	running bool
	aborted bool

	finishOnce sync.Once
	result     error

	runID   string
	statsMu sync.Mutex
	stats   SchedulerStats
}

// NewScheduler creates a scheduler. cfg may be nil.
func NewScheduler(deps Dependencies, cfg *SchedulerConfig) (*Scheduler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	s := &Scheduler{
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		launcher: deps.Launcher,
		signaler: deps.Signaler,
		reaper:   deps.Reaper,
		history:  newDispatchHistory(cfg.HistoryCapacity),
		registry: NewTaskRegistry(),
		runID:    newRunID(),
	}
	s.loop = NewEventLoop("scheduler", cfg.EventBuffer, s.handleEvent, cfg.PanicHandler)
	s.bridge = NewSignalBridge(deps.Notifier, s.loop)
	s.timer = NewQuantumTimer(func(gen uint64) {
		s.loop.Post(Event{Kind: EventQuantumExpired, Generation: gen})
	})
	s.stats.RunID = s.runID
	return s, nil
}

// RunID returns the unique identifier of this scheduler instance.
func (s *Scheduler) RunID() string {
	return s.runID
}

// Spawn launches and registers a task before Run. It is meant for the initial
// task population and is not safe for concurrent use. Any failure is
// returned as is; callers treat initial spawn failures as fatal.
// The returned channel is non-nil for controller tasks.
func (s *Scheduler) Spawn(ctx context.Context, spec LaunchSpec) (Task, io.ReadWriteCloser, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return Task{}, nil, errors.New("scheduler: Spawn called after Run, use ExecTask")
	}
	t, ch, err := s.launch(ctx, spec)
	if err != nil {
		return Task{}, nil, err
	}
	return *t, ch, nil
}

// Abort kills and reaps every task spawned so far. It is meant for setup
// failures between Spawn and Run; a later Run returns ErrSchedulerClosed.
// Once Run has started, cancel its context instead.
func (s *Scheduler) Abort() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return errors.New("scheduler: Abort called after Run, cancel the Run context")
	}
	s.running = true
	s.aborted = true
	s.finished = true

	s.logger.Warn("aborting before run", F("run_id", s.runID), F("tasks", s.registry.Len()))
	s.terminateAll()
	s.collect(collectTimeout)
	s.loop.Stop()

	s.statsMu.Lock()
	s.stats.Finished = true
	s.statsMu.Unlock()
	return nil
}

// Run dispatches the head, arms the quantum timer and handles events until the
// registry empties (returns nil), a fatal error occurs, or ctx is cancelled.
// On a fatal error or cancellation every remaining task is killed and reaped
// before Run returns; on cancellation the result is ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	s.runMu.Lock()
	if s.aborted {
		s.runMu.Unlock()
		return ErrSchedulerClosed
	}
	if s.running {
		s.runMu.Unlock()
		return errors.New("scheduler: Run called twice")
	}
	s.running = true
	empty := s.registry.IsEmpty()
	s.runMu.Unlock()

	if empty {
		return ErrNoTasks
	}

	s.logger.Info("scheduler starting",
		F("run_id", s.runID), F("tasks", s.registry.Len()), F("quantum", s.cfg.Quantum))

	s.loop.Start()
	s.bridge.Start(ctx)
	defer s.bridge.Stop()

	s.loop.Post(Event{Kind: EventControl, Run: func(context.Context) { s.start() }})

	select {
	case <-s.loop.Done():
	case <-ctx.Done():
		cause := ctx.Err()
		s.loop.Post(Event{Kind: EventControl, Run: func(context.Context) {
			s.finish(cause)
		}})
		<-s.loop.Done()
	}

	s.loop.Stop()
	s.timer.Stop()

	// The loop is gone; the registry now belongs to this goroutine.
	if s.result != nil {
		s.collect(collectTimeout)
	}

	s.statsMu.Lock()
	s.stats.Running = false
	s.stats.Finished = true
	s.statsMu.Unlock()

	return s.result
}

// Done is closed once the scheduler has finished.
func (s *Scheduler) Done() <-chan struct{} {
	return s.loop.Done()
}

// =============================================================================
// Control operations
// =============================================================================

// PrintTasks writes the ring, starting at the head, to the configured output.
func (s *Scheduler) PrintTasks(ctx context.Context) error {
	return s.submit(ctx, s.printTasks)
}

// KillTask sends SIGKILL to the task with the given scheduler id.
// The task is removed later, when its exit is observed.
func (s *Scheduler) KillTask(ctx context.Context, id TaskID) error {
	return s.submit(ctx, func() error { return s.killTask(id) })
}

// ExecTask launches name and registers it at the tail of the ring.
// The new task stays stopped until rotation makes it the head.
func (s *Scheduler) ExecTask(ctx context.Context, name string) error {
	return s.submit(ctx, func() error { return s.execTask(ctx, name) })
}

// Tasks returns a snapshot of the ring starting at the head.
func (s *Scheduler) Tasks(ctx context.Context) ([]Task, error) {
	var out []Task
	err := s.submit(ctx, func() error {
		out = s.registry.Snapshot()
		return nil
	})
	return out, err
}

// Stats returns a snapshot of the scheduler state.
func (s *Scheduler) Stats() SchedulerStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// RecentDispatches returns up to limit recent dispatches, oldest first.
func (s *Scheduler) RecentDispatches(limit int) []DispatchRecord {
	return s.history.Recent(limit)
}

// submit runs fn on the loop and waits for its result. A panic in fn is
// answered with an error and then handed on to the loop's PanicHandler.
func (s *Scheduler) submit(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	posted := s.loop.Post(Event{Kind: EventControl, Run: func(context.Context) {
		if s.finished {
			reply <- ErrSchedulerClosed
			return
		}
		defer func() {
			if r := recover(); r != nil {
				reply <- fmt.Errorf("scheduler: control request panicked: %v", r)
				panic(r)
			}
		}()
		reply <- fn()
	}})
	if !posted {
		return ErrSchedulerClosed
	}

	select {
	case err := <-reply:
		return err
	case <-s.loop.Done():
		select {
		case err := <-reply:
			return err
		default:
			return ErrSchedulerClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) printTasks() error {
	w := tabwriter.NewWriter(s.cfg.Output, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Tasks (%d):\n", s.registry.Len())
	fmt.Fprintln(w, "\tID\tPID\tNAME\tSTATE\t")
	s.registry.Each(func(t *Task) bool {
		marker := " "
		if t.State == TaskStateRunning {
			marker = "*"
		}
		name := t.Name
		if t.Controller {
			name += " (controller)"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t\n", marker, t.ID, t.PID, name, t.State)
		return true
	})
	return w.Flush()
}

func (s *Scheduler) killTask(id TaskID) error {
	t := s.registry.FindByID(id)
	if t == nil {
		s.logger.Warn("kill requested for unknown task", F("task_id", id))
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err := s.signaler.Kill(t.PID); err != nil {
		return fmt.Errorf("kill task %d: %w", id, err)
	}
	s.logger.Info("kill signal sent", t.fields()...)
	return nil
}

func (s *Scheduler) execTask(ctx context.Context, name string) error {
	_, _, err := s.launch(ctx, LaunchSpec{Name: name})
	if err == nil {
		return nil
	}

	var spawnErr *SpawnError
	if errors.As(err, &spawnErr) && s.cfg.SpawnPolicy == SpawnFailFast {
		s.logger.Error("spawn failed, stopping scheduler", F("name", name), F("error", err))
		s.finish(err)
		return err
	}
	s.logger.Warn("exec request failed", F("name", name), F("error", err))
	return err
}

// launch creates the process and registers it at the tail in CREATED state.
func (s *Scheduler) launch(ctx context.Context, spec LaunchSpec) (*Task, io.ReadWriteCloser, error) {
	if spec.Name == "" {
		return nil, nil, ErrInvalidTaskName
	}

	launched, err := s.launcher.Launch(ctx, spec)
	if err != nil {
		var spawnErr *SpawnError
		if !errors.As(err, &spawnErr) {
			err = &SpawnError{Name: spec.Name, Err: err}
		}
		return nil, nil, err
	}

	t := &Task{
		ID:         s.nextID,
		PID:        launched.PID,
		Name:       spec.Name,
		State:      TaskStateCreated,
		Controller: spec.Controller,
		CreatedAt:  time.Now(),
	}
	if err := s.registry.Enqueue(t); err != nil {
		_ = s.signaler.Kill(launched.PID)
		if launched.Channel != nil {
			_ = launched.Channel.Close()
		}
		return nil, nil, err
	}
	s.nextID++

	s.logger.Info("task created", t.fields()...)
	s.metrics.RecordRegistrySize(s.registry.Len())
	s.refreshStats()
	return t, launched.Channel, nil
}

// =============================================================================
// Event handling (loop goroutine only)
// =============================================================================

func (s *Scheduler) handleEvent(ctx context.Context, ev Event) {
	if s.finished {
		return
	}
	switch ev.Kind {
	case EventChildStateChanged:
		s.bridge.beginDrain()
		s.drainChildren()
	case EventQuantumExpired:
		s.onQuantumExpired(ev.Generation)
	default:
		s.logger.Warn("unexpected event", F("kind", ev.Kind))
	}
}

// start is the dispatch transition fired once after the initial population.
func (s *Scheduler) start() {
	s.statsMu.Lock()
	s.stats.Running = true
	s.statsMu.Unlock()

	s.logger.Info("dispatching the first task", s.registry.Head().fields()...)
	s.dispatch(DispatchStart)

	// Changes that happened before the notifier was installed produced no
	// notification; pick them up now.
	s.drainChildren()
}

func (s *Scheduler) onQuantumExpired(gen uint64) {
	if !s.timer.IsCurrent(gen) {
		s.logger.Debug("stale quantum expiry ignored", F("generation", gen))
		return
	}
	head := s.registry.Head()
	if head == nil {
		return
	}

	s.logger.Debug("quantum expired, stopping head", head.fields()...)
	if err := s.signaler.Stop(head.PID); err != nil {
		// The head is most likely exiting; its exit event will follow.
		s.logger.Warn("stop signal failed", withFields(head.fields(), F("error", err))...)
		return
	}
	s.metrics.RecordPreemption(head.Name)

	s.statsMu.Lock()
	s.stats.Preemptions++
	s.statsMu.Unlock()
}

// drainChildren handles every pending child state change.
func (s *Scheduler) drainChildren() {
	events, err := s.reaper.Reap()
	if err != nil {
		s.logger.Error("reaping children failed", F("error", err))
	}
	for i, ev := range events {
		if s.finished {
			// Exits already collected here would never be reported again.
			s.forgetExited(events[i:])
			return
		}
		if err := s.handleChildEvent(ev); err != nil {
			s.surface(err)
		}
	}
}

func (s *Scheduler) forgetExited(events []ChildEvent) {
	for _, ev := range events {
		if ev.Kind.Terminal() {
			_, _ = s.registry.RemoveByPID(ev.PID)
		}
	}
}

func (s *Scheduler) handleChildEvent(ev ChildEvent) error {
	head := s.registry.Head()
	if head != nil && head.PID == ev.PID {
		if ev.Kind == ChildStopped {
			return s.onHeadStopped(head)
		}
		return s.onHeadExited(head, ev)
	}

	if ev.Kind == ChildStopped {
		t := s.registry.FindByPID(ev.PID)
		if t == nil {
			return &InconsistencyError{PID: ev.PID, Kind: ev.Kind}
		}
		s.logger.Info("a task other than the head changed state", withFields(t.fields(), F("signal", ev.Signal))...)
		return nil
	}

	t, err := s.registry.RemoveByPID(ev.PID)
	if err != nil {
		return &InconsistencyError{PID: ev.PID, Kind: ev.Kind}
	}
	s.logger.Info("task other than the head terminated", withFields(t.fields(), exitFields(ev)...)...)
	s.recordExit(ev)

	if s.registry.IsEmpty() {
		s.logger.Info("task list is now empty")
		s.finish(nil)
	}
	return nil
}

func (s *Scheduler) onHeadStopped(head *Task) error {
	s.logger.Debug("head stopped", head.fields()...)
	head.State = TaskStateReady
	if _, err := s.registry.Rotate(); err != nil {
		return err
	}
	s.dispatch(DispatchRotate)
	return nil
}

func (s *Scheduler) onHeadExited(head *Task, ev ChildEvent) error {
	if _, err := s.registry.DequeueHead(); err != nil {
		return err
	}
	s.logger.Info("task terminated", withFields(head.fields(), exitFields(ev)...)...)
	s.recordExit(ev)

	if s.registry.IsEmpty() {
		s.logger.Info("task list is now empty")
		s.finish(nil)
		return nil
	}
	s.dispatch(DispatchHeadExit)
	return nil
}

// dispatch continues the head and starts a fresh quantum.
func (s *Scheduler) dispatch(reason DispatchReason) {
	head := s.registry.Head()
	if head == nil {
		return
	}

	head.State = TaskStateRunning
	head.Dispatches++
	if err := s.signaler.Continue(head.PID); err != nil {
		s.logger.Warn("continue signal failed", withFields(head.fields(), F("error", err))...)
	}
	s.timer.Reset(s.cfg.Quantum)

	now := time.Now()
	s.history.Add(DispatchRecord{
		TaskID:       head.ID,
		PID:          head.PID,
		Name:         head.Name,
		Reason:       reason,
		DispatchedAt: now,
	})
	s.logger.Debug("task dispatched", withFields(head.fields(), F("reason", reason))...)
	s.metrics.RecordDispatch(head.Name)

	s.statsMu.Lock()
	s.stats.Dispatches++
	s.stats.LastDispatchAt = now
	s.statsMu.Unlock()
	s.refreshStats()
}

func (s *Scheduler) recordExit(ev ChildEvent) {
	s.metrics.RecordTaskExit(ev.Kind.String())
	s.metrics.RecordRegistrySize(s.registry.Len())

	s.statsMu.Lock()
	s.stats.Exits++
	s.statsMu.Unlock()
	s.refreshStats()
}

// surface reports errors raised while handling child events.
func (s *Scheduler) surface(err error) {
	var inconsistency *InconsistencyError
	if errors.As(err, &inconsistency) {
		s.metrics.RecordInconsistency(inconsistency.Kind.String())
		s.statsMu.Lock()
		s.stats.Inconsistencies++
		s.statsMu.Unlock()
	}
	s.logger.Error("child event handling failed", F("error", err))

	if s.cfg.StrictConsistency {
		s.finish(err)
	}
}

func (s *Scheduler) terminateAll() {
	s.registry.Each(func(t *Task) bool {
		if err := s.signaler.Kill(t.PID); err != nil {
			s.logger.Warn("kill on shutdown failed", withFields(t.fields(), F("error", err))...)
			return true
		}
		_ = s.signaler.Continue(t.PID)
		return true
	})
}

// collect reaps the tasks left in the registry after terminateAll and
// removes them, giving up after timeout.
func (s *Scheduler) collect(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for !s.registry.IsEmpty() {
		events, err := s.reaper.Reap()
		if err != nil {
			s.logger.Error("reaping killed tasks failed", F("error", err))
			break
		}
		for _, ev := range events {
			if !ev.Kind.Terminal() {
				continue
			}
			if t, err := s.registry.RemoveByPID(ev.PID); err == nil {
				s.logger.Debug("killed task reaped", t.fields()...)
			}
		}
		if s.registry.IsEmpty() || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := s.registry.Len(); n > 0 {
		s.logger.Warn("killed tasks not reaped", F("tasks", n))
	}
	s.metrics.RecordRegistrySize(s.registry.Len())
	s.refreshStats()
}

// finish ends the scheduler exactly once with err as the outcome. A non-nil
// err kills every remaining task first.
func (s *Scheduler) finish(err error) {
	s.finishOnce.Do(func() {
		s.finished = true
		s.result = err
		s.timer.Stop()
		if err != nil {
			s.terminateAll()
			s.logger.Error("scheduler stopped", F("run_id", s.runID), F("error", err))
		} else {
			s.logger.Info("scheduler finished", F("run_id", s.runID))
		}
		s.loop.Shutdown()
	})
}

func (s *Scheduler) refreshStats() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.stats.Tasks = s.registry.Len()
	if head := s.registry.Head(); head != nil {
		s.stats.HasHead = true
		s.stats.HeadID = head.ID
		s.stats.HeadPID = head.PID
		s.stats.HeadName = head.Name
	} else {
		s.stats.HasHead = false
		s.stats.HeadID = 0
		s.stats.HeadPID = 0
		s.stats.HeadName = ""
	}
}

func exitFields(ev ChildEvent) []Field {
	if ev.Kind == ChildSignaled {
		return []Field{F("signal", ev.Signal)}
	}
	return []Field{F("exit_code", ev.ExitCode)}
}
