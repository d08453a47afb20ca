//go:build unix

package procsched

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Swind/go-proc-scheduler/control"
	"github.com/Swind/go-proc-scheduler/core"
	"github.com/Swind/go-proc-scheduler/proc"
)

// Options configures a Runtime.
type Options struct {
	// TaskDir is the directory task names are resolved against.
	TaskDir string

	// Stub selects how new tasks pause themselves before exec.
	// StubReexec requires the binary to call proc.MaybeRunStub first thing in main.
	Stub proc.StubMode

	// Executable overrides the binary used by proc.StubReexec.
	Executable string

	// Shell overrides the shell used by proc.StubShell.
	Shell string

	// Scheduler configures the scheduler. May be nil.
	Scheduler *core.SchedulerConfig
}

// Runtime is a Scheduler wired to real processes, plus the control servers
// of its controller tasks.
type Runtime struct {
	scheduler *core.Scheduler
	launcher  *proc.Launcher
	logger    core.Logger
	metrics   core.Metrics

	mu       sync.Mutex
	channels []io.Closer
	servers  sync.WaitGroup
}

// New creates a Runtime using the OS launcher, signaler, reaper and SIGCHLD notifier.
func New(opts Options) (*Runtime, error) {
	cfg := opts.Scheduler
	if cfg == nil {
		cfg = core.DefaultSchedulerConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &core.NilMetrics{}
	}

	launcher, err := proc.NewLauncher(proc.LauncherConfig{
		Dir:        opts.TaskDir,
		Stub:       opts.Stub,
		Executable: opts.Executable,
		Shell:      opts.Shell,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	scheduler, err := core.NewScheduler(core.Dependencies{
		Launcher: launcher,
		Signaler: proc.NewSignaler(),
		Reaper:   proc.NewReaper(),
		Notifier: proc.NewSigchldNotifier(),
	}, cfg)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		scheduler: scheduler,
		launcher:  launcher,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Scheduler returns the underlying scheduler.
func (r *Runtime) Scheduler() *core.Scheduler {
	return r.scheduler
}

// TaskDir returns the absolute task directory.
func (r *Runtime) TaskDir() string {
	return r.launcher.Dir()
}

// AddTask launches name as an initial task. Call before Run.
func (r *Runtime) AddTask(ctx context.Context, name string) (core.Task, error) {
	t, _, err := r.scheduler.Spawn(ctx, core.LaunchSpec{Name: name})
	return t, err
}

// AddController launches name as a controller task and serves its control
// channel once the scheduler runs. Call before Run.
func (r *Runtime) AddController(ctx context.Context, name string) (core.Task, error) {
	t, channel, err := r.scheduler.Spawn(ctx, core.LaunchSpec{Name: name, Controller: true})
	if err != nil {
		return core.Task{}, err
	}
	if channel == nil {
		return core.Task{}, fmt.Errorf("controller %s launched without a channel", name)
	}

	r.mu.Lock()
	r.channels = append(r.channels, channel)
	r.mu.Unlock()

	server := control.NewServer(r.scheduler, r.logger, r.metrics)
	r.servers.Add(1)
	go func() {
		defer r.servers.Done()
		err := server.Serve(context.Background(), channel)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Debug("control server stopped", core.F("task_id", t.ID), core.F("error", err))
		}
	}()
	return t, nil
}

// Run schedules until every task has exited, a fatal error occurs, or ctx
// is cancelled. Controller channels are closed before Run returns.
func (r *Runtime) Run(ctx context.Context) error {
	err := r.scheduler.Run(ctx)
	r.closeChannels()
	return err
}

// Abort kills every task added so far and stops the control servers. Use it
// when setup fails before Run; Run is unusable afterwards.
func (r *Runtime) Abort() error {
	err := r.scheduler.Abort()
	r.closeChannels()
	return err
}

func (r *Runtime) closeChannels() {
	r.mu.Lock()
	channels := r.channels
	r.channels = nil
	r.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	r.servers.Wait()
}
