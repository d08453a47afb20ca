//go:build unix

package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/Swind/go-proc-scheduler/core"
)

// StubMode selects how a new task pauses itself before its program starts.
type StubMode int

const (
	// StubReexec starts the scheduler binary again with StubArg.
	StubReexec StubMode = iota

	// StubShell starts /bin/sh with a stop-then-exec script.
	StubShell
)

func (m StubMode) String() string {
	if m == StubShell {
		return "shell"
	}
	return "reexec"
}

// ParseStubMode maps a config value to a StubMode.
func ParseStubMode(s string) (StubMode, error) {
	switch s {
	case "", "reexec":
		return StubReexec, nil
	case "shell":
		return StubShell, nil
	default:
		return 0, fmt.Errorf("unknown stub mode %q", s)
	}
}

const (
	defaultShell = "/bin/sh"

	// $0 is the task path, "$@" its arguments.
	shellStubScript = `kill -STOP $$; exec "$0" "$@"`

	// Descriptors a controller finds its channel ends on.
	controllerRequestFD = 3
	controllerReturnFD  = 4
)

// LauncherConfig configures a Launcher.
type LauncherConfig struct {
	// Dir is the directory task names are resolved against.
	Dir string

	// Stub selects the self-pause strategy.
	Stub StubMode

	// Executable is the binary used by StubReexec. Defaults to os.Executable().
	Executable string

	// Shell is the shell used by StubShell. Defaults to /bin/sh.
	Shell string

	// Stdin, Stdout and Stderr are handed to every task. Default to the scheduler's own.
	Stdin, Stdout, Stderr *os.File

	Logger core.Logger
}

// Launcher creates task processes that are stopped when Launch returns.
//
// The child runs a stub that stops itself before exec, and Launch waits for
// that stop with wait4(pid, WUNTRACED). Launch must not run concurrently
// with a Reaper: the scheduler calls both from its event loop.
type Launcher struct {
	cfg LauncherConfig
}

// NewLauncher validates cfg and returns a Launcher.
func NewLauncher(cfg LauncherConfig) (*Launcher, error) {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve task dir: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("task dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("task dir %s is not a directory", dir)
	}
	cfg.Dir = dir

	switch cfg.Stub {
	case StubReexec:
		if cfg.Executable == "" {
			self, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("locate scheduler binary: %w", err)
			}
			cfg.Executable = self
		}
	case StubShell:
		if cfg.Shell == "" {
			cfg.Shell = defaultShell
		}
	default:
		return nil, fmt.Errorf("unknown stub mode %d", cfg.Stub)
	}

	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NewDefaultLogger()
	}
	return &Launcher{cfg: cfg}, nil
}

// Dir returns the absolute task directory.
func (l *Launcher) Dir() string {
	return l.cfg.Dir
}

// Launch starts ./<spec.Name> in the task directory with an empty environment.
// Controllers get two pipes on fds 3 and 4, announced as "00003" "00004".
func (l *Launcher) Launch(ctx context.Context, spec core.LaunchSpec) (core.Launched, error) {
	fail := func(err error) (core.Launched, error) {
		return core.Launched{}, &core.SpawnError{Name: spec.Name, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if spec.Name == "" {
		return fail(core.ErrInvalidTaskName)
	}
	if err := checkExecutable(filepath.Join(l.cfg.Dir, spec.Name)); err != nil {
		return fail(err)
	}

	files := []*os.File{l.cfg.Stdin, l.cfg.Stdout, l.cfg.Stderr}
	var taskArgs []string
	var channel *pipeChannel
	var childEnds []*os.File

	if spec.Controller {
		var err error
		channel, childEnds, err = newControllerPipes()
		if err != nil {
			return fail(err)
		}
		files = append(files, childEnds...)
		taskArgs = []string{
			fmt.Sprintf("%05d", controllerRequestFD),
			fmt.Sprintf("%05d", controllerReturnFD),
		}
	}

	argv := l.stubArgv("./"+spec.Name, taskArgs)
	p, err := os.StartProcess(argv[0], argv, &os.ProcAttr{
		Dir:   l.cfg.Dir,
		Env:   []string{},
		Files: files,
	})
	closeAll(childEnds)
	if err != nil {
		if channel != nil {
			_ = channel.Close()
		}
		return fail(fmt.Errorf("start process: %w", err))
	}
	pid := p.Pid
	// The scheduler reaps the child itself; os.Process must not wait on it.
	_ = p.Release()

	if err := awaitStop(pid); err != nil {
		_ = unix.Kill(pid, unix.SIGKILL)
		if channel != nil {
			_ = channel.Close()
		}
		return fail(err)
	}

	l.cfg.Logger.Debug("task process ready",
		core.F("name", spec.Name), core.F("pid", pid), core.F("stub", l.cfg.Stub))

	out := core.Launched{PID: pid}
	if channel != nil {
		out.Channel = channel
	}
	return out, nil
}

func (l *Launcher) stubArgv(target string, taskArgs []string) []string {
	var argv []string
	if l.cfg.Stub == StubShell {
		argv = []string{l.cfg.Shell, "-c", shellStubScript, target}
	} else {
		argv = []string{l.cfg.Executable, StubArg, target}
	}
	return append(argv, taskArgs...)
}

// awaitStop blocks until pid reports a stop. An exit first means the stub
// could not pause itself.
func awaitStop(pid int) error {
	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(pid, &ws, unix.WUNTRACED, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("wait for stub %d: %w", pid, err)
		}
		if wpid != pid {
			continue
		}

		switch {
		case ws.Stopped():
			return nil
		case ws.Exited():
			return fmt.Errorf("stub %d exited with status %d before stopping", pid, ws.ExitStatus())
		case ws.Signaled():
			return fmt.Errorf("stub %d killed by %s before stopping", pid, unix.SignalName(ws.Signal()))
		}
	}
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

// pipeChannel is the scheduler side of a controller's channel: requests are
// read from the controller's write end, responses go to its read end.
type pipeChannel struct {
	requests *os.File
	returns  *os.File
}

var _ io.ReadWriteCloser = (*pipeChannel)(nil)

// newControllerPipes returns the scheduler side and the two child ends in fd order.
func newControllerPipes() (*pipeChannel, []*os.File, error) {
	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("request pipe: %w", err)
	}
	retR, retW, err := os.Pipe()
	if err != nil {
		closeAll([]*os.File{reqR, reqW})
		return nil, nil, fmt.Errorf("return pipe: %w", err)
	}
	return &pipeChannel{requests: reqR, returns: retW}, []*os.File{reqW, retR}, nil
}

func (c *pipeChannel) Read(p []byte) (int, error) {
	return c.requests.Read(p)
}

func (c *pipeChannel) Write(p []byte) (int, error) {
	return c.returns.Write(p)
}

func (c *pipeChannel) Close() error {
	return errors.Join(c.requests.Close(), c.returns.Close())
}

func closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
