//go:build unix

package proc

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Swind/go-proc-scheduler/core"
)

// The test binary doubles as the re-exec stub.
func TestMain(m *testing.M) {
	MaybeRunStub()
	os.Exit(m.Run())
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath(defaultShell); err != nil {
		t.Skip("no /bin/sh available")
	}
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func newTestLauncher(t *testing.T, dir string, mode StubMode) *Launcher {
	t.Helper()
	l, err := NewLauncher(LauncherConfig{Dir: dir, Stub: mode, Logger: &core.NoOpLogger{}})
	require.NoError(t, err)
	return l
}

// reapUntil drains child events until one for pid matches kind.
func reapUntil(t *testing.T, pid int, kind core.ChildEventKind) core.ChildEvent {
	t.Helper()
	r := NewReaper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		events, err := r.Reap()
		require.NoError(t, err)
		for _, ev := range events {
			if ev.PID == pid && ev.Kind == kind {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s event for pid %d", kind, pid)
	return core.ChildEvent{}
}

func TestLauncher_LaunchesStopped(t *testing.T) {
	requireShell(t)

	for _, mode := range []StubMode{StubShell, StubReexec} {
		t.Run(mode.String(), func(t *testing.T) {
			dir := t.TempDir()
			writeScript(t, dir, "seven", "exit 7")
			l := newTestLauncher(t, dir, mode)

			launched, err := l.Launch(context.Background(), core.LaunchSpec{Name: "seven"})
			require.NoError(t, err)
			assert.Greater(t, launched.PID, 0)
			assert.Nil(t, launched.Channel)

			// Still paused: nothing to reap yet.
			events, err := NewReaper().Reap()
			require.NoError(t, err)
			assert.Empty(t, events)

			require.NoError(t, NewSignaler().Continue(launched.PID))
			ev := reapUntil(t, launched.PID, core.ChildExited)
			assert.Equal(t, 7, ev.ExitCode)
		})
	}
}

func TestLauncher_EmptyEnvironmentAndDir(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	writeScript(t, dir, "marker", "exit 0")
	writeScript(t, dir, "wrap", `[ -z "$HOME" ] || exit 2; [ -x ./marker ] || exit 3; [ $# -eq 0 ] || exit 4; exit 0`)
	l := newTestLauncher(t, dir, StubShell)

	launched, err := l.Launch(context.Background(), core.LaunchSpec{Name: "wrap"})
	require.NoError(t, err)

	require.NoError(t, NewSignaler().Continue(launched.PID))
	ev := reapUntil(t, launched.PID, core.ChildExited)
	assert.Equal(t, 0, ev.ExitCode)
}

func TestLauncher_ControllerChannel(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	writeScript(t, dir, "ctl", `printf '%s %s' "$1" "$2" >&3; read reply <&4; [ "$reply" = ok ] && exit 0; exit 1`)
	l := newTestLauncher(t, dir, StubShell)

	launched, err := l.Launch(context.Background(), core.LaunchSpec{Name: "ctl", Controller: true})
	require.NoError(t, err)
	require.NotNil(t, launched.Channel)
	defer launched.Channel.Close()

	require.NoError(t, NewSignaler().Continue(launched.PID))

	buf := make([]byte, len("00003 00004"))
	_, err = io.ReadFull(launched.Channel, buf)
	require.NoError(t, err)
	assert.Equal(t, "00003 00004", string(buf))

	_, err = launched.Channel.Write([]byte("ok\n"))
	require.NoError(t, err)

	ev := reapUntil(t, launched.PID, core.ChildExited)
	assert.Equal(t, 0, ev.ExitCode)
}

func TestLauncher_SpawnErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plain"), []byte("data"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	l := newTestLauncher(t, dir, StubShell)

	for _, name := range []string{"missing", "plain", "sub", ""} {
		_, err := l.Launch(context.Background(), core.LaunchSpec{Name: name})
		var spawnErr *core.SpawnError
		require.ErrorAs(t, err, &spawnErr, "name %q", name)
		assert.Equal(t, name, spawnErr.Name)
		assert.ErrorIs(t, err, core.ErrSpawnFailed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Launch(ctx, core.LaunchSpec{Name: "missing"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLauncher_StubExitsBeforeStop(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	writeScript(t, dir, "task", "exit 0")
	l, err := NewLauncher(LauncherConfig{
		Dir:    dir,
		Stub:   StubShell,
		Shell:  filepath.Join(dir, "task"),
		Logger: &core.NoOpLogger{},
	})
	require.NoError(t, err)

	_, err = l.Launch(context.Background(), core.LaunchSpec{Name: "task"})
	assert.ErrorIs(t, err, core.ErrSpawnFailed)
}

func TestNewLauncher_Validation(t *testing.T) {
	_, err := NewLauncher(LauncherConfig{Dir: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewLauncher(LauncherConfig{Dir: file})
	assert.Error(t, err)

	_, err = NewLauncher(LauncherConfig{Dir: t.TempDir(), Stub: StubMode(9)})
	assert.Error(t, err)
}

func TestParseStubMode(t *testing.T) {
	mode, err := ParseStubMode("shell")
	require.NoError(t, err)
	assert.Equal(t, StubShell, mode)

	mode, err = ParseStubMode("")
	require.NoError(t, err)
	assert.Equal(t, StubReexec, mode)

	_, err = ParseStubMode("fork")
	assert.Error(t, err)
}

func TestSignaler_StopContinueKill(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	writeScript(t, dir, "spinner", "while :; do :; done")
	l := newTestLauncher(t, dir, StubShell)
	s := NewSignaler()

	launched, err := l.Launch(context.Background(), core.LaunchSpec{Name: "spinner"})
	require.NoError(t, err)
	pid := launched.PID

	require.NoError(t, s.Continue(pid))
	require.NoError(t, s.Stop(pid))
	ev := reapUntil(t, pid, core.ChildStopped)
	assert.Equal(t, unix.SIGSTOP, ev.Signal)

	// SIGKILL reaches a stopped process.
	require.NoError(t, s.Kill(pid))
	ev = reapUntil(t, pid, core.ChildSignaled)
	assert.Equal(t, unix.SIGKILL, ev.Signal)

	err = s.Kill(pid)
	assert.True(t, errors.Is(err, unix.ESRCH), "kill after reap: %v", err)
	assert.Error(t, s.Stop(0))
	assert.Error(t, s.Continue(-1))
}

func TestReaper_NoChildren(t *testing.T) {
	events, err := NewReaper().Reap()
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSigchldNotifier(t *testing.T) {
	requireShell(t)

	n := NewSigchldNotifier()
	ch := n.Start()
	defer n.Stop()
	assert.Equal(t, ch, n.Start())

	dir := t.TempDir()
	writeScript(t, dir, "quick", "exit 0")
	l := newTestLauncher(t, dir, StubShell)
	launched, err := l.Launch(context.Background(), core.LaunchSpec{Name: "quick"})
	require.NoError(t, err)
	require.NoError(t, NewSignaler().Continue(launched.PID))

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no SIGCHLD notification")
	}
	reapUntil(t, launched.PID, core.ChildExited)
}
