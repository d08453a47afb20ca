//go:build unix

package proc

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// StubArg is the hidden first argument that turns a scheduler binary into a
// task stub. Binaries that use the re-exec launcher must call MaybeRunStub
// before doing anything else in main.
const StubArg = "__procsched-stub"

// MaybeRunStub runs the stub and never returns when the process was started
// with StubArg. Otherwise it returns immediately.
func MaybeRunStub() {
	if len(os.Args) < 3 || os.Args[1] != StubArg {
		return
	}
	os.Exit(runStub(os.Args[2], os.Args[3:]))
}

// runStub stops the current process and, once continued, replaces it with
// path. It only returns on failure.
func runStub(path string, args []string) int {
	if err := unix.Kill(unix.Getpid(), unix.SIGSTOP); err != nil {
		fmt.Fprintf(os.Stderr, "procsched stub: stop self: %v\n", err)
		return 126
	}

	argv := append([]string{path}, args...)
	err := unix.Exec(path, argv, os.Environ())
	fmt.Fprintf(os.Stderr, "procsched stub: exec %s: %v\n", path, err)
	return 127
}
