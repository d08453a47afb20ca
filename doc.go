// Package procsched is a preemptive round-robin scheduler for OS processes.
//
// A single CPU slot is shared among child processes ("tasks"). The task at
// the head of the ring runs; when its quantum expires it is sent SIGSTOP,
// and once the stop is observed the ring rotates and the next task receives
// SIGCONT. Exits are reaped through SIGCHLD and remove the task. A
// controller task can list, kill and launch tasks over a binary request
// channel.
//
// # Quick Start
//
// The scheduler binary re-executes itself as a stub for every new task, so
// the stub hook must run first in main:
//
//	func main() {
//		proc.MaybeRunStub()
//
//		rt, err := procsched.New(procsched.Options{TaskDir: "./bin"})
//		if err != nil {
//			log.Fatal(err)
//		}
//		rt.AddTask(ctx, "spin")
//		rt.AddController(ctx, "procsh")
//		if err := rt.Run(ctx); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// # Key Concepts
//
// Scheduler (package core): the state machine. Child notifications, quantum
// expiries and control requests are events handled one at a time on a
// single event loop, which owns the task registry.
//
// Launcher (package proc): starts each task paused. The child stops itself
// before exec and the launcher waits for that stop, so a task never runs
// before its first dispatch.
//
// Control channel (package control): 68-byte requests answered by one int32
// status, compatible with controllers written against the C layout.
//
// # Thread Safety
//
// Scheduler methods are safe for concurrent use; each request is posted to
// the event loop and awaited. The registry itself is only touched by the
// loop goroutine.
package procsched
