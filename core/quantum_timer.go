package core

import (
	"sync"
	"time"
)

// QuantumTimer is the scheduler's single preemption alarm.
//
// Every Reset starts a new generation and cancels the previous arming. The
// fire callback receives the generation it was armed with, so a fire that
// raced with a Reset or Stop can be recognized as stale and dropped.
type QuantumTimer struct {
	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	armed      bool
	fire       func(generation uint64)
}

// NewQuantumTimer creates a stopped timer. fire runs on a timer goroutine.
func NewQuantumTimer(fire func(generation uint64)) *QuantumTimer {
	return &QuantumTimer{fire: fire}
}

// Reset cancels any pending fire and arms the timer for d.
// It returns the generation of the new arming.
func (t *QuantumTimer) Reset(d time.Duration) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.generation++
	t.armed = true

	gen := t.generation
	// time.AfterFunc spawns a new goroutine when the timer fires,
	// the callback injects the expiry back into the event loop
	t.timer = time.AfterFunc(d, func() {
		t.fire(gen)
	})
	return gen
}

// Stop disarms the timer. A fire already in flight becomes stale.
func (t *QuantumTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.generation++
	t.armed = false
}

// IsCurrent reports whether gen belongs to the live arming.
func (t *QuantumTimer) IsCurrent(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed && gen == t.generation
}

// Current returns the generation of the live arming and whether the timer is armed.
func (t *QuantumTimer) Current() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation, t.armed
}
