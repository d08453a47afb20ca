package core

import (
	"errors"
	"testing"
)

func newTestTask(id int) *Task {
	return &Task{ID: TaskID(id), PID: 1000 + id, Name: "t"}
}

func ringIDs(r *TaskRegistry) []TaskID {
	var ids []TaskID
	r.Each(func(t *Task) bool {
		ids = append(ids, t.ID)
		return true
	})
	return ids
}

func assertRing(t *testing.T, r *TaskRegistry, want ...TaskID) {
	t.Helper()
	if err := r.checkInvariants(); err != nil {
		t.Fatalf("invariants broken: %v", err)
	}
	got := ringIDs(r)
	if len(got) != len(want) {
		t.Fatalf("ring = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ring = %v, want %v", got, want)
		}
	}
	if r.Len() != len(want) {
		t.Errorf("Len() = %d, want %d", r.Len(), len(want))
	}
}

func fillRegistry(t *testing.T, n int) *TaskRegistry {
	t.Helper()
	r := NewTaskRegistry()
	for i := 0; i < n; i++ {
		if err := r.Enqueue(newTestTask(i)); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	return r
}

// TestTaskRegistry_EnqueueOrder tests insertion at the tail
// Main test items:
// 1. The first task becomes head and tail
// 2. Later tasks are appended after the tail
// 3. The tail links back to the head
func TestTaskRegistry_EnqueueOrder(t *testing.T) {
	r := NewTaskRegistry()
	if !r.IsEmpty() || r.Head() != nil || r.Tail() != nil {
		t.Fatal("new registry should be empty")
	}

	if err := r.Enqueue(newTestTask(0)); err != nil {
		t.Fatalf("Enqueue error = %v", err)
	}
	if r.Head() != r.Tail() {
		t.Error("single task should be both head and tail")
	}
	assertRing(t, r, 0)

	_ = r.Enqueue(newTestTask(1))
	_ = r.Enqueue(newTestTask(2))
	assertRing(t, r, 0, 1, 2)

	if r.Head().ID != 0 || r.Tail().ID != 2 {
		t.Errorf("head=%d tail=%d, want 0 and 2", r.Head().ID, r.Tail().ID)
	}
}

// TestTaskRegistry_EnqueueRejectsDuplicates tests the uniqueness guards
func TestTaskRegistry_EnqueueRejectsDuplicates(t *testing.T) {
	r := fillRegistry(t, 2)

	err := r.Enqueue(&Task{ID: 1, PID: 5})
	if !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("duplicate id error = %v, want ErrDuplicateTask", err)
	}
	err = r.Enqueue(&Task{ID: 7, PID: 1000})
	if !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("duplicate pid error = %v, want ErrDuplicateTask", err)
	}
	if err := r.Enqueue(nil); err == nil {
		t.Error("Enqueue(nil) should fail")
	}
	assertRing(t, r, 0, 1)
}

// TestTaskRegistry_Rotate tests head promotion
// Main test items:
// 1. Rotate moves the head to the tail
// 2. Rotating a single task keeps it as head
// 3. Rotating an empty registry fails
func TestTaskRegistry_Rotate(t *testing.T) {
	r := fillRegistry(t, 3)

	next, err := r.Rotate()
	if err != nil {
		t.Fatalf("Rotate error = %v", err)
	}
	if next.ID != 1 {
		t.Errorf("promoted head = %d, want 1", next.ID)
	}
	assertRing(t, r, 1, 2, 0)

	_, _ = r.Rotate()
	_, _ = r.Rotate()
	assertRing(t, r, 0, 1, 2)

	single := fillRegistry(t, 1)
	head, err := single.Rotate()
	if err != nil || head.ID != 0 {
		t.Errorf("single Rotate = (%v, %v), want task 0", head, err)
	}
	assertRing(t, single, 0)

	if _, err := NewTaskRegistry().Rotate(); !errors.Is(err, ErrEmptyRegistry) {
		t.Errorf("empty Rotate error = %v, want ErrEmptyRegistry", err)
	}
}

// TestTaskRegistry_DequeueHead tests removal of the head
func TestTaskRegistry_DequeueHead(t *testing.T) {
	r := fillRegistry(t, 3)

	got, err := r.DequeueHead()
	if err != nil || got.ID != 0 {
		t.Fatalf("DequeueHead = (%v, %v), want task 0", got, err)
	}
	assertRing(t, r, 1, 2)

	_, _ = r.DequeueHead()
	_, _ = r.DequeueHead()
	assertRing(t, r)

	if _, err := r.DequeueHead(); !errors.Is(err, ErrEmptyRegistry) {
		t.Errorf("empty DequeueHead error = %v, want ErrEmptyRegistry", err)
	}
}

// TestTaskRegistry_RemovePositions tests removal from every position
// Main test items:
// 1. Removing the head promotes its successor
// 2. Removing the tail relinks the new tail to the head
// 3. Removing a middle task keeps order
// 4. Removing the only task empties the registry
func TestTaskRegistry_RemovePositions(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		remove TaskID
		want   []TaskID
	}{
		{name: "head", size: 3, remove: 0, want: []TaskID{1, 2}},
		{name: "middle", size: 3, remove: 1, want: []TaskID{0, 2}},
		{name: "tail", size: 3, remove: 2, want: []TaskID{0, 1}},
		{name: "only", size: 1, remove: 0, want: nil},
		{name: "tail of two", size: 2, remove: 1, want: []TaskID{0}},
	}

	for _, tt := range tests {
		t.Run("by id "+tt.name, func(t *testing.T) {
			r := fillRegistry(t, tt.size)
			got, err := r.RemoveByID(tt.remove)
			if err != nil || got.ID != tt.remove {
				t.Fatalf("RemoveByID = (%v, %v)", got, err)
			}
			assertRing(t, r, tt.want...)
		})
		t.Run("by pid "+tt.name, func(t *testing.T) {
			r := fillRegistry(t, tt.size)
			got, err := r.RemoveByPID(1000 + int(tt.remove))
			if err != nil || got.ID != tt.remove {
				t.Fatalf("RemoveByPID = (%v, %v)", got, err)
			}
			assertRing(t, r, tt.want...)
		})
	}
}

// TestTaskRegistry_RemoveAfterRotate tests that removal tracks the rotated head
func TestTaskRegistry_RemoveAfterRotate(t *testing.T) {
	r := fillRegistry(t, 4)
	_, _ = r.Rotate() // 1 2 3 0

	_, _ = r.RemoveByID(0) // the tail
	assertRing(t, r, 1, 2, 3)

	_, _ = r.RemoveByID(1) // the head
	assertRing(t, r, 2, 3)
	if r.Head().ID != 2 {
		t.Errorf("head = %d, want 2", r.Head().ID)
	}
}

// TestTaskRegistry_RemoveUnknown tests that misses leave the ring untouched
func TestTaskRegistry_RemoveUnknown(t *testing.T) {
	r := fillRegistry(t, 2)

	if _, err := r.RemoveByID(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoveByID(42) error = %v, want ErrNotFound", err)
	}
	if _, err := r.RemoveByPID(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoveByPID(42) error = %v, want ErrNotFound", err)
	}
	if r.FindByID(42) != nil || r.FindByPID(42) != nil {
		t.Error("Find of unknown task should return nil")
	}
	assertRing(t, r, 0, 1)
}

// TestTaskRegistry_SlotReuse tests that freed slots are recycled and lookups stay correct
func TestTaskRegistry_SlotReuse(t *testing.T) {
	r := fillRegistry(t, 3)
	slotsBefore := len(r.slots)

	_, _ = r.RemoveByID(1)
	_ = r.Enqueue(newTestTask(3))

	if len(r.slots) != slotsBefore {
		t.Errorf("slots = %d, want %d (freed slot should be reused)", len(r.slots), slotsBefore)
	}
	assertRing(t, r, 0, 2, 3)

	if got := r.FindByPID(1003); got == nil || got.ID != 3 {
		t.Errorf("FindByPID(1003) = %v, want task 3", got)
	}
	if got := r.FindByID(1); got != nil {
		t.Errorf("FindByID(1) = %v, want nil", got)
	}
}

// TestTaskRegistry_CompactWhenDrained tests that a large arena is released once empty
func TestTaskRegistry_CompactWhenDrained(t *testing.T) {
	r := fillRegistry(t, compactMinSlots+1)
	for !r.IsEmpty() {
		_, _ = r.DequeueHead()
	}
	if cap(r.slots) >= compactMinSlots {
		t.Errorf("cap(slots) = %d, want < %d after drain", cap(r.slots), compactMinSlots)
	}
	assertRing(t, r)

	_ = r.Enqueue(newTestTask(99))
	assertRing(t, r, 99)
}

// TestTaskRegistry_Snapshot tests that snapshots are copies in ring order
func TestTaskRegistry_Snapshot(t *testing.T) {
	r := fillRegistry(t, 3)
	_, _ = r.Rotate()

	snap := r.Snapshot()
	if len(snap) != 3 || snap[0].ID != 1 || snap[2].ID != 0 {
		t.Fatalf("Snapshot = %v", snap)
	}

	snap[0].Name = "changed"
	if r.Head().Name == "changed" {
		t.Error("Snapshot should not alias registry tasks")
	}
}

// TestTaskRegistry_MixedOperations drives a long sequence and checks invariants after every step
func TestTaskRegistry_MixedOperations(t *testing.T) {
	r := NewTaskRegistry()
	next := 0
	for step := 0; step < 500; step++ {
		switch step % 5 {
		case 0, 1:
			_ = r.Enqueue(newTestTask(next))
			next++
		case 2:
			_, _ = r.Rotate()
		case 3:
			if tail := r.Tail(); tail != nil {
				_, _ = r.RemoveByPID(tail.PID)
			}
		case 4:
			if step%10 == 4 {
				_, _ = r.DequeueHead()
			}
		}
		if err := r.checkInvariants(); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
	}
}
