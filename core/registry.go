package core

import (
	"errors"
	"fmt"
)

const (
	defaultRegistryCap = 16
	compactMinSlots    = 64 // Don't drop the arena if it is smaller than this
	noSlot             = -1
)

type slot struct {
	task *Task
	next int
	prev int
}

// TaskRegistry is the ordered ring of tracked tasks.
//
// Tasks live in a dense slice of slots linked by index; freed slots are
// recycled through a free list. The head is the task that is currently
// dispatched (or about to be) and the tail always links back to the head.
// Two auxiliary indexes map scheduler ids and pids to slots so lookups and
// removals do not scan the ring.
//
// TaskRegistry is not safe for concurrent use. The Scheduler owns it and
// only touches it from its event loop.
type TaskRegistry struct {
	slots []slot
	free  []int
	head  int
	tail  int
	size  int

	byID  map[TaskID]int
	byPID map[int]int
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		slots: make([]slot, 0, defaultRegistryCap),
		head:  noSlot,
		tail:  noSlot,
		byID:  make(map[TaskID]int),
		byPID: make(map[int]int),
	}
}

// Enqueue inserts t at the tail. On an empty registry t becomes both head and tail.
func (r *TaskRegistry) Enqueue(t *Task) error {
	if t == nil {
		return errors.New("enqueue nil task")
	}
	if _, ok := r.byID[t.ID]; ok {
		return fmt.Errorf("%w: id %d", ErrDuplicateTask, t.ID)
	}
	if _, ok := r.byPID[t.PID]; ok {
		return fmt.Errorf("%w: pid %d", ErrDuplicateTask, t.PID)
	}

	idx := r.alloc(t)
	if r.size == 0 {
		r.head, r.tail = idx, idx
		r.slots[idx].next = idx
		r.slots[idx].prev = idx
	} else {
		r.slots[idx].prev = r.tail
		r.slots[idx].next = r.head
		r.slots[r.tail].next = idx
		r.slots[r.head].prev = idx
		r.tail = idx
	}

	r.byID[t.ID] = idx
	r.byPID[t.PID] = idx
	r.size++
	return nil
}

// DequeueHead removes and returns the head. The successor becomes the new head.
func (r *TaskRegistry) DequeueHead() (*Task, error) {
	if r.size == 0 {
		return nil, ErrEmptyRegistry
	}
	return r.unlink(r.head), nil
}

// Rotate moves the head to the tail and returns the promoted head.
// It is the equivalent of DequeueHead followed by Enqueue of the same task.
func (r *TaskRegistry) Rotate() (*Task, error) {
	if r.size == 0 {
		return nil, ErrEmptyRegistry
	}
	r.tail = r.head
	r.head = r.slots[r.head].next
	return r.slots[r.head].task, nil
}

// RemoveByID removes the task with the given scheduler id.
func (r *TaskRegistry) RemoveByID(id TaskID) (*Task, error) {
	idx, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return r.unlink(idx), nil
}

// RemoveByPID removes the task with the given process id.
func (r *TaskRegistry) RemoveByPID(pid int) (*Task, error) {
	idx, ok := r.byPID[pid]
	if !ok {
		return nil, fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}
	return r.unlink(idx), nil
}

// FindByID returns the task with the given scheduler id, or nil.
func (r *TaskRegistry) FindByID(id TaskID) *Task {
	if idx, ok := r.byID[id]; ok {
		return r.slots[idx].task
	}
	return nil
}

// FindByPID returns the task with the given process id, or nil.
func (r *TaskRegistry) FindByPID(pid int) *Task {
	if idx, ok := r.byPID[pid]; ok {
		return r.slots[idx].task
	}
	return nil
}

// Head returns the current head, or nil when empty.
func (r *TaskRegistry) Head() *Task {
	if r.size == 0 {
		return nil
	}
	return r.slots[r.head].task
}

// Tail returns the current tail, or nil when empty.
func (r *TaskRegistry) Tail() *Task {
	if r.size == 0 {
		return nil
	}
	return r.slots[r.tail].task
}

func (r *TaskRegistry) Len() int {
	return r.size
}

func (r *TaskRegistry) IsEmpty() bool {
	return r.size == 0
}

// Each visits the tasks in ring order starting at the head until fn returns false.
func (r *TaskRegistry) Each(fn func(t *Task) bool) {
	idx := r.head
	for i := 0; i < r.size; i++ {
		if !fn(r.slots[idx].task) {
			return
		}
		idx = r.slots[idx].next
	}
}

// Snapshot returns copies of the tasks in ring order starting at the head.
func (r *TaskRegistry) Snapshot() []Task {
	out := make([]Task, 0, r.size)
	r.Each(func(t *Task) bool {
		out = append(out, *t)
		return true
	})
	return out
}

func (r *TaskRegistry) alloc(t *Task) int {
	if n := len(r.free); n > 0 {
		idx := r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[idx] = slot{task: t}
		return idx
	}
	r.slots = append(r.slots, slot{task: t})
	return len(r.slots) - 1
}

// unlink removes the slot at idx from the ring and fixes head/tail.
func (r *TaskRegistry) unlink(idx int) *Task {
	s := r.slots[idx]

	if r.size == 1 {
		r.head, r.tail = noSlot, noSlot
	} else {
		r.slots[s.prev].next = s.next
		r.slots[s.next].prev = s.prev
		if idx == r.head {
			r.head = s.next
		}
		if idx == r.tail {
			r.tail = s.prev
		}
	}

	delete(r.byID, s.task.ID)
	delete(r.byPID, s.task.PID)
	r.slots[idx] = slot{next: noSlot, prev: noSlot}
	r.free = append(r.free, idx)
	r.size--

	if r.size == 0 {
		r.maybeCompact()
	}
	return s.task
}

// maybeCompact releases a large arena once the registry drains.
func (r *TaskRegistry) maybeCompact() {
	if cap(r.slots) < compactMinSlots {
		return
	}
	r.slots = make([]slot, 0, defaultRegistryCap)
	r.free = nil
}

// checkInvariants walks the ring and verifies that links, size and indexes agree.
func (r *TaskRegistry) checkInvariants() error {
	if r.size == 0 {
		if r.head != noSlot || r.tail != noSlot {
			return fmt.Errorf("empty registry has head=%d tail=%d", r.head, r.tail)
		}
		if len(r.byID) != 0 || len(r.byPID) != 0 {
			return fmt.Errorf("empty registry has %d ids and %d pids indexed", len(r.byID), len(r.byPID))
		}
		return nil
	}

	if r.slots[r.tail].next != r.head {
		return fmt.Errorf("tail %d does not link to head %d", r.tail, r.head)
	}
	if r.slots[r.head].prev != r.tail {
		return fmt.Errorf("head %d does not link back to tail %d", r.head, r.tail)
	}

	seen := 0
	idx := r.head
	for {
		s := r.slots[idx]
		if s.task == nil {
			return fmt.Errorf("slot %d reachable but empty", idx)
		}
		if r.slots[s.next].prev != idx {
			return fmt.Errorf("slot %d next=%d does not link back", idx, s.next)
		}
		if r.byID[s.task.ID] != idx || r.byPID[s.task.PID] != idx {
			return fmt.Errorf("slot %d not indexed for task %v", idx, s.task)
		}
		seen++
		if seen > r.size {
			return fmt.Errorf("ring longer than size %d", r.size)
		}
		if idx == r.tail {
			break
		}
		idx = s.next
	}

	if seen != r.size {
		return fmt.Errorf("reachable=%d, size=%d", seen, r.size)
	}
	if len(r.byID) != r.size || len(r.byPID) != r.size {
		return fmt.Errorf("indexes hold %d ids and %d pids, size=%d", len(r.byID), len(r.byPID), r.size)
	}
	return nil
}
