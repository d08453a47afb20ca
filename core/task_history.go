package core

import (
	"sync"
	"time"
)

const defaultDispatchHistoryCapacity = 100

// DispatchReason says why a task became the head.
type DispatchReason string

const (
	DispatchStart    DispatchReason = "start"
	DispatchRotate   DispatchReason = "rotate"
	DispatchHeadExit DispatchReason = "head-exit"
)

// DispatchRecord captures one transition of a task to RUNNING.
type DispatchRecord struct {
	TaskID       TaskID
	PID          int
	Name         string
	Reason       DispatchReason
	DispatchedAt time.Time
}

// dispatchHistory is a fixed-size ring of the most recent dispatches.
type dispatchHistory struct {
	mu    sync.Mutex
	items []DispatchRecord
	head  int
	count int
}

func newDispatchHistory(capacity int) *dispatchHistory {
	if capacity < 1 {
		capacity = defaultDispatchHistoryCapacity
	}
	return &dispatchHistory{items: make([]DispatchRecord, capacity)}
}

func (h *dispatchHistory) Add(record DispatchRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, oldest first.
func (h *dispatchHistory) Recent(limit int) []DispatchRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]DispatchRecord, 0, limit)
	for i := limit - 1; i >= 0; i-- {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}
