package ratelimit

import (
	"context"
	"sync/atomic"
)

// queueItem is one deferred task waiting for admission. Higher priority
// drains first; equal priorities drain in arrival order via seq.
type queueItem struct {
	priority  int
	seq       uint64
	task      Task
	ctx       context.Context
	done      chan error
	cancelled atomic.Bool
}

// cancel marks the item abandoned so the drain loop discards it instead of
// spending an admission slot on a caller that already left
func (qi *queueItem) cancel() {
	qi.cancelled.Store(true)
}

// deliver hands the task result back to the waiting caller. The done channel
// is buffered, so delivery never blocks even if the caller timed out between
// pop and execution.
func (qi *queueItem) deliver(err error) {
	qi.done <- err
}

// insertLocked places the item behind all entries of equal or higher
// priority, keeping the slice ordered for popLocked
func (st *state) insertLocked(item *queueItem) {
	pos := len(st.queue)

	for i, existing := range st.queue {
		if existing.priority < item.priority {
			pos = i

			break
		}
	}

	st.queue = append(st.queue, nil)
	copy(st.queue[pos+1:], st.queue[pos:])
	st.queue[pos] = item
}

// popLocked removes and returns the head of the queue. Callers must ensure
// the queue is non-empty.
func (st *state) popLocked() *queueItem {
	item := st.queue[0]
	st.queue[0] = nil
	st.queue = st.queue[1:]

	return item
}

// dropCancelledLocked compacts the queue, removing items whose callers gave
// up while waiting
func (st *state) dropCancelledLocked() {
	kept := st.queue[:0]

	for _, item := range st.queue {
		if item.cancelled.Load() {
			continue
		}

		kept = append(kept, item)
	}

	for i := len(kept); i < len(st.queue); i++ {
		st.queue[i] = nil
	}

	st.queue = kept
}
