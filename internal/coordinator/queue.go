package coordinator

import (
	"container/list"
	"sync"
	"time"

	"github.com/planpath/planpath/internal/task"
)

// item is one durable-write job. Items are processed in enqueue order; an
// item waiting out a retry delay is skipped without blocking those behind it.
type item struct {
	seq       uint64
	projectID string
	reference string // caller-supplied reference, kept for tracing
	taskID    string
	patch     task.Patch
	opts      Options
	attempts  int
	notBefore time.Time
}

// updateQueue is a FIFO of update items with per-item retry deferral.
// Dequeue of the head is O(1); a deferred head is skipped in order.
type updateQueue struct {
	mu    sync.Mutex
	items *list.List
	seq   uint64
}

func newUpdateQueue() *updateQueue {
	return &updateQueue{items: list.New()}
}

func (q *updateQueue) push(it *item) {
	q.mu.Lock()
	q.seq++
	it.seq = q.seq
	q.items.PushBack(it)
	q.mu.Unlock()
}

// requeue re-inserts a retried item at its original enqueue position so FIFO
// order is preserved across retries.
func (q *updateQueue) requeue(it *item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.items.Front(); e != nil; e = e.Next() {
		if e.Value.(*item).seq > it.seq {
			q.items.InsertBefore(it, e)
			return
		}
	}
	q.items.PushBack(it)
}

// pop removes and returns the earliest item whose retry time has passed.
// When nothing is due it returns the wait until the next deferred item, or
// zero when the queue is empty.
func (q *updateQueue) pop(now time.Time) (*item, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var wait time.Duration
	for e := q.items.Front(); e != nil; e = e.Next() {
		it := e.Value.(*item)
		if !it.notBefore.After(now) {
			q.items.Remove(e)
			return it, 0
		}
		if d := it.notBefore.Sub(now); wait == 0 || d < wait {
			wait = d
		}
	}
	return nil, wait
}

func (q *updateQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
