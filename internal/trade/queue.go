package trade

import (
	"sync"

	"github.com/roach88/tradeflow/internal/event"
)

// task is one unit of work for the ingestion loop: an event to ingest, an
// end-of-backlog mark, or a barrier used to wait for the queue to drain.
// Tasks carry the subscription epoch they were produced under; the loop drops
// tasks from an older epoch so events in flight across a restart never touch
// the fresh state.
type task struct {
	ev      *event.Event
	epoch   uint64
	backlog bool
	barrier chan struct{}
}

// taskQueue is a thread-safe FIFO queue for ingestion tasks.
//
// The queue is unbounded: orphan adoption re-enqueues children mid-drain and
// must never block the single consumer. A buffered signal channel of size one
// coalesces wakeups so the consumer can wait with context awareness.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []task
	closed bool
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a task to the back of the queue.
// Safe from any goroutine. Returns false if the queue is closed.
func (q *taskQueue) Enqueue(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.tasks = append(q.tasks, t)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *taskQueue) TryDequeue() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return task{}, false
	}

	t := q.tasks[0]

	// Nil the slot so the backing array does not retain the event.
	q.tasks[0] = task{}

	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}

	return t, true
}

// Wait returns the wakeup channel. The channel closes when the queue closes,
// which makes any pending wait fire immediately.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close marks the queue closed and wakes all waiters.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
