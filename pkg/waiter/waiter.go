package waiter

import "sync"

// Waiter is a resumable unit attached to one or more Queues. It fires its
// resume callback exactly once, after every queue it was registered on has
// fired it — usecount tracks how many queues it is still outstanding on.
// The first non-nil error reported by any queue wins.
type Waiter struct {
	mu       sync.Mutex
	usecount int
	err      error
	resume   func(error)
	fired    bool
}

// New creates a Waiter that will call resume once it has been fired by n
// distinct queues (n is usually the number of missing refs or dirty
// entries it is blocked on).
func New(n int, resume func(error)) *Waiter {
	if n < 1 {
		n = 1
	}
	return &Waiter{usecount: n, resume: resume}
}

// fire decrements usecount and invokes resume when it reaches zero.
func (w *Waiter) fire(err error) {
	w.mu.Lock()
	if err != nil && w.err == nil {
		w.err = err
	}
	w.usecount--
	remaining := w.usecount
	already := w.fired
	if remaining <= 0 {
		w.fired = true
	}
	finalErr := w.err
	w.mu.Unlock()

	if remaining <= 0 && !already {
		w.resume(finalErr)
	}
}

// Queue is a FIFO list of waiters pending a single readiness condition
// (e.g. one cache entry's wait_valid list).
type Queue struct {
	mu      sync.Mutex
	waiters []*Waiter
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Add enqueues w. A waiter may be added to several queues at once if it is
// blocked on several conditions.
func (q *Queue) Add(w *Waiter) {
	q.mu.Lock()
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()
}

// Len reports the number of waiters currently enqueued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

// Empty reports whether the queue has no waiters.
func (q *Queue) Empty() bool { return q.Len() == 0 }

// FireAll invokes every enqueued waiter exactly once with err (nil on
// success) and empties the queue. Waiters still pending on other queues
// are not resumed until those queues also fire them.
func (q *Queue) FireAll(err error) {
	q.mu.Lock()
	ws := q.waiters
	q.waiters = nil
	q.mu.Unlock()

	for _, w := range ws {
		w.fire(err)
	}
}
