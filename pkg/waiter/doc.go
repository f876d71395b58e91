// Package waiter implements the resumable-callback framework that cache
// entries and namespace roots use to stall and later resume requests:
// plain FIFO queues for cache readiness (wait_valid/wait_notdirty), and a
// seq-ordered priority queue for wait-version waiters.
package waiter
