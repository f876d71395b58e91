// Package events provides the engine's in-memory pub/sub broker: a
// non-blocking fan-out of the four KVS topics (setroot, error,
// namespace-created, namespace-removed) to any number of subscribers.
//
// Unlike a general cluster event bus, every event here carries a typed
// payload instead of a free-form metadata map: setroot and error events
// in particular are consumed by the root manager's own follower-update
// and transaction-finalization logic, not just by observers, so their
// shape is load-bearing rather than advisory.
//
// Publishing blocks only while the broker's 100-event intake buffer is
// full (and returns at once after Stop); fan-out to subscribers never
// blocks, dropping the event for any subscriber whose buffer is full.
// Delivery is best-effort: this is a notification path, not a commit log.
package events
