// Package cache implements the engine's content cache: a reference-keyed
// store of tree-objects and raw blobs with valid/dirty readiness bits,
// wait-queues for stalled readers and writers, and epoch-based expiration.
//
// Recency order is tracked with hashicorp's golang-lru/v2, sized effectively
// unbounded; actual reclamation happens through Expire, which is the only
// path allowed to remove an entry without an explicit caller request,
// because only it knows to skip dirty entries and entries with waiters.
package cache
