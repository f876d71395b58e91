// Package kvsroot implements the root manager: the per-namespace ready
// queue and publication pipeline that turns committed transactions into
// the next (ref, seq) pair and broadcasts it as a setroot event.
//
//	Commit/Fence → root's ready queue → merge_ready_transactions →
//	kvstxn.Process (load-missing-refs / stage-dirty loop) → setroot
//	published, transactions finalized → error published on failure,
//	with a merged transaction falling back to its original components
//	when the failure isn't one every component would hit identically.
//
// Every rank processes the transactions committed to it locally; only
// rank 0 publishes the resulting setroot/error events. A rank can also
// take root updates from another rank's events through ApplySetroot and
// ApplyError. Namespace removal, heartbeat aging, and periodic
// checkpointing all operate per-root through the same Manager.
package kvsroot
