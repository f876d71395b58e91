/*
Package metrics provides Prometheus metrics collection and exposition for
kvsd, plus the /health and /ready HTTP handlers.

Metric categories mirror the cache and per-namespace counters flux-core's
kvs.stats-get reports, expressed as Prometheus gauges/counters/histograms
instead of a stats RPC reply:

  - Cache: entry count, cumulative hits/misses/expirations.
  - Namespace: rootseq, ready-transaction count, version-waiter count.
  - Transaction engine: commit outcome counts, commit/lookup latency,
    merge-fallback count.
  - Content store: checkpoint latency/count, stored blob size
    distribution.

Collector samples the cache and namespace gauges on a timer. Commit
counts, commit and lookup latency, and checkpoint latency/count are
updated directly at their call sites in pkg/engine as operations
complete. The merge-fallback counter and the blob-size histogram are
registered but no code path updates them, so they stay at zero.
*/
package metrics
