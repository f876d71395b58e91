package engine

import (
	"github.com/nskv/kvsd/pkg/cache"
	"github.com/nskv/kvsd/pkg/kvsroot"
)

// Stats is kvs.stats-get's reply shape: the cache's cumulative counters
// plus every namespace's live queue depth.
type Stats struct {
	Cache      cache.Stats
	Namespaces []kvsroot.NamespaceStats
}

// StatsGet backs kvs.stats-get.
func (e *Engine) StatsGet() Stats {
	return Stats{
		Cache:      e.roots.CacheStats(),
		Namespaces: e.roots.NamespaceStats(),
	}
}

// StatsClear backs kvs.stats-clear: resets the cumulative cache counters.
// Per-namespace figures are live gauges derived from current state and
// have nothing to reset.
func (e *Engine) StatsClear() {
	e.roots.ClearStats()
}
