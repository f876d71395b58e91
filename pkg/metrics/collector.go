package metrics

import (
	"time"

	"github.com/nskv/kvsd/pkg/kvsroot"
)

// Collector periodically samples the root manager's cache and namespace
// state into the package's gauges, including the cache's cumulative
// hit/miss/expired counts. Commit, lookup and checkpoint counters and
// histograms are updated at their call sites instead.
type Collector struct {
	mgr    *kvsroot.Manager
	stopCh chan struct{}
}

// NewCollector creates a collector sampling mgr's state.
func NewCollector(mgr *kvsroot.Manager) *Collector {
	return &Collector{
		mgr:    mgr,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic collection on its own goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts periodic collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectCacheMetrics()
	c.collectNamespaceMetrics()
}

func (c *Collector) collectCacheMetrics() {
	stats := c.mgr.CacheStats()
	CacheSize.Set(float64(stats.Size))
	CacheHits.Set(float64(stats.Hits))
	CacheMisses.Set(float64(stats.Misses))
	CacheExpired.Set(float64(stats.Expired))
}

func (c *Collector) collectNamespaceMetrics() {
	nsStats := c.mgr.NamespaceStats()
	NamespacesTotal.Set(float64(len(nsStats)))
	for _, ns := range nsStats {
		NamespaceRootSeq.WithLabelValues(ns.Namespace).Set(float64(ns.RootSeq))
		NamespaceReadyTransactions.WithLabelValues(ns.Namespace).Set(float64(ns.ReadyTransactions))
		NamespaceVersionWaiters.WithLabelValues(ns.Namespace).Set(float64(ns.VersionWaiters))
	}
}
