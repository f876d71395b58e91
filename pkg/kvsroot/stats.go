package kvsroot

import "github.com/nskv/kvsd/pkg/cache"

// NamespaceStats is one namespace's contribution to kvs.stats-get: the
// same handful of counters flux's kvsroot stats callback reports, adapted
// to this package's ready-queue shape (a single merged Txn in flight
// instead of a separate kvstxn-manager transaction count).
type NamespaceStats struct {
	Namespace         string
	RootSeq           uint64
	ReadyTransactions int
	VersionWaiters    int
}

// NamespaceStats returns one entry per known namespace.
func (m *Manager) NamespaceStats() []NamespaceStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]NamespaceStats, 0, len(m.roots))
	for name, root := range m.roots {
		n := len(root.ready)
		if root.processing != nil {
			n++
		}
		out = append(out, NamespaceStats{
			Namespace:         name,
			RootSeq:           root.Seq,
			ReadyTransactions: n,
			VersionWaiters:    root.waitVersions.Len(),
		})
	}
	return out
}

// CacheStats returns the manager's shared cache's stats snapshot.
func (m *Manager) CacheStats() cache.Stats {
	return m.cache.Stats()
}

// ClearStats resets the cumulative cache counters. Per-namespace stats
// are always live gauges and have nothing to clear.
func (m *Manager) ClearStats() {
	m.cache.ClearStats()
}
