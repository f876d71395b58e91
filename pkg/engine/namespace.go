package engine

import (
	"fmt"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/config"
	"github.com/nskv/kvsd/pkg/events"
	"github.com/nskv/kvsd/pkg/kvserr"
	"github.com/nskv/kvsd/pkg/types"
)

// RootInfo is kvs.getroot's reply shape.
type RootInfo struct {
	Namespace string
	Owner     string
	RootRef   blobref.Ref
	RootSeq   uint64
	Flags     uint32
}

// GetRoot backs kvs.getroot.
func (e *Engine) GetRoot(namespace string) (RootInfo, error) {
	ref, seq, owner, ok := e.roots.ResolveNamespace(namespace)
	if !ok {
		return RootInfo{}, fmt.Errorf("%w: namespace %s", kvserr.ErrNoEnt, namespace)
	}
	return RootInfo{Namespace: namespace, Owner: owner, RootRef: ref, RootSeq: seq}, nil
}

// NamespaceCreate backs kvs.namespace-create: creates namespace rooted at
// the empty directory.
func (e *Engine) NamespaceCreate(namespace, owner string, flags uint32) error {
	ref, err := e.roots.EmptyDirRef()
	if err != nil {
		return err
	}
	return e.roots.NamespaceCreate(namespace, owner, flags, ref, e.cfg.Rank == 0)
}

// NamespaceRemove backs kvs.namespace-remove.
func (e *Engine) NamespaceRemove(namespace string) error {
	return e.roots.NamespaceRemove(namespace)
}

// NamespaceList backs kvs.namespace-list.
func (e *Engine) NamespaceList() []types.NamespaceInfo {
	return e.roots.NamespaceList()
}

// Disconnect backs kvs.disconnect by cancelling the version waiters tagged
// with client, across every namespace. Version waiters are registered
// without a client tag, so a non-nil client releases none of them and a
// nil client cancels every outstanding version waiter.
func (e *Engine) Disconnect(client any) {
	e.roots.Disconnect(client)
}

// DropCache backs kvs.dropcache: ack, expires everything not in-use.
func (e *Engine) DropCache() int {
	return e.roots.DropCache()
}

// SetrootPause backs kvs.setroot-pause, a test hook that suspends a
// follower's application of setroot events for namespace.
func (e *Engine) SetrootPause(namespace string) {
	e.roots.SetrootPause(namespace)
}

// SetrootUnpause backs kvs.setroot-unpause, draining namespace's buffered
// setroot events in arrival order.
func (e *Engine) SetrootUnpause(namespace string) {
	e.roots.SetrootUnpause(namespace)
}

// ApplySetroot and ApplyError let a host process feed this rank's root
// manager events received from an upstream rank's event stream, completing
// the follower half of the relay path kvs.relaycommit/kvs.relayfence start.
func (e *Engine) ApplySetroot(ev events.Setroot) { e.roots.ApplySetroot(ev) }
func (e *Engine) ApplyError(ev events.Error)     { e.roots.ApplyError(ev) }

// ConfigReload backs kvs.config-reload: currently only the checkpoint
// period and heartbeat interval are safe to change without a restart (they
// just reset a ticker); the hash algorithm and data directory are fixed for
// the life of the process since changing either would orphan everything
// already in the cache and content store. A period <= 0 stops periodic
// checkpointing; an engine started with checkpointing disabled keeps it
// disabled until restart.
func (e *Engine) ConfigReload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg.CheckpointPeriod = cfg.CheckpointPeriod
	e.cfg.HeartbeatInterval = cfg.HeartbeatInterval
	if e.cpTicker != nil {
		if cfg.CheckpointPeriod > 0 {
			e.cpTicker.Reset(cfg.CheckpointPeriod)
		} else {
			e.cpTicker.Stop()
		}
	}
	e.hbTicker.Reset(cfg.HeartbeatInterval)
	return nil
}
