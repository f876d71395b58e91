package kvsroot

import (
	"fmt"
	"sync"
	"time"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/cache"
	"github.com/nskv/kvsd/pkg/contentstore"
	"github.com/nskv/kvsd/pkg/events"
	"github.com/nskv/kvsd/pkg/kvserr"
	"github.com/nskv/kvsd/pkg/kvstxn"
	"github.com/nskv/kvsd/pkg/treeobj"
	"github.com/nskv/kvsd/pkg/types"
	"github.com/nskv/kvsd/pkg/waiter"
)

// MaxNamespaceAge bounds how long a follower keeps an idle namespace
// before beginning removal.
const MaxNamespaceAge = 3600 * time.Second

// Manager owns every namespace's Root and drives the ready-queue apply
// loop. Commit and Fence process transactions locally on every rank; the
// rank only decides whether setroot/error events are published (rank 0
// only) and whether idle roots age out in HeartbeatSweep (rank>0 only).
// Commits are not relayed to rank 0.
type Manager struct {
	mu sync.Mutex

	cache *cache.Cache
	store contentstore.Store
	bus   *events.Broker
	algo  string

	rank      uint32
	epoch     uint64
	threshold int

	roots map[string]*Root
	fences map[string]*fenceAccum
}

type fenceAccum struct {
	namespace string
	nprocs    int
	received  int
	flags     kvstxn.TxnFlag
	ops       []kvstxn.Op
}

// New creates a root manager. rank 0 publishes setroot/error events;
// rank>0 does not, and ages out idle namespaces.
func New(c *cache.Cache, store contentstore.Store, bus *events.Broker, algo string, rank uint32) *Manager {
	return &Manager{
		cache:  c,
		store:  store,
		bus:    bus,
		algo:   algo,
		rank:   rank,
		roots:  make(map[string]*Root),
		fences: make(map[string]*fenceAccum),
	}
}

// SetValrefThreshold overrides the val→valref promotion threshold every
// transaction this manager drives is constructed with. Zero defers to
// kvstxn's own default.
func (m *Manager) SetValrefThreshold(n int) {
	m.mu.Lock()
	m.threshold = n
	m.mu.Unlock()
}

// Epoch returns the manager's current heartbeat tick, for cache
// freshness comparisons in lookups issued against this manager's roots.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// EmptyDirRef returns the blobref of the canonical empty directory under
// algo, staging it into the cache and content store if not already
// present. This is the root a brand-new or checkpoint-less namespace
// starts from.
func (m *Manager) EmptyDirRef() (blobref.Ref, error) {
	obj := treeobj.NewDir(nil)
	ref, err := treeobj.Hash(m.algo, obj)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	entry := m.cache.Insert(ref)
	m.mu.Unlock()
	if !entry.Valid() {
		if err := m.cache.SetTreeobj(entry, obj); err != nil {
			return "", err
		}
		data, err := treeobj.Encode(obj)
		if err != nil {
			return "", err
		}
		if _, err := m.store.StoreBlob(data); err != nil {
			return "", err
		}
	}
	return ref, nil
}

// NamespaceCreate inserts a new namespace rooted at initialRef, seq 0.
// EEXIST if the name is already present, even if draining.
func (m *Manager) NamespaceCreate(name, owner string, flags uint32, initialRef blobref.Ref, isPrimary bool) error {
	m.mu.Lock()
	if _, exists := m.roots[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: namespace %s", kvserr.ErrExist, name)
	}
	root := newRoot(name, owner, flags, initialRef, isPrimary)
	m.roots[name] = root
	m.mu.Unlock()

	m.bus.PublishNamespaceCreated(events.NamespaceCreated{Namespace: name, Owner: owner, Flags: flags})
	if m.rank == 0 {
		m.bus.PublishSetroot(events.Setroot{
			Namespace: name,
			RootSeq:   0,
			RootRef:   initialRef,
			Owner:     owner,
		})
	}
	return nil
}

// Bootstrap restores namespace's root from the content store's checkpoint
// record, or initializes it at the empty directory if none exists, then
// creates it. Intended for the primary namespace at process startup.
func (m *Manager) Bootstrap(namespace, owner string, flags uint32) error {
	cp, found, err := m.store.CheckpointGet(namespace)
	if err != nil {
		return err
	}
	if found {
		return m.namespaceCreateAt(namespace, owner, flags, cp.RootRef, cp.RootSeq, true)
	}
	ref, err := m.EmptyDirRef()
	if err != nil {
		return err
	}
	return m.NamespaceCreate(namespace, owner, flags, ref, true)
}

// namespaceCreateAt is NamespaceCreate with an explicit starting seq, for
// restoring a checkpointed primary namespace rather than starting at 0.
func (m *Manager) namespaceCreateAt(name, owner string, flags uint32, ref blobref.Ref, seq uint64, isPrimary bool) error {
	m.mu.Lock()
	if _, exists := m.roots[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: namespace %s", kvserr.ErrExist, name)
	}
	root := newRoot(name, owner, flags, ref, isPrimary)
	root.Seq = seq
	m.roots[name] = root
	m.mu.Unlock()

	m.bus.PublishNamespaceCreated(events.NamespaceCreated{Namespace: name, Owner: owner, Flags: flags})
	return nil
}

// NamespaceRemove begins removing name; quiet (nil error) if absent.
func (m *Manager) NamespaceRemove(name string) error {
	m.mu.Lock()
	root, ok := m.roots[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	m.startRootRemove(root)
	m.mu.Unlock()

	m.bus.PublishNamespaceRemoved(events.NamespaceRemoved{Namespace: name})
	return nil
}

// startRootRemove flags root for removal, drops its queued work, and
// fires every waiter with ENOTSUP. Caller holds m.mu.
func (m *Manager) startRootRemove(root *Root) {
	root.Remove = true
	notsup := fmt.Errorf("%w: namespace %s is being removed", kvserr.ErrNotSup, root.Name)
	root.waitVersions.RemoveMatching(notsup, func(any) bool { return true })
	for _, txn := range root.ready {
		for _, c := range componentsOf(txn) {
			if ch, ok := root.transactionsByName[c.Name]; ok {
				ch <- notsup
			}
		}
	}
	root.ready = nil
}

func componentsOf(t *kvstxn.Txn) []*kvstxn.Txn {
	if cs := t.Components(); len(cs) > 0 {
		return cs
	}
	return []*kvstxn.Txn{t}
}

func (m *Manager) finalRemoveRoot(name string) {
	delete(m.roots, name)
}

// NamespaceList returns a summary of every namespace.
func (m *Manager) NamespaceList() []types.NamespaceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.NamespaceInfo, 0, len(m.roots))
	for _, root := range m.roots {
		out = append(out, types.NamespaceInfo{Namespace: root.Name, Owner: root.Owner, Flags: root.Flags})
	}
	return out
}

// ResolveNamespace implements lookup.RootResolver.
func (m *Manager) ResolveNamespace(namespace string) (ref blobref.Ref, seq uint64, owner string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, exists := m.roots[namespace]
	if !exists || root.Remove {
		return "", 0, "", false
	}
	return root.Ref, root.Seq, root.Owner, true
}

// Commit submits a named transaction against namespace's current root and
// drives the apply loop synchronously to completion, returning the
// caller's own result. A user-role cred is rejected with EPERM unless its
// ops are all val/empty-dir/null.
func (m *Manager) Commit(namespace, name string, ops []kvstxn.Op, flags kvstxn.TxnFlag, cred types.Cred) error {
	if !cred.IsOwner() {
		if err := kvstxn.ValidateUserOps(ops); err != nil {
			return err
		}
	}

	m.mu.Lock()
	root, ok := m.roots[namespace]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: namespace %s", kvserr.ErrNoEnt, namespace)
	}
	if root.Remove {
		m.mu.Unlock()
		return fmt.Errorf("%w: namespace %s is being removed", kvserr.ErrNotSup, namespace)
	}

	result := make(chan error, 1)
	root.transactionsByName[name] = result
	txn := kvstxn.New(name, namespace, ops, flags, m.cache, m.algo, root.Ref)
	txn.SetThreshold(m.threshold)
	root.ready = append(root.ready, txn)
	m.drainRootLocked(root)
	m.mu.Unlock()

	return <-result
}

// Fence accumulates one participant's ops under name until nprocs have
// arrived, then enqueues a single combined transaction. Mismatched nprocs
// or flags across participants is EINVAL.
func (m *Manager) Fence(namespace, name string, nprocs int, ops []kvstxn.Op, flags kvstxn.TxnFlag, cred types.Cred) error {
	if !cred.IsOwner() {
		if err := kvstxn.ValidateUserOps(ops); err != nil {
			return err
		}
	}

	m.mu.Lock()
	acc, ok := m.fences[name]
	if !ok {
		acc = &fenceAccum{namespace: namespace, nprocs: nprocs, flags: flags}
		m.fences[name] = acc
	} else if acc.nprocs != nprocs || acc.flags != flags || acc.namespace != namespace {
		m.mu.Unlock()
		return fmt.Errorf("%w: fence %q participant mismatch", kvserr.ErrInval, name)
	}
	acc.ops = append(acc.ops, ops...)
	acc.received++

	if acc.received < acc.nprocs {
		m.mu.Unlock()
		return nil
	}
	delete(m.fences, name)

	root, exists := m.roots[namespace]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: namespace %s", kvserr.ErrNoEnt, namespace)
	}
	result := make(chan error, 1)
	root.transactionsByName[name] = result
	txn := kvstxn.New(name, namespace, acc.ops, acc.flags, m.cache, m.algo, root.Ref)
	txn.SetThreshold(m.threshold)
	root.ready = append(root.ready, txn)
	m.drainRootLocked(root)
	m.mu.Unlock()

	return <-result
}

// WaitVersion reports (ref, seq) immediately if namespace has already
// reached targetSeq; otherwise it registers resume to fire from the next
// qualifying setroot.
func (m *Manager) WaitVersion(namespace string, targetSeq uint64, resume waiter.VersionResume) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, ok := m.roots[namespace]
	if !ok {
		resume("", 0, fmt.Errorf("%w: namespace %s", kvserr.ErrNoEnt, namespace))
		return
	}
	if root.Seq >= targetSeq {
		resume(root.Ref, root.Seq, nil)
		return
	}
	root.waitVersions.Add(targetSeq, nil, resume)
}

// Disconnect cancels, with ENOTSUP, every version-waiter whose tag equals
// client, across every root. WaitVersion registers every waiter with a nil
// tag, so a non-nil client matches no waiter and a nil client matches all
// of them. Per-client cache-entry waiter removal is not supported: cache
// waiters are resolved by the next fill of the same ref regardless of who
// is waiting, so a disconnected client's entry in that queue is inert
// rather than leaked.
func (m *Manager) Disconnect(client any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	disconnected := fmt.Errorf("%w: client disconnected", kvserr.ErrNotSup)
	for _, root := range m.roots {
		root.waitVersions.RemoveMatching(disconnected, func(tag any) bool { return tag == client })
	}
}

// SetrootPause suspends a follower's setroot application; events are
// buffered in arrival order until Unpause.
func (m *Manager) SetrootPause(namespace string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if root, ok := m.roots[namespace]; ok {
		root.SetrootPaused = true
	}
}

// SetrootUnpause drains namespace's buffered setroot events in FIFO order.
func (m *Manager) SetrootUnpause(namespace string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, ok := m.roots[namespace]
	if !ok {
		return
	}
	root.SetrootPaused = false
	queued := root.setrootQueue
	root.setrootQueue = nil
	for _, ev := range queued {
		m.applySetrootLocked(root, ev)
	}
}

// ApplySetroot applies a setroot event received from the authoritative
// rank. Used by rank>0 instances; rank 0 never calls this for its own
// commits (it applies state directly in drainRootLocked).
func (m *Manager) ApplySetroot(ev events.Setroot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, ok := m.roots[ev.Namespace]
	if !ok {
		return
	}
	if root.SetrootPaused {
		root.setrootQueue = append(root.setrootQueue, ev)
		return
	}
	m.applySetrootLocked(root, ev)
}

func (m *Manager) applySetrootLocked(root *Root, ev events.Setroot) {
	root.Ref = ev.RootRef
	root.Seq = ev.RootSeq
	root.LastUpdateTime = time.Now()
	root.waitVersions.Advance(ev.RootSeq, ev.RootRef)
	for _, name := range ev.Names {
		if ch, ok := root.transactionsByName[name]; ok {
			ch <- nil
			delete(root.transactionsByName, name)
		}
	}
}

// ApplyError applies an error event: finalizes the named transactions
// with errnum.
func (m *Manager) ApplyError(ev events.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, ok := m.roots[ev.Namespace]
	if !ok {
		return
	}
	for _, name := range ev.Names {
		if ch, ok := root.transactionsByName[name]; ok {
			ch <- ev.Errnum
			delete(root.transactionsByName, name)
		}
	}
}

// Checkpoint persists namespace's current (ref, seq) to the content
// store's checkpoint record.
func (m *Manager) Checkpoint(namespace string) error {
	m.mu.Lock()
	root, ok := m.roots[namespace]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: namespace %s", kvserr.ErrNoEnt, namespace)
	}
	return m.store.CheckpointPut(namespace, contentstore.Checkpoint{
		RootRef:   root.Ref,
		RootSeq:   root.Seq,
		Timestamp: time.Now(),
	})
}

// HeartbeatSweep runs one periodic pass: removes fully-drained roots,
// begins removal of idle followers, touches live roots' cache recency,
// and expires stale cache entries.
func (m *Manager) HeartbeatSweep(maxLastUseAgeTicks uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.epoch++
	var toRemove []string
	for name, root := range m.roots {
		switch {
		case root.Remove && !root.HasLiveWork():
			toRemove = append(toRemove, name)
		case m.rank != 0 && !root.Remove && time.Since(root.LastUpdateTime) > MaxNamespaceAge:
			m.startRootRemove(root)
		default:
			if !root.Ref.Empty() {
				m.cache.Lookup(root.Ref, m.epoch)
			}
		}
	}
	for _, name := range toRemove {
		m.finalRemoveRoot(name)
	}
	m.cache.Expire(m.epoch, maxLastUseAgeTicks)
}

// DropCache backs kvs.dropcache: expires every cache entry not dirty or
// currently awaited, regardless of how recently it was touched.
func (m *Manager) DropCache() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Expire's cutoff is epoch-threshold; entries last used AT epoch survive
	// a threshold-0 call (e.g. everything HeartbeatSweep just touched this
	// tick). epoch+1 puts the cutoff strictly above any LastUsedEpoch,
	// dropping every eligible entry regardless of recency.
	return m.cache.Expire(m.epoch+1, 0)
}

// PrimaryNamespaces returns the names of every namespace this rank is
// authoritative for (rank 0's own roots, or any root created IsPrimary).
func (m *Manager) PrimaryNamespaces() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name, root := range m.roots {
		if root.IsPrimary && !root.Remove {
			out = append(out, name)
		}
	}
	return out
}
