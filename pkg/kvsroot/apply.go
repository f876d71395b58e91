package kvsroot

import (
	"time"

	"github.com/nskv/kvsd/pkg/events"
	"github.com/nskv/kvsd/pkg/kvstxn"
	"github.com/nskv/kvsd/pkg/treeobj"
)

// drainRootLocked processes root's ready queue to exhaustion, merging
// consecutive compatible transactions, loading missing refs and flushing
// dirty cache entries through the content store, and publishing setroot
// or error events as each (possibly merged) transaction finishes. Caller
// holds m.mu.
func (m *Manager) drainRootLocked(root *Root) {
	for {
		if root.processing == nil {
			if len(root.ready) == 0 {
				return
			}
			n, combined := kvstxn.MergeReady(root.ready, m.algo, root.Ref)
			root.processing = combined
			root.mergedN = n
		}

		txn := root.processing
		status := txn.Process(m.epoch)

		switch status {
		case kvstxn.StatusLoadMissingRefs:
			if err := m.loadMissingRefs(txn); err != nil {
				m.finishError(root, txn, err)
				continue
			}
			continue

		case kvstxn.StatusDirtyCacheEntries:
			if err := m.flushDirty(txn); err != nil {
				m.finishError(root, txn, err)
				continue
			}
			txn.MarkStaged()
			continue

		case kvstxn.StatusFinished:
			m.finishSuccess(root, txn)
			continue

		case kvstxn.StatusError:
			m.finishError(root, txn, txn.Err())
			continue
		}
	}
}

// loadMissingRefs loads every ref txn reported missing from the content
// store into the cache as a decoded Treeobj. The first load or decode
// failure is returned directly (and every entry it touched is also
// marked failed via SetErrnumOnValid, for any other waiter on the same
// ref) rather than left to stall forever on an entry that will never
// become valid.
func (m *Manager) loadMissingRefs(txn *kvstxn.Txn) error {
	var firstErr error
	for _, ref := range txn.MissingRefs() {
		data, err := m.store.LoadBlob(ref)
		entry := m.cache.Insert(ref)
		if err != nil {
			m.cache.SetErrnumOnValid(entry, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		obj, err := treeobj.Decode(data)
		if err != nil {
			m.cache.SetErrnumOnValid(entry, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		_ = m.cache.SetTreeobj(entry, obj)
	}
	return firstErr
}

// flushDirty stores every dirty entry txn staged into the content store
// and clears its dirty bit.
func (m *Manager) flushDirty(txn *kvstxn.Txn) error {
	for _, ref := range txn.DirtyCacheEntries() {
		entry, ok := m.cache.Lookup(ref, m.epoch)
		if !ok {
			continue
		}
		var data []byte
		var err error
		if obj := entry.Treeobj(); obj != nil {
			data, err = treeobj.Encode(obj)
		} else {
			data = entry.Raw()
		}
		if err != nil {
			return err
		}
		if _, err := m.store.StoreBlob(data); err != nil {
			m.cache.SetErrnumOnNotDirty(entry, err)
			return err
		}
		m.cache.SetDirty(entry, false)
	}
	return nil
}

func (m *Manager) finishSuccess(root *Root, txn *kvstxn.Txn) {
	root.Ref = txn.NewRootRef()
	root.Seq++
	root.LastUpdateTime = time.Now()

	names := kvstxn.ComponentNames(txn.Name)
	if m.rank == 0 && txn.Flags&kvstxn.FlagNoPublish == 0 {
		m.bus.PublishSetroot(events.Setroot{
			Namespace: root.Name,
			RootSeq:   root.Seq,
			RootRef:   root.Ref,
			Names:     names,
			Owner:     root.Owner,
		})
	}
	root.waitVersions.Advance(root.Seq, root.Ref)
	for _, name := range names {
		if ch, ok := root.transactionsByName[name]; ok {
			ch <- nil
			delete(root.transactionsByName, name)
		}
	}

	m.popProcessed(root)
}

func (m *Manager) finishError(root *Root, txn *kvstxn.Txn, err error) {
	if kvstxn.ShouldFallback(txn, err) {
		txn.MarkFellBack()
		var restored []*kvstxn.Txn
		for _, c := range txn.Components() {
			c.Flags |= kvstxn.FlagNoMerge
			restored = append(restored, c)
		}
		root.ready = append(restored, root.ready[root.mergedN:]...)
		root.processing = nil
		root.mergedN = 0
		return
	}

	names := kvstxn.ComponentNames(txn.Name)
	if m.rank == 0 {
		m.bus.PublishError(events.Error{Namespace: root.Name, Names: names, Errnum: err})
	}
	for _, name := range names {
		if ch, ok := root.transactionsByName[name]; ok {
			ch <- err
			delete(root.transactionsByName, name)
		}
	}
	m.popProcessed(root)
}

func (m *Manager) popProcessed(root *Root) {
	root.ready = root.ready[root.mergedN:]
	root.processing = nil
	root.mergedN = 0
}
