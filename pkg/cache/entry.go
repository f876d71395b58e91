package cache

import (
	"sync"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/treeobj"
	"github.com/nskv/kvsd/pkg/waiter"
)

// Entry owns the raw bytes and/or parsed treeobj for one blobref. A freshly
// inserted placeholder entry has neither; Valid is false until content
// arrives.
type Entry struct {
	Ref blobref.Ref

	mu  sync.Mutex
	raw []byte
	obj *treeobj.Treeobj

	valid bool
	dirty bool

	lastUsedEpoch uint64

	waitValid    *waiter.Queue
	waitNotDirty *waiter.Queue
}

func newEntry(ref blobref.Ref) *Entry {
	return &Entry{
		Ref:          ref,
		waitValid:    waiter.NewQueue(),
		waitNotDirty: waiter.NewQueue(),
	}
}

// Valid reports whether the entry currently holds usable content.
func (e *Entry) Valid() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.valid
}

// Dirty reports whether the entry is mid-flush to the content store.
func (e *Entry) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// LastUsedEpoch returns the entry's most recent touch epoch.
func (e *Entry) LastUsedEpoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUsedEpoch
}

// Raw returns the entry's raw bytes, if any.
func (e *Entry) Raw() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.raw
}

// Treeobj returns the entry's parsed form, if any.
func (e *Entry) Treeobj() *treeobj.Treeobj {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.obj
}

// IsRaw reports whether the entry's content was stored as raw bytes
// (SetRaw) rather than a decoded Treeobj (SetTreeobj). Meaningless until
// Valid is true.
func (e *Entry) IsRaw() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.obj == nil
}

// HasWaiters reports whether any wait-queue on the entry is non-empty.
func (e *Entry) HasWaiters() bool {
	return !e.waitValid.Empty() || !e.waitNotDirty.Empty()
}

// WaitValid registers w to fire once the entry becomes valid (or errors).
// If the entry is already valid, w fires immediately.
func (e *Entry) WaitValid(w *waiter.Waiter) {
	e.mu.Lock()
	already := e.valid
	e.mu.Unlock()
	if already {
		e.waitValid.Add(w)
		e.waitValid.FireAll(nil)
		return
	}
	e.waitValid.Add(w)
}

// WaitNotDirty registers w to fire once the entry is no longer dirty.
func (e *Entry) WaitNotDirty(w *waiter.Waiter) {
	e.mu.Lock()
	already := !e.dirty
	e.mu.Unlock()
	if already {
		e.waitNotDirty.Add(w)
		e.waitNotDirty.FireAll(nil)
		return
	}
	e.waitNotDirty.Add(w)
}

func (e *Entry) touch(epoch uint64) {
	e.mu.Lock()
	if epoch > e.lastUsedEpoch {
		e.lastUsedEpoch = epoch
	}
	e.mu.Unlock()
}
