package kvstxn

import (
	"fmt"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/cache"
	"github.com/nskv/kvsd/pkg/kvserr"
	"github.com/nskv/kvsd/pkg/treeobj"
)

// Status is the outcome of one Process call.
type Status int

const (
	StatusError Status = iota + 1
	StatusLoadMissingRefs
	StatusDirtyCacheEntries
	StatusFinished
)

func errPermOp(key string) error {
	return fmt.Errorf("%w: op on %q requires owner role", kvserr.ErrPerm, key)
}

type procState int

const (
	stStart procState = iota
	stWalking
	stStaged
	stFinished
)

// Txn is one transaction: a named, ordered list of ops applied by
// copy-on-write against a namespace's current root. Create with New, feed
// it to Process repeatedly until it reports StatusFinished or StatusError.
type Txn struct {
	Name      string
	Namespace string
	Ops       []Op
	Flags     TxnFlag
	Nprocs    int // fence: participants required before this txn is ready

	cache     *cache.Cache
	algo      string
	threshold int

	baseRootRef blobref.Ref
	workingRoot *treeobj.Treeobj

	state   procState
	applied []bool

	dirtyRefs   []blobref.Ref
	dirtyStaged map[blobref.Ref]bool

	missingRefs []blobref.Ref
	newRootRef  blobref.Ref

	fellBack   bool
	components []*Txn
	err        error
}

// New creates a transaction against baseRootRef, ready for its first
// Process call.
func New(name, namespace string, ops []Op, flags TxnFlag, c *cache.Cache, algo string, baseRootRef blobref.Ref) *Txn {
	return &Txn{
		Name:        name,
		Namespace:   namespace,
		Ops:         ops,
		Flags:       flags,
		cache:       c,
		algo:        algo,
		baseRootRef: baseRootRef,
		applied:     make([]bool, len(ops)),
		dirtyStaged: make(map[blobref.Ref]bool),
		state:       stStart,
	}
}

// MissingRefs returns the blobrefs Process reported missing.
func (t *Txn) MissingRefs() []blobref.Ref { return t.missingRefs }

// DirtyCacheEntries returns the blobrefs of every new/changed cache entry
// this transaction staged, in the order they were created.
func (t *Txn) DirtyCacheEntries() []blobref.Ref { return t.dirtyRefs }

// NewRootRef returns the rewritten root once Process has returned
// StatusFinished.
func (t *Txn) NewRootRef() blobref.Ref { return t.newRootRef }

// Err returns the error once Process has returned StatusError.
func (t *Txn) Err() error { return t.err }

// FellBack reports whether this (merged) transaction was unmerged by the
// apply loop after a non-ENOMEM, non-ENOTSUP error.
func (t *Txn) FellBack() bool { return t.fellBack }

// MarkFellBack flags the transaction as having been unmerged; its
// original component transactions are reinserted with FlagNoMerge forced
// on by the caller.
func (t *Txn) MarkFellBack() { t.fellBack = true }

// FallbackMergeable reports whether this transaction is a merge of more
// than one original submission and therefore eligible to be split apart
// on error.
func (t *Txn) FallbackMergeable() bool {
	return len(t.components) > 1
}

// Process advances the transaction's state machine by one round. The
// caller is responsible for acting on non-terminal statuses: load
// MissingRefs into the cache and call Process again; flush
// DirtyCacheEntries to the content store, mark them not-dirty, and call
// Process again.
func (t *Txn) Process(epoch uint64) Status {
	switch t.state {
	case stStart:
		root, ok := t.loadRoot(epoch)
		if !ok {
			return StatusLoadMissingRefs
		}
		t.workingRoot = root
		t.state = stWalking
		fallthrough

	case stWalking:
		t.missingRefs = nil
		for i, op := range t.Ops {
			if t.applied[i] {
				continue
			}
			newRoot, stalled, err := t.applyOp(epoch, t.workingRoot, op)
			if err != nil {
				t.err = err
				return StatusError
			}
			if stalled {
				return StatusLoadMissingRefs
			}
			t.workingRoot = newRoot
			t.applied[i] = true
		}
		t.stageRoot()
		t.state = stStaged
		if len(t.pendingStage()) > 0 {
			return StatusDirtyCacheEntries
		}
		fallthrough

	case stStaged:
		if len(t.pendingStage()) > 0 {
			return StatusDirtyCacheEntries
		}
		ref, err := blobref.Hash(t.algo, encodeOrPanic(t.workingRoot))
		if err != nil {
			t.err = err
			return StatusError
		}
		t.newRootRef = ref
		t.state = stFinished
		return StatusFinished

	default: // stFinished
		return StatusFinished
	}
}

// MarkStaged tells the transaction that every ref in DirtyCacheEntries has
// now been flushed to the content store and marked not-dirty in the
// cache. The next Process call proceeds to FINISHED.
func (t *Txn) MarkStaged() {
	for _, ref := range t.dirtyRefs {
		t.dirtyStaged[ref] = true
	}
}

func (t *Txn) pendingStage() []blobref.Ref {
	var pending []blobref.Ref
	for _, ref := range t.dirtyRefs {
		if !t.dirtyStaged[ref] {
			pending = append(pending, ref)
		}
	}
	return pending
}

func (t *Txn) loadRoot(epoch uint64) (*treeobj.Treeobj, bool) {
	entry, ok := t.cache.Lookup(t.baseRootRef, epoch)
	if !ok || !entry.Valid() {
		t.cache.Insert(t.baseRootRef)
		t.missingRefs = []blobref.Ref{t.baseRootRef}
		return nil, false
	}
	return treeobj.DeepCopy(entry.Treeobj()), true
}

func (t *Txn) stageRoot() {
	ref, err := blobref.Hash(t.algo, encodeOrPanic(t.workingRoot))
	if err != nil {
		return
	}
	t.stageDirty(ref, t.workingRoot, nil)
}

// stageDirty inserts a newly produced object (a rewritten dir, or a raw
// blob from a val/append promotion) into the cache as a dirty entry, and
// records its ref so the apply loop can flush it.
func (t *Txn) stageDirty(ref blobref.Ref, obj *treeobj.Treeobj, raw []byte) {
	entry := t.cache.Insert(ref)
	if obj != nil {
		_ = t.cache.SetTreeobj(entry, obj)
	} else {
		t.cache.SetRaw(entry, raw)
	}
	t.cache.SetDirty(entry, true)
	if !t.dirtyStaged[ref] {
		t.dirtyRefs = append(t.dirtyRefs, ref)
	}
}

func encodeOrPanic(obj *treeobj.Treeobj) []byte {
	data, err := treeobj.Encode(obj)
	if err != nil {
		// obj was built entirely by this package from already-validated
		// inputs; a shape that fails to encode indicates a bug here, not
		// bad input.
		panic(fmt.Sprintf("kvstxn: encode invariant violated: %v", err))
	}
	return data
}
