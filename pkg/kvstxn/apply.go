package kvstxn

import (
	"fmt"
	"strings"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/config"
	"github.com/nskv/kvsd/pkg/kvserr"
	"github.com/nskv/kvsd/pkg/treeobj"
)

// Threshold returns the val→valref promotion threshold in bytes, falling
// back to the engine default when unset.
func (t *Txn) Threshold() int {
	if t.threshold > 0 {
		return t.threshold
	}
	return config.DefaultValrefThreshold
}

// SetThreshold overrides the val→valref promotion threshold.
func (t *Txn) SetThreshold(n int) { t.threshold = n }

func splitKey(key string) []string {
	var components []string
	for _, p := range strings.Split(key, ".") {
		if p != "" {
			components = append(components, p)
		}
	}
	return components
}

// errStall is a sentinel carrying the ref a nested cowPut needs loaded
// before it can proceed; applyOp turns it back into a stall status.
type errStall struct{ ref blobref.Ref }

func (e errStall) Error() string { return fmt.Sprintf("stalled on %s", e.ref) }

// applyOp applies one op to root via copy-on-write, returning the rewritten
// root. stalled is true when a nested dirref needed loading; the caller
// retries the whole op (root is untouched in that case, so retrying is
// idempotent). err is a real failure (EISDIR, ENOTDIR, EINVAL, ...).
func (t *Txn) applyOp(epoch uint64, root *treeobj.Treeobj, op Op) (newRoot *treeobj.Treeobj, stalled bool, err error) {
	components := splitKey(op.Key)
	if len(components) == 0 {
		return nil, false, fmt.Errorf("%w: write to root key", kvserr.ErrInval)
	}

	leafFn := func(existing *treeobj.Treeobj) (*treeobj.Treeobj, error) {
		return t.applyLeaf(existing, op)
	}

	result, err := t.cowPut(epoch, root, components, leafFn)
	if err != nil {
		if st, ok := err.(errStall); ok {
			t.cache.Insert(st.ref)
			t.missingRefs = append(t.missingRefs, st.ref)
			return nil, true, nil
		}
		return nil, false, err
	}
	return result, false, nil
}

// cowPut walks down components, copying every directory it passes through,
// and calls leafFn on the existing dirent (nil if absent) at the final
// component. Intermediate directories are created on demand; an
// intermediate dirref is resolved via the cache (stalling on a miss) and
// an intermediate non-directory dirent is ENOTDIR.
func (t *Txn) cowPut(epoch uint64, dir *treeobj.Treeobj, components []string, leafFn func(*treeobj.Treeobj) (*treeobj.Treeobj, error)) (*treeobj.Treeobj, error) {
	name := components[0]
	rest := components[1:]

	if len(rest) == 0 {
		newChild, err := leafFn(dir.Entries[name])
		if err != nil {
			return nil, err
		}
		return withEntry(dir, name, newChild), nil
	}

	child, ok := dir.Entries[name]
	var childDir *treeobj.Treeobj
	switch {
	case !ok:
		childDir = treeobj.NewDir(nil)
	case child.IsDir():
		childDir = child
	case child.IsDirref():
		ref := child.Blobrefs[0]
		entry, found := t.cache.Lookup(ref, epoch)
		if !found || !entry.Valid() {
			return nil, errStall{ref}
		}
		obj := entry.Treeobj()
		if obj == nil || !obj.IsDir() {
			return nil, fmt.Errorf("%w: dirref %s does not name a dir", kvserr.ErrNotRecoverable, ref)
		}
		childDir = obj
	default:
		return nil, fmt.Errorf("%w: %q is not a directory", kvserr.ErrNotDir, name)
	}

	newChildDir, err := t.cowPut(epoch, childDir, rest, leafFn)
	if err != nil {
		return nil, err
	}
	return withEntry(dir, name, newChildDir), nil
}

// withEntry returns a shallow copy of dir with name bound to child (or
// removed, if child is nil).
func withEntry(dir *treeobj.Treeobj, name string, child *treeobj.Treeobj) *treeobj.Treeobj {
	entries := make(map[string]*treeobj.Treeobj, len(dir.Entries)+1)
	for k, v := range dir.Entries {
		entries[k] = v
	}
	if child == nil {
		delete(entries, name)
	} else {
		entries[name] = child
	}
	return treeobj.NewDir(entries)
}

// applyLeaf computes the new dirent for op given the dirent currently
// named by its key (nil if absent).
func (t *Txn) applyLeaf(existing *treeobj.Treeobj, op Op) (*treeobj.Treeobj, error) {
	if op.Flags&OpAppend != 0 {
		return t.applyAppend(existing, op)
	}
	if op.Dirent == nil {
		return nil, nil // delete; no-op if already absent
	}
	if op.Dirent.IsVal() {
		return t.maybePromote(op.Dirent.Data), nil
	}
	return treeobj.DeepCopy(op.Dirent), nil
}

func (t *Txn) applyAppend(existing *treeobj.Treeobj, op Op) (*treeobj.Treeobj, error) {
	var appendData []byte
	if op.Dirent != nil && op.Dirent.IsVal() {
		appendData = op.Dirent.Data
	}

	switch {
	case existing == nil:
		return t.maybePromote(appendData), nil

	case existing.IsVal():
		oldRef := t.stageRaw(existing.Data)
		newRef := t.stageRaw(appendData)
		return treeobj.NewValref(oldRef, newRef), nil

	case existing.IsValref():
		newRef := t.stageRaw(appendData)
		return treeobj.NewValref(append(append([]blobref.Ref(nil), existing.Blobrefs...), newRef)...), nil

	case existing.IsDir():
		return nil, fmt.Errorf("%w: append to a directory", kvserr.ErrIsDir)

	case existing.IsSymlink():
		return nil, fmt.Errorf("%w: append to a symlink", kvserr.ErrNotSup)

	default:
		return nil, fmt.Errorf("%w: append to dirent of kind %q", kvserr.ErrNotRecoverable, existing.Kind)
	}
}

// maybePromote returns a val, or a valref pointing at one staged raw blob
// if data exceeds the transaction's threshold.
func (t *Txn) maybePromote(data []byte) *treeobj.Treeobj {
	if len(data) <= t.Threshold() {
		return treeobj.NewVal(data)
	}
	ref := t.stageRaw(data)
	return treeobj.NewValref(ref)
}

// stageRaw hashes data, inserts it into the cache as a dirty raw entry,
// and records it for flushing.
func (t *Txn) stageRaw(data []byte) blobref.Ref {
	ref, err := blobref.Hash(t.algo, data)
	if err != nil {
		// algo was validated at engine construction time.
		panic(fmt.Sprintf("kvstxn: hash failed for validated algo %q: %v", t.algo, err))
	}
	t.stageDirty(ref, nil, data)
	return ref
}
