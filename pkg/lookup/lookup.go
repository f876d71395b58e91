package lookup

import (
	"fmt"
	"strings"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/cache"
	"github.com/nskv/kvsd/pkg/kvserr"
	"github.com/nskv/kvsd/pkg/treeobj"
	"github.com/nskv/kvsd/pkg/types"
)

// SymlinkCycleLimit bounds the number of symlink hops a single lookup may
// follow before failing with ELOOP.
const SymlinkCycleLimit = 10

// Flag controls how the final dirent on a walk is materialized.
type Flag uint32

const (
	// FlagReaddir requires the final dirent to be a directory.
	FlagReaddir Flag = 1 << iota
	// FlagReadlink requires the final dirent to be a symlink, returned
	// unfollowed.
	FlagReadlink
	// FlagTreeobj returns the final dirent unchanged, whatever its kind.
	FlagTreeobj
)

// Status is the outcome of one Run() call.
type Status int

const (
	StatusError Status = iota + 1
	StatusLoadMissingNamespace
	StatusLoadMissingRefs
	StatusFinished
)

// RefKind tells the caller how to interpret a blob it loads on behalf of a
// stalled lookup: a dirref names a canonically encoded Treeobj, while a
// valref chain component names the raw value bytes it contributes.
type RefKind int

const (
	// RefKindTreeobj is a dirref indirection; its blob decodes to a Treeobj.
	RefKindTreeobj RefKind = iota + 1
	// RefKindRaw is a valref chain component; its blob is raw value bytes.
	RefKindRaw
)

// MissingRef is one blobref a Lookup needs loaded before it can continue,
// tagged with how its content must be interpreted once loaded.
type MissingRef struct {
	Ref  blobref.Ref
	Kind RefKind
}

// RootResolver answers "what is namespace n's current root" — implemented
// by the root manager. Kept as a narrow interface here to avoid a direct
// package dependency on kvsroot.
type RootResolver interface {
	ResolveNamespace(namespace string) (ref blobref.Ref, seq uint64, owner string, ok bool)
}

type walkState int

const (
	stCheckNamespace walkState = iota
	stCheckRoot
	stWalk
	stDone
)

// Lookup is a single stallable lookup operation. Create one with New, then
// call Run repeatedly: each call either finishes, errors, or reports what
// is missing so the caller can load it and call Run again.
type Lookup struct {
	cache *cache.Cache
	roots RootResolver
	epoch uint64
	algo  string

	namespace     string
	explicitRoot  bool
	rootRef       blobref.Ref
	rootSeq       uint64
	cred          types.Cred
	flags         Flag
	wantDirectory bool

	state      walkState
	remaining  []string
	cur        *treeobj.Treeobj
	loopCount  int

	missingNamespace string
	missingRefs      []MissingRef
	value            *treeobj.Treeobj
	err              error
}

// Options configures a new Lookup.
type Options struct {
	Namespace string
	// RootRef, if set, is used directly instead of resolving Namespace's
	// current root; this waives the namespace ownership check (the ref
	// itself pre-proves access).
	RootRef blobref.Ref
	RootSeq uint64
	Key     string
	Cred    types.Cred
	Flags   Flag
}

// New creates a Lookup ready for its first Run call.
func New(c *cache.Cache, roots RootResolver, epoch uint64, algo string, opts Options) *Lookup {
	components, wantDir := normalizeKey(opts.Key)
	l := &Lookup{
		cache:         c,
		roots:         roots,
		epoch:         epoch,
		algo:          algo,
		namespace:     opts.Namespace,
		cred:          opts.Cred,
		flags:         opts.Flags,
		wantDirectory: wantDir,
		remaining:     components,
		state:         stCheckNamespace,
	}
	if !opts.RootRef.Empty() {
		l.explicitRoot = true
		l.rootRef = opts.RootRef
		l.rootSeq = opts.RootSeq
	}
	return l
}

// normalizeKey splits a key on '.', collapsing empty components produced
// by leading/trailing/adjacent separators. A trailing separator or a bare
// "." requests the directory itself.
func normalizeKey(key string) (components []string, wantDirectory bool) {
	if key == "" || key == "." {
		return nil, true
	}
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if p != "" {
			components = append(components, p)
		}
	}
	wantDirectory = strings.HasSuffix(key, ".")
	return components, wantDirectory
}

func (l *Lookup) checkSecurity(owner string) bool {
	if l.explicitRoot {
		return true
	}
	return l.checkSecurityCross(owner)
}

func (l *Lookup) checkSecurityCross(owner string) bool {
	if l.cred.IsOwner() {
		return true
	}
	return l.cred.UserID != "" && l.cred.UserID == owner
}

// MissingNamespace returns the namespace Run reported missing.
func (l *Lookup) MissingNamespace() string { return l.missingNamespace }

// MissingRefs returns the blobrefs Run reported missing, each tagged with
// how its content should be interpreted once loaded.
func (l *Lookup) MissingRefs() []MissingRef { return l.missingRefs }

// Value returns the result once Run has returned StatusFinished. A nil
// value with a nil error means the key does not exist.
func (l *Lookup) Value() *treeobj.Treeobj { return l.value }

// Err returns the error once Run has returned StatusError.
func (l *Lookup) Err() error { return l.err }

// RootRef returns the root blobref the walk resolved against. Only valid
// once namespace resolution has completed.
func (l *Lookup) RootRef() blobref.Ref { return l.rootRef }

// RootSeq returns the root sequence number the walk resolved against.
func (l *Lookup) RootSeq() uint64 { return l.rootSeq }

// Run advances the walk until it finishes, errors, or stalls.
func (l *Lookup) Run() Status {
	for {
		switch l.state {
		case stCheckNamespace:
			if l.explicitRoot {
				l.state = stCheckRoot
				continue
			}
			ref, seq, owner, ok := l.roots.ResolveNamespace(l.namespace)
			if !ok {
				l.missingNamespace = l.namespace
				return StatusLoadMissingNamespace
			}
			if !l.checkSecurity(owner) {
				l.err = fmt.Errorf("%w: namespace %s", kvserr.ErrPerm, l.namespace)
				l.state = stDone
				return StatusError
			}
			l.rootRef, l.rootSeq = ref, seq
			l.state = stCheckRoot

		case stCheckRoot:
			l.cur = treeobj.NewDirref(l.rootRef)
			l.state = stWalk

		case stWalk:
			status, done := l.walkStep()
			if done {
				return status
			}

		case stDone:
			return StatusFinished
		}
	}
}

// walkStep performs one unit of walk progress. done is true when Run
// should return status to the caller (stall, error, or finished).
func (l *Lookup) walkStep() (status Status, done bool) {
	// Resolve a dirref indirection before anything else.
	if l.cur.IsDirref() {
		ref := l.cur.Blobrefs[0]
		entry, ok := l.cache.Lookup(ref, l.epoch)
		if !ok {
			l.cache.Insert(ref)
			l.missingRefs = []MissingRef{{Ref: ref, Kind: RefKindTreeobj}}
			return StatusLoadMissingRefs, true
		}
		if !entry.Valid() {
			l.missingRefs = []MissingRef{{Ref: ref, Kind: RefKindTreeobj}}
			return StatusLoadMissingRefs, true
		}
		obj := entry.Treeobj()
		if obj == nil || !obj.IsDir() {
			l.err = fmt.Errorf("%w: dirref %s does not name a dir", kvserr.ErrNotRecoverable, ref)
			return StatusError, true
		}
		l.cur = obj
		return 0, false
	}

	isFinal := len(l.remaining) == 0

	if l.cur.IsSymlink() {
		if isFinal {
			switch {
			case l.flags&FlagReadlink != 0:
				l.value = l.cur
				return StatusFinished, true
			case l.flags&FlagTreeobj != 0:
				l.value = treeobj.DeepCopy(l.cur)
				return StatusFinished, true
			case l.flags&FlagReaddir != 0 || l.wantDirectory:
				l.err = fmt.Errorf("%w: symlink is not a directory", kvserr.ErrNotDir)
				return StatusError, true
			}
			// bare: fall through to follow
		}
		return l.followSymlink()
	}

	if isFinal {
		return l.finalize(), true
	}

	if !l.cur.IsDir() {
		l.err = fmt.Errorf("%w: path component requires a directory", kvserr.ErrNotDir)
		return StatusError, true
	}

	comp := l.remaining[0]
	l.remaining = l.remaining[1:]
	child, ok := l.cur.Entries[comp]
	if !ok {
		l.value = nil
		l.state = stDone
		return StatusFinished, true
	}
	l.cur = child
	return 0, false
}

func (l *Lookup) followSymlink() (Status, bool) {
	l.loopCount++
	if l.loopCount > SymlinkCycleLimit {
		l.err = fmt.Errorf("%w: symlink cycle limit exceeded", kvserr.ErrLoop)
		return StatusError, true
	}

	targetNS := l.cur.Namespace
	targetComponents, _ := normalizeKey(l.cur.Target)
	l.remaining = append(targetComponents, l.remaining...)

	if targetNS == "" || targetNS == l.namespace {
		l.cur = treeobj.NewDirref(l.rootRef)
		return 0, false
	}

	ref, seq, owner, ok := l.roots.ResolveNamespace(targetNS)
	if !ok {
		l.missingNamespace = targetNS
		return StatusLoadMissingNamespace, true
	}
	if !l.checkSecurityCross(owner) {
		l.err = fmt.Errorf("%w: namespace %s", kvserr.ErrPerm, targetNS)
		return StatusError, true
	}
	l.namespace = targetNS
	l.rootRef, l.rootSeq = ref, seq
	l.cur = treeobj.NewDirref(ref)
	return 0, false
}

func (l *Lookup) finalize() Status {
	obj := l.cur
	readdir := l.flags&FlagReaddir != 0 || l.wantDirectory

	if l.flags&FlagTreeobj != 0 {
		l.value = treeobj.DeepCopy(obj)
		l.state = stDone
		return StatusFinished
	}

	switch obj.Kind {
	case treeobj.KindDir:
		if l.flags&FlagReadlink != 0 {
			l.err = fmt.Errorf("%w: not a symlink", kvserr.ErrInval)
			return StatusError
		}
		if !readdir {
			l.err = fmt.Errorf("%w: %s", kvserr.ErrIsDir, "key names a directory")
			return StatusError
		}
		l.value = obj
		l.state = stDone
		return StatusFinished

	case treeobj.KindVal:
		if readdir {
			l.err = fmt.Errorf("%w: key names a value", kvserr.ErrNotDir)
			return StatusError
		}
		if l.flags&FlagReadlink != 0 {
			l.err = fmt.Errorf("%w: not a symlink", kvserr.ErrInval)
			return StatusError
		}
		l.value = obj
		l.state = stDone
		return StatusFinished

	case treeobj.KindValref:
		if readdir {
			l.err = fmt.Errorf("%w: key names a value", kvserr.ErrNotDir)
			return StatusError
		}
		if l.flags&FlagReadlink != 0 {
			l.err = fmt.Errorf("%w: not a symlink", kvserr.ErrInval)
			return StatusError
		}
		data, missing, err := l.concatValref(obj)
		if err != nil {
			l.err = err
			return StatusError
		}
		if missing != nil {
			l.missingRefs = missing
			return StatusLoadMissingRefs
		}
		l.value = treeobj.NewVal(data)
		l.state = stDone
		return StatusFinished

	default:
		l.err = fmt.Errorf("%w: unexpected final dirent kind %q", kvserr.ErrNotRecoverable, obj.Kind)
		return StatusError
	}
}

// concatValref reads every blob in obj's chain and concatenates them in
// order. A non-nil missing lists every absent ref in the chain (batched so
// the caller can load them together via RefKindRaw); a non-nil err means a
// loaded blob does not hold the raw bytes a valref component requires
// (e.g. it decoded as a Treeobj instead), which cannot be recovered by
// waiting longer.
func (l *Lookup) concatValref(obj *treeobj.Treeobj) (data []byte, missing []MissingRef, err error) {
	entries := make([]*cache.Entry, len(obj.Blobrefs))
	for i, ref := range obj.Blobrefs {
		entry, found := l.cache.Lookup(ref, l.epoch)
		if !found {
			l.cache.Insert(ref)
			missing = append(missing, MissingRef{Ref: ref, Kind: RefKindRaw})
			continue
		}
		if !entry.Valid() {
			missing = append(missing, MissingRef{Ref: ref, Kind: RefKindRaw})
			continue
		}
		entries[i] = entry
	}
	if len(missing) > 0 {
		return nil, missing, nil
	}
	for _, entry := range entries {
		if !entry.IsRaw() {
			return nil, nil, fmt.Errorf("%w: valref blob %s is not a raw value", kvserr.ErrNotRecoverable, entry.Ref)
		}
		data = append(data, entry.Raw()...)
	}
	return data, nil, nil
}
