package treeobj

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/kvserr"
)

// Kind tags the variant a Treeobj holds.
type Kind string

const (
	KindVal     Kind = "val"
	KindValref  Kind = "valref"
	KindDir     Kind = "dir"
	KindDirref  Kind = "dirref"
	KindSymlink Kind = "symlink"
)

// Treeobj is a tagged-variant node. Only the fields relevant to Kind are
// populated; the rest are left zero. Construct one with the New* helpers
// rather than a literal to keep the shape valid.
type Treeobj struct {
	Kind Kind `json:"type"`

	// Data holds the raw bytes of a val.
	Data []byte `json:"data,omitempty"`

	// Blobrefs holds the blob chain of a valref, or the single element of
	// a dirref.
	Blobrefs []blobref.Ref `json:"blobrefs,omitempty"`

	// Entries holds the named children of a dir.
	Entries map[string]*Treeobj `json:"entries,omitempty"`

	// Namespace and Target describe a symlink. Namespace is empty for an
	// intra-namespace link.
	Namespace string `json:"namespace,omitempty"`
	Target    string `json:"target,omitempty"`
}

// NewVal constructs a val leaf.
func NewVal(data []byte) *Treeobj {
	return &Treeobj{Kind: KindVal, Data: data}
}

// NewValref constructs a valref leaf from an ordered blob chain.
func NewValref(refs ...blobref.Ref) *Treeobj {
	return &Treeobj{Kind: KindValref, Blobrefs: append([]blobref.Ref(nil), refs...)}
}

// NewDir constructs a dir node. A nil entries map is normalized to empty.
func NewDir(entries map[string]*Treeobj) *Treeobj {
	if entries == nil {
		entries = map[string]*Treeobj{}
	}
	return &Treeobj{Kind: KindDir, Entries: entries}
}

// NewDirref constructs a dirref pointing at a single dir blobref.
func NewDirref(ref blobref.Ref) *Treeobj {
	return &Treeobj{Kind: KindDirref, Blobrefs: []blobref.Ref{ref}}
}

// NewSymlink constructs a symlink. An empty namespace means intra-namespace.
func NewSymlink(namespace, target string) *Treeobj {
	return &Treeobj{Kind: KindSymlink, Namespace: namespace, Target: target}
}

// Validate checks that obj's shape matches the invariants of its Kind.
func (o *Treeobj) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil treeobj", kvserr.ErrNotRecoverable)
	}
	switch o.Kind {
	case KindVal:
		return nil
	case KindValref:
		if len(o.Blobrefs) == 0 {
			return fmt.Errorf("%w: valref with no blobrefs", kvserr.ErrNotRecoverable)
		}
		return nil
	case KindDir:
		if o.Entries == nil {
			return fmt.Errorf("%w: dir with nil entries", kvserr.ErrNotRecoverable)
		}
		return nil
	case KindDirref:
		if len(o.Blobrefs) != 1 {
			return fmt.Errorf("%w: dirref must name exactly one blobref, got %d", kvserr.ErrNotRecoverable, len(o.Blobrefs))
		}
		return nil
	case KindSymlink:
		if o.Target == "" {
			return fmt.Errorf("%w: symlink with empty target", kvserr.ErrNotRecoverable)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown treeobj kind %q", kvserr.ErrNotRecoverable, o.Kind)
	}
}

// Encode produces the canonical byte encoding of obj. Equal trees produce
// byte-identical encodings because json.Marshal sorts map[string] keys and
// the struct's field order is fixed.
func Encode(obj *Treeobj) ([]byte, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}
	buf, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kvserr.ErrOverflow, err)
	}
	return buf, nil
}

// Decode parses bytes produced by Encode and validates the result's shape.
func Decode(data []byte) (*Treeobj, error) {
	var obj Treeobj
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", kvserr.ErrProto, err)
	}
	if err := obj.Validate(); err != nil {
		return nil, err
	}
	return &obj, nil
}

// Hash computes obj's blobref under algo.
func Hash(algo string, obj *Treeobj) (blobref.Ref, error) {
	buf, err := Encode(obj)
	if err != nil {
		return "", err
	}
	return blobref.Hash(algo, buf)
}

// Equal reports structural equality, which by the canonical-encoding
// invariant is the same as hash equality.
func Equal(a, b *Treeobj) bool {
	ea, errA := Encode(a)
	eb, errB := Encode(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

// DeepCopy returns a structurally independent copy of obj, used when
// TREEOBJ lookup flag asks for the dirent unchanged but callers must not
// be able to mutate cached state through the result.
func DeepCopy(obj *Treeobj) *Treeobj {
	if obj == nil {
		return nil
	}
	cp := *obj
	if obj.Data != nil {
		cp.Data = append([]byte(nil), obj.Data...)
	}
	if obj.Blobrefs != nil {
		cp.Blobrefs = append([]blobref.Ref(nil), obj.Blobrefs...)
	}
	if obj.Entries != nil {
		cp.Entries = make(map[string]*Treeobj, len(obj.Entries))
		for k, v := range obj.Entries {
			cp.Entries[k] = DeepCopy(v)
		}
	}
	return &cp
}

// IsDir reports whether obj resolves directly to a directory shape.
func (o *Treeobj) IsDir() bool { return o != nil && o.Kind == KindDir }

// IsDirref reports whether obj is a dirref indirection.
func (o *Treeobj) IsDirref() bool { return o != nil && o.Kind == KindDirref }

// IsSymlink reports whether obj is a symlink.
func (o *Treeobj) IsSymlink() bool { return o != nil && o.Kind == KindSymlink }

// IsVal reports whether obj is an inline val.
func (o *Treeobj) IsVal() bool { return o != nil && o.Kind == KindVal }

// IsValref reports whether obj is a valref.
func (o *Treeobj) IsValref() bool { return o != nil && o.Kind == KindValref }
