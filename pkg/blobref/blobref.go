package blobref

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/nskv/kvsd/pkg/kvserr"
)

// Ref is a blobref: a hex-encoded digest naming the canonical encoding of a
// tree-object or the raw bytes of a blob. Two refs are equal iff their
// underlying content is equal.
type Ref string

// String satisfies fmt.Stringer.
func (r Ref) String() string { return string(r) }

// Empty reports whether r is the zero value.
func (r Ref) Empty() bool { return r == "" }

func newHasher(algo string) (hash.Hash, error) {
	switch algo {
	case "", "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("%w: unknown hash algorithm %q", kvserr.ErrInval, algo)
	}
}

// Hash computes the blobref of data under the named algorithm. An empty
// algo selects the engine default (sha1), matching upstream kvs behavior
// where the hash algorithm is a deployment-wide parameter.
func Hash(algo string, data []byte) (Ref, error) {
	h, err := newHasher(algo)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return Ref(hex.EncodeToString(h.Sum(nil))), nil
}

// MustHash panics on an unknown algorithm; intended for call sites that
// already validated algo (e.g. against a loaded Config).
func MustHash(algo string, data []byte) Ref {
	r, err := Hash(algo, data)
	if err != nil {
		panic(err)
	}
	return r
}

// Len returns the digest length in bytes for algo, or 0 if unknown.
func Len(algo string) int {
	h, err := newHasher(algo)
	if err != nil {
		return 0
	}
	return h.Size()
}
