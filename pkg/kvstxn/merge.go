package kvstxn

import (
	"errors"
	"strings"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/kvserr"
)

// MergeReady coalesces a run of consecutive ready (not-yet-processing)
// transactions from the same namespace into one combined transaction,
// stopping at the first candidate that breaks eligibility. It does not
// mutate txns; it returns the prefix length that was merged (1 if nothing
// merged) and the combined Txn to process in its place.
//
// Eligibility, checked pairwise against the accumulator's first member:
//   - neither side sets FlagNoMerge or FlagSync
//   - flag sets are identical
func MergeReady(txns []*Txn, algo string, baseRootRef blobref.Ref) (merged int, combined *Txn) {
	if len(txns) == 0 {
		return 0, nil
	}
	first := txns[0]
	if first.Flags.has(FlagNoMerge) || first.Flags.has(FlagSync) {
		return 1, first
	}

	names := []string{first.Name}
	ops := append([]Op(nil), first.Ops...)
	n := 1
	for n < len(txns) {
		next := txns[n]
		if next.Flags.has(FlagNoMerge) || next.Flags.has(FlagSync) || next.Flags != first.Flags {
			break
		}
		names = append(names, next.Name)
		ops = append(ops, next.Ops...)
		n++
	}
	if n == 1 {
		return 1, first
	}

	combined = New(strings.Join(names, ","), first.Namespace, ops, first.Flags, first.cache, algo, baseRootRef)
	combined.SetThreshold(first.threshold)
	combined.components = append([]*Txn(nil), txns[:n]...)
	return n, combined
}

// Components returns the original transactions a merged Txn was built
// from, or nil if t was never merged. The apply loop uses this to
// reinsert the originals (with FlagNoMerge forced on) when falling back.
func (t *Txn) Components() []*Txn { return t.components }

// ComponentNames splits a (possibly merged) transaction's Name back into
// its original components, for fallback and for finalizing a setroot
// event's "names" list.
func ComponentNames(name string) []string {
	return strings.Split(name, ",")
}

// ShouldFallback reports whether the apply loop should unmerge t after
// err: t must be a genuine merge of more than one submission, and err
// must be neither ENOMEM nor ENOTSUP (those propagate to every merged
// component unchanged, since retrying them individually would not help).
func ShouldFallback(t *Txn, err error) bool {
	if !t.FallbackMergeable() {
		return false
	}
	if errors.Is(err, kvserr.ErrNoMem) || errors.Is(err, kvserr.ErrNotSup) {
		return false
	}
	return true
}
