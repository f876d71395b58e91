package kvstxn

import (
	"bytes"
	"testing"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/cache"
	"github.com/nskv/kvsd/pkg/kvserr"
	"github.com/nskv/kvsd/pkg/treeobj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// commitRoot hashes and inserts root into c as a clean, valid entry,
// returning its blobref for use as a transaction's baseRootRef.
func commitRoot(t *testing.T, c *cache.Cache, root *treeobj.Treeobj) blobref.Ref {
	t.Helper()
	ref, err := treeobj.Hash("sha1", root)
	require.NoError(t, err)
	e := c.Insert(ref)
	require.NoError(t, c.SetTreeobj(e, root))
	return ref
}

// flushDirty tells txn that every DirtyCacheEntries ref has been flushed
// (MarkStaged), standing in for the apply loop's content-store flush; the
// cache entries themselves stay dirty.
func flushDirty(txn *Txn) {
	for _, ref := range txn.DirtyCacheEntries() {
		_ = ref
	}
	txn.MarkStaged()
}

// runToFinish drives txn.Process, flushing dirty entries, until a terminal
// status is reached. A missing-ref stall fails the test: every ref is
// expected to be in c already.
func runToFinish(t *testing.T, txn *Txn, epoch uint64) Status {
	t.Helper()
	for i := 0; i < 100; i++ {
		status := txn.Process(epoch)
		switch status {
		case StatusFinished, StatusError:
			return status
		case StatusDirtyCacheEntries:
			flushDirty(txn)
		case StatusLoadMissingRefs:
			t.Fatalf("unexpected stall on missing refs: %v", txn.MissingRefs())
		}
	}
	t.Fatal("txn did not terminate")
	return 0
}

// TestSingleValRoundTrip checks S1 at the transaction level: committing a
// single val and then reading it back from the resulting root succeeds.
func TestSingleValRoundTrip(t *testing.T) {
	c := cache.New()
	base := commitRoot(t, c, treeobj.NewDir(nil))

	txn := New("t1", "primary", []Op{
		{Key: "greeting", Dirent: treeobj.NewVal([]byte("hello"))},
	}, 0, c, "sha1", base)

	status := runToFinish(t, txn, 1)
	require.Equal(t, StatusFinished, status)

	entry, ok := c.Lookup(txn.NewRootRef(), 1)
	require.True(t, ok)
	root := entry.Treeobj()
	require.Equal(t, treeobj.NewVal([]byte("hello")), root.Entries["greeting"])
}

// TestLargeValuePromotedToValref checks invariant/S2: a value larger than
// the transaction's threshold is stored as a valref, not inline.
func TestLargeValuePromotedToValref(t *testing.T) {
	c := cache.New()
	base := commitRoot(t, c, treeobj.NewDir(nil))

	big := bytes.Repeat([]byte("x"), 10)
	txn := New("t1", "primary", []Op{
		{Key: "big", Dirent: treeobj.NewVal(big)},
	}, 0, c, "sha1", base)
	txn.SetThreshold(4)

	status := runToFinish(t, txn, 1)
	require.Equal(t, StatusFinished, status)

	entry, ok := c.Lookup(txn.NewRootRef(), 1)
	require.True(t, ok)
	dirent := entry.Treeobj().Entries["big"]
	require.True(t, dirent.IsValref())
	require.Len(t, dirent.Blobrefs, 1)

	blobEntry, ok := c.Lookup(dirent.Blobrefs[0], 1)
	require.True(t, ok)
	assert.Equal(t, big, blobEntry.Raw())
}

// TestAppendPromotesAbsentValAndValref checks S3: appending to an absent
// key stores a val (a valref only past the threshold), appending to a val
// or a valref yields a valref chain, and appending to a directory is EISDIR.
func TestAppendPromotesAbsentValAndValref(t *testing.T) {
	c := cache.New()

	t.Run("absent", func(t *testing.T) {
		base := commitRoot(t, c, treeobj.NewDir(nil))
		txn := New("t1", "primary", []Op{
			{Key: "k", Flags: OpAppend, Dirent: treeobj.NewVal([]byte("a"))},
		}, 0, c, "sha1", base)
		status := runToFinish(t, txn, 1)
		require.Equal(t, StatusFinished, status)

		entry, _ := c.Lookup(txn.NewRootRef(), 1)
		assert.True(t, entry.Treeobj().Entries["k"].IsVal())
	})

	t.Run("existing val promotes to valref", func(t *testing.T) {
		root := treeobj.NewDir(map[string]*treeobj.Treeobj{"k": treeobj.NewVal([]byte("a"))})
		base := commitRoot(t, c, root)
		txn := New("t2", "primary", []Op{
			{Key: "k", Flags: OpAppend, Dirent: treeobj.NewVal([]byte("b"))},
		}, 0, c, "sha1", base)
		status := runToFinish(t, txn, 1)
		require.Equal(t, StatusFinished, status)

		entry, _ := c.Lookup(txn.NewRootRef(), 1)
		dirent := entry.Treeobj().Entries["k"]
		require.True(t, dirent.IsValref())
		assert.Len(t, dirent.Blobrefs, 2)
	})

	t.Run("existing valref grows the chain", func(t *testing.T) {
		r1 := blobref.MustHash("sha1", []byte("a"))
		e1 := c.Insert(r1)
		require.NoError(t, c.SetTreeobj(e1, treeobj.NewVal([]byte("a"))))
		root := treeobj.NewDir(map[string]*treeobj.Treeobj{"k": treeobj.NewValref(r1)})
		base := commitRoot(t, c, root)

		txn := New("t3", "primary", []Op{
			{Key: "k", Flags: OpAppend, Dirent: treeobj.NewVal([]byte("b"))},
		}, 0, c, "sha1", base)
		status := runToFinish(t, txn, 1)
		require.Equal(t, StatusFinished, status)

		entry, _ := c.Lookup(txn.NewRootRef(), 1)
		dirent := entry.Treeobj().Entries["k"]
		require.True(t, dirent.IsValref())
		assert.Len(t, dirent.Blobrefs, 2)
	})

	t.Run("append to a directory is EISDIR", func(t *testing.T) {
		root := treeobj.NewDir(map[string]*treeobj.Treeobj{"k": treeobj.NewDir(nil)})
		base := commitRoot(t, c, root)
		txn := New("t4", "primary", []Op{
			{Key: "k", Flags: OpAppend, Dirent: treeobj.NewVal([]byte("b"))},
		}, 0, c, "sha1", base)
		status := runToFinish(t, txn, 1)
		assert.Equal(t, StatusError, status)
		assert.ErrorIs(t, txn.Err(), kvserr.ErrIsDir)
	})
}

// TestDeleteAbsentKeyIsNoop checks that deleting a key that does not exist
// does not error.
func TestDeleteAbsentKeyIsNoop(t *testing.T) {
	c := cache.New()
	base := commitRoot(t, c, treeobj.NewDir(nil))
	txn := New("t1", "primary", []Op{{Key: "nope", Dirent: nil}}, 0, c, "sha1", base)
	status := runToFinish(t, txn, 1)
	assert.Equal(t, StatusFinished, status)
}

// TestReplayAfterStallIsIdempotent checks S5: a transaction that stalls on
// a missing nested dirref reports that ref, and once the ref is supplied
// and Process is called again it finishes with the update applied (the
// nested directory is then stored inline).
func TestReplayAfterStallIsIdempotent(t *testing.T) {
	c := cache.New()

	nested := treeobj.NewDir(map[string]*treeobj.Treeobj{"leaf": treeobj.NewVal([]byte("v"))})
	nestedRef, err := treeobj.Hash("sha1", nested)
	require.NoError(t, err)

	root := treeobj.NewDir(map[string]*treeobj.Treeobj{"sub": treeobj.NewDirref(nestedRef)})
	base := commitRoot(t, c, root)

	txn := New("t1", "primary", []Op{
		{Key: "sub.leaf", Dirent: treeobj.NewVal([]byte("updated"))},
	}, 0, c, "sha1", base)

	status := txn.Process(1)
	require.Equal(t, StatusLoadMissingRefs, status)
	require.Equal(t, []blobref.Ref{nestedRef}, txn.MissingRefs())

	// Simulate the content store satisfying the load.
	entry, _ := c.Lookup(nestedRef, 1)
	require.NoError(t, c.SetTreeobj(entry, nested))
	c.SetDirty(entry, false)

	status = runToFinish(t, txn, 1)
	require.Equal(t, StatusFinished, status)

	finalEntry, ok := c.Lookup(txn.NewRootRef(), 1)
	require.True(t, ok)
	subRef := finalEntry.Treeobj().Entries["sub"]
	require.True(t, subRef.IsDir())
	assert.Equal(t, []byte("updated"), subRef.Entries["leaf"].Data)
}

func TestValidateUserOpsRejectsNonValNonEmptyDir(t *testing.T) {
	assert.NoError(t, ValidateUserOps([]Op{
		{Key: "a", Dirent: treeobj.NewVal([]byte("x"))},
		{Key: "b", Dirent: nil},
		{Key: "c", Dirent: treeobj.NewDir(nil)},
	}))

	tests := []Op{
		{Key: "d", Dirent: treeobj.NewDirref("ref")},
		{Key: "e", Dirent: treeobj.NewValref("ref")},
		{Key: "f", Dirent: treeobj.NewSymlink("", "t")},
		{Key: "g", Dirent: treeobj.NewDir(map[string]*treeobj.Treeobj{"x": treeobj.NewVal(nil)})},
	}
	for _, op := range tests {
		assert.ErrorIs(t, ValidateUserOps([]Op{op}), kvserr.ErrPerm)
	}
}

func TestMergeReadyCombinesConsecutiveEligibleTxns(t *testing.T) {
	c := cache.New()
	base := commitRoot(t, c, treeobj.NewDir(nil))

	t1 := New("a", "primary", []Op{{Key: "a", Dirent: treeobj.NewVal([]byte("1"))}}, 0, c, "sha1", base)
	t2 := New("b", "primary", []Op{{Key: "b", Dirent: treeobj.NewVal([]byte("2"))}}, 0, c, "sha1", base)
	t3 := New("c", "primary", []Op{{Key: "c", Dirent: treeobj.NewVal([]byte("3"))}}, FlagSync, c, "sha1", base)

	merged, combined := MergeReady([]*Txn{t1, t2, t3}, "sha1", base)
	assert.Equal(t, 2, merged)
	assert.Equal(t, "a,b", combined.Name)
	assert.True(t, combined.FallbackMergeable())
	assert.Equal(t, []*Txn{t1, t2}, combined.Components())
}

func TestMergeReadySkipsIncompatibleFirst(t *testing.T) {
	c := cache.New()
	base := commitRoot(t, c, treeobj.NewDir(nil))
	t1 := New("a", "primary", nil, FlagNoMerge, c, "sha1", base)
	t2 := New("b", "primary", nil, 0, c, "sha1", base)

	merged, combined := MergeReady([]*Txn{t1, t2}, "sha1", base)
	assert.Equal(t, 1, merged)
	assert.Same(t, t1, combined)
}

func TestShouldFallbackRejectsNoMemAndNotSup(t *testing.T) {
	c := cache.New()
	base := commitRoot(t, c, treeobj.NewDir(nil))
	t1 := New("a", "primary", nil, 0, c, "sha1", base)
	t2 := New("b", "primary", nil, 0, c, "sha1", base)
	_, combined := MergeReady([]*Txn{t1, t2}, "sha1", base)

	assert.False(t, ShouldFallback(combined, kvserr.ErrNoMem))
	assert.False(t, ShouldFallback(combined, kvserr.ErrNotSup))
	assert.True(t, ShouldFallback(combined, kvserr.ErrIsDir))
}

func TestComponentNamesSplitsMergedName(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, ComponentNames("a,b,c"))
	assert.Equal(t, []string{"solo"}, ComponentNames("solo"))
}
