package kvsroot

import (
	"sync"
	"testing"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/cache"
	"github.com/nskv/kvsd/pkg/contentstore"
	"github.com/nskv/kvsd/pkg/events"
	"github.com/nskv/kvsd/pkg/kvserr"
	"github.com/nskv/kvsd/pkg/kvstxn"
	"github.com/nskv/kvsd/pkg/treeobj"
	"github.com/nskv/kvsd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a map-backed contentstore.Store standing in for BoltStore in
// these manager tests, which exercise the apply loop's load/flush paths
// without a real database.
type memStore struct {
	mu          sync.Mutex
	blobs       map[blobref.Ref][]byte
	checkpoints map[string]contentstore.Checkpoint
	failLoad    map[blobref.Ref]error
}

func newMemStore() *memStore {
	return &memStore{
		blobs:       make(map[blobref.Ref][]byte),
		checkpoints: make(map[string]contentstore.Checkpoint),
		failLoad:    make(map[blobref.Ref]error),
	}
}

func (s *memStore) StoreBlob(data []byte) (blobref.Ref, error) {
	ref := blobref.MustHash("sha1", data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (s *memStore) LoadBlob(ref blobref.Ref) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failLoad[ref]; ok {
		return nil, err
	}
	data, ok := s.blobs[ref]
	if !ok {
		return nil, kvserr.ErrNoEnt
	}
	return data, nil
}

func (s *memStore) CheckpointPut(namespace string, cp contentstore.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[namespace] = cp
	return nil
}

func (s *memStore) CheckpointGet(namespace string) (contentstore.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[namespace]
	return cp, ok, nil
}

func (s *memStore) Close() error { return nil }

func newTestManager(t *testing.T) (*Manager, *memStore) {
	t.Helper()
	store := newMemStore()
	mgr := New(cache.New(), store, events.NewBroker(), "sha1", 0)
	ref, err := mgr.EmptyDirRef()
	require.NoError(t, err)
	require.NoError(t, mgr.NamespaceCreate("primary", "root", 0, ref, true))
	return mgr, store
}

func ownerCred() types.Cred { return types.Cred{Roles: types.RoleOwner} }

// TestCommitRoundTrip checks S1 at the manager level: a committed val is
// visible via ResolveNamespace's returned root ref, and the namespace's
// seq strictly increases (invariant 3).
func TestCommitRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, seq0, _, ok := mgr.ResolveNamespace("primary")
	require.True(t, ok)
	require.Zero(t, seq0)

	err := mgr.Commit("primary", "txn1", []kvstxn.Op{
		{Key: "greeting", Dirent: treeobjVal("hello")},
	}, 0, ownerCred())
	require.NoError(t, err)

	ref, seq, _, ok := mgr.ResolveNamespace("primary")
	require.True(t, ok)
	assert.Equal(t, uint64(1), seq)
	assert.False(t, ref.Empty())
}

func TestCommitStrictlyIncreasesSeq(t *testing.T) {
	mgr, _ := newTestManager(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, mgr.Commit("primary", nameFor(i), []kvstxn.Op{
			{Key: "k", Dirent: treeobjVal("v")},
		}, 0, ownerCred()))
	}
	_, seq, _, _ := mgr.ResolveNamespace("primary")
	assert.Equal(t, uint64(5), seq)
}

func TestCommitUserRoleRejectsNonValOps(t *testing.T) {
	mgr, _ := newTestManager(t)
	userCred := types.Cred{UserID: "root"}

	err := mgr.Commit("primary", "txn1", []kvstxn.Op{
		{Key: "link", Dirent: dirrefDirent()},
	}, 0, userCred)
	assert.ErrorIs(t, err, kvserr.ErrPerm)
}

func TestCommitUnknownNamespace(t *testing.T) {
	mgr, _ := newTestManager(t)
	err := mgr.Commit("ghost", "t", nil, 0, ownerCred())
	assert.ErrorIs(t, err, kvserr.ErrNoEnt)
}

// TestWaitVersionFiresOnceAtTargetSeq checks invariant 5/S7: a waiter
// registered for a future seq fires exactly once, at the first setroot
// whose seq is >= target.
func TestWaitVersionFiresOnceAtTargetSeq(t *testing.T) {
	mgr, _ := newTestManager(t)

	fired := 0
	var gotRef blobref.Ref
	var gotSeq uint64
	mgr.WaitVersion("primary", 2, func(ref blobref.Ref, seq uint64, err error) {
		fired++
		gotRef, gotSeq = ref, seq
		assert.NoError(t, err)
	})

	require.NoError(t, mgr.Commit("primary", "t1", []kvstxn.Op{{Key: "a", Dirent: treeobjVal("1")}}, 0, ownerCred()))
	assert.Equal(t, 0, fired, "must not fire before target seq is reached")

	require.NoError(t, mgr.Commit("primary", "t2", []kvstxn.Op{{Key: "b", Dirent: treeobjVal("2")}}, 0, ownerCred()))
	assert.Equal(t, 1, fired)
	assert.Equal(t, uint64(2), gotSeq)
	assert.False(t, gotRef.Empty())

	require.NoError(t, mgr.Commit("primary", "t3", []kvstxn.Op{{Key: "c", Dirent: treeobjVal("3")}}, 0, ownerCred()))
	assert.Equal(t, 1, fired, "must not fire a second time")
}

func TestWaitVersionFiresImmediatelyIfAlreadyReached(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Commit("primary", "t1", []kvstxn.Op{{Key: "a", Dirent: treeobjVal("1")}}, 0, ownerCred()))

	fired := false
	mgr.WaitVersion("primary", 1, func(ref blobref.Ref, seq uint64, err error) {
		fired = true
		assert.NoError(t, err)
	})
	assert.True(t, fired)
}

func TestWaitVersionUnknownNamespaceErrorsImmediately(t *testing.T) {
	mgr, _ := newTestManager(t)
	fired := false
	mgr.WaitVersion("ghost", 1, func(ref blobref.Ref, seq uint64, err error) {
		fired = true
		assert.ErrorIs(t, err, kvserr.ErrNoEnt)
	})
	assert.True(t, fired)
}

// TestNamespaceRemoveFiresWaitersWithNotSup checks S8: removing a
// namespace while a version-waiter is registered resolves it with ENOTSUP
// rather than leaving it pending forever.
func TestNamespaceRemoveFiresWaitersWithNotSup(t *testing.T) {
	mgr, _ := newTestManager(t)

	var gotErr error
	mgr.WaitVersion("primary", 5, func(ref blobref.Ref, seq uint64, err error) {
		gotErr = err
	})

	require.NoError(t, mgr.NamespaceRemove("primary"))
	require.Error(t, gotErr)
	assert.ErrorIs(t, gotErr, kvserr.ErrNotSup)

	_, _, _, ok := mgr.ResolveNamespace("primary")
	assert.False(t, ok)
}

func TestCommitOnRemovingNamespaceIsNotSup(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.NamespaceRemove("primary"))

	err := mgr.Commit("primary", "t1", []kvstxn.Op{{Key: "a", Dirent: treeobjVal("v")}}, 0, ownerCred())
	assert.ErrorIs(t, err, kvserr.ErrNotSup)
}

func TestNamespaceCreateDuplicateIsExist(t *testing.T) {
	mgr, _ := newTestManager(t)
	ref, err := mgr.EmptyDirRef()
	require.NoError(t, err)
	err = mgr.NamespaceCreate("primary", "root", 0, ref, true)
	assert.ErrorIs(t, err, kvserr.ErrExist)
}

// TestFenceAppliesOnceAllParticipantsArrive checks S6/invariant 10: a fence
// with nprocs participants applies exactly once, after the last
// participant's contribution arrives, and every participant observes the
// same result.
func TestFenceAppliesOnceAllParticipantsArrive(t *testing.T) {
	mgr, _ := newTestManager(t)

	var wg sync.WaitGroup
	results := make([]error, 3)
	wg.Add(3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = mgr.Fence("primary", "barrier", 3, []kvstxn.Op{
				{Key: nameFor(i), Dirent: treeobjVal("v")},
			}, 0, ownerCred())
		}()
	}
	wg.Wait()

	for _, err := range results {
		assert.NoError(t, err)
	}
	_, seq, _, _ := mgr.ResolveNamespace("primary")
	assert.Equal(t, uint64(1), seq, "the combined fence transaction commits exactly once")
}

func TestFenceMismatchedNprocsIsInval(t *testing.T) {
	mgr, _ := newTestManager(t)
	// The first of two expected participants returns immediately without
	// blocking: the barrier only drives a commit once the last arrives.
	require.NoError(t, mgr.Fence("primary", "barrier", 2, nil, 0, ownerCred()))

	err := mgr.Fence("primary", "barrier", 3, nil, 0, ownerCred())
	assert.ErrorIs(t, err, kvserr.ErrInval)
}

func TestHeartbeatSweepRemovesDrainedRoot(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.NamespaceRemove("primary"))

	mgr.HeartbeatSweep(0)

	_, _, _, ok := mgr.ResolveNamespace("primary")
	assert.False(t, ok)
}

func TestCheckpointRoundTrip(t *testing.T) {
	mgr, store := newTestManager(t)
	require.NoError(t, mgr.Commit("primary", "t1", []kvstxn.Op{{Key: "a", Dirent: treeobjVal("v")}}, 0, ownerCred()))

	require.NoError(t, mgr.Checkpoint("primary"))

	cp, ok, err := store.CheckpointGet("primary")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), cp.RootSeq)
}

// TestSetValrefThresholdPromotesLargeVals checks that SetValrefThreshold
// actually reaches the commit path: with a low threshold, a val larger
// than it is stored as a valref chain rather than inline.
func TestSetValrefThresholdPromotesLargeVals(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.SetValrefThreshold(4)

	big := make([]byte, 64)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	require.NoError(t, mgr.Commit("primary", "t1", []kvstxn.Op{
		{Key: "big", Dirent: treeobj.NewVal(big)},
	}, 0, ownerCred()))

	rootRef, _, _, ok := mgr.ResolveNamespace("primary")
	require.True(t, ok)
	rootEntry, ok := mgr.cache.Lookup(rootRef, mgr.Epoch())
	require.True(t, ok)
	rootObj := rootEntry.Treeobj()
	require.NotNil(t, rootObj)

	dirent, ok := rootObj.Entries["big"]
	require.True(t, ok)
	assert.True(t, dirent.IsValref(), "expected big to be promoted to a valref, got kind %s", dirent.Kind)
}

// TestDropCacheDropsEntriesTouchedThisTick checks that kvs.dropcache drops
// an entry even when it was just LRU-touched at the current epoch (e.g. by
// a preceding HeartbeatSweep), not only entries idle from a prior epoch.
func TestDropCacheDropsEntriesTouchedThisTick(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Commit("primary", "t1", []kvstxn.Op{{Key: "a", Dirent: treeobjVal("v")}}, 0, ownerCred()))

	rootRef, _, _, ok := mgr.ResolveNamespace("primary")
	require.True(t, ok)
	_, ok = mgr.cache.Lookup(rootRef, mgr.Epoch())
	require.True(t, ok)

	mgr.DropCache()

	_, stillCached := mgr.cache.Lookup(rootRef, mgr.Epoch())
	assert.False(t, stillCached, "entry touched at the current epoch should still be dropped")
}

func nameFor(i int) string {
	names := []string{"a", "b", "c", "d", "e", "f"}
	return names[i%len(names)]
}

func treeobjVal(s string) *treeobj.Treeobj { return treeobj.NewVal([]byte(s)) }

func dirrefDirent() *treeobj.Treeobj { return treeobj.NewDirref("somewhere") }
