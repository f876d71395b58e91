package cache

import (
	"testing"

	"github.com/nskv/kvsd/pkg/kvserr"
	"github.com/nskv/kvsd/pkg/treeobj"
	"github.com/nskv/kvsd/pkg/waiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDirtyEntryNotRemovable checks invariant 6: while e.dirty, e is not
// removable.
func TestDirtyEntryNotRemovable(t *testing.T) {
	c := New()
	e := c.Insert("ref1")
	require.NoError(t, c.SetTreeobj(e, treeobj.NewVal([]byte("x"))))
	c.SetDirty(e, true)

	err := c.Remove("ref1")
	assert.ErrorIs(t, err, kvserr.ErrInUse)
}

// TestWaitedEntryNotRemovable checks invariant 6: while e has waiters, e is
// not removable.
func TestWaitedEntryNotRemovable(t *testing.T) {
	c := New()
	e := c.Insert("ref1")
	e.WaitValid(waiter.New(1, func(error) {}))

	err := c.Remove("ref1")
	assert.Error(t, err)
}

// TestCleanUnwaitedEntryRemovable checks that Remove succeeds once neither
// condition above holds.
func TestCleanUnwaitedEntryRemovable(t *testing.T) {
	c := New()
	e := c.Insert("ref1")
	require.NoError(t, c.SetTreeobj(e, treeobj.NewVal([]byte("x"))))

	assert.NoError(t, c.Remove("ref1"))
	assert.Equal(t, 0, c.Len())
}

// TestLastUsedEpochNeverDecreases checks invariant 6's monotonicity clause.
func TestLastUsedEpochNeverDecreases(t *testing.T) {
	c := New()
	c.Insert("ref1")

	c.Lookup("ref1", 5)
	e, _ := c.Lookup("ref1", 3)
	assert.Equal(t, uint64(5), e.LastUsedEpoch())

	c.Lookup("ref1", 10)
	assert.Equal(t, uint64(10), e.LastUsedEpoch())
}

func TestExpireSkipsDirtyAndWaitedEntries(t *testing.T) {
	c := New()

	clean := c.Insert("clean")
	require.NoError(t, c.SetTreeobj(clean, treeobj.NewVal([]byte("x"))))
	c.Lookup("clean", 1)

	dirty := c.Insert("dirty")
	require.NoError(t, c.SetTreeobj(dirty, treeobj.NewVal([]byte("y"))))
	c.SetDirty(dirty, true)
	c.Lookup("dirty", 1)

	waited := c.Insert("waited")
	require.NoError(t, c.SetTreeobj(waited, treeobj.NewVal([]byte("z"))))
	waited.WaitValid(waiter.New(1, func(error) {}))
	c.Lookup("waited", 1)

	removed := c.Expire(1000, 0)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, c.Len())

	_, ok := c.Lookup("clean", 1001)
	assert.False(t, ok)
}

func TestExpireSkipsEntriesUsedWithinThreshold(t *testing.T) {
	c := New()
	c.Insert("ref1")
	entry, _ := c.Lookup("ref1", 100)
	require.NoError(t, c.SetTreeobj(entry, treeobj.NewVal([]byte("x"))))

	removed := c.Expire(105, 10)
	assert.Equal(t, 0, removed)
}

func TestStatsHitsMissesExpired(t *testing.T) {
	c := New()
	c.Insert("ref1")
	e, _ := c.Lookup("ref1", 1)
	require.NoError(t, c.SetTreeobj(e, treeobj.NewVal([]byte("x"))))

	c.Lookup("ref1", 1)    // hit
	c.Lookup("missing", 1) // miss

	c.Expire(1000, 0)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits) // the setup lookup above plus the explicit hit
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Expired)
}

func TestClearStatsResetsCounters(t *testing.T) {
	c := New()
	c.Insert("ref1")
	c.Lookup("ref1", 1)
	c.Lookup("missing", 1)

	c.ClearStats()
	stats := c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.Expired)
}

func TestSetErrnumOnValidDoesNotMarkValid(t *testing.T) {
	c := New()
	e := c.Insert("ref1")
	c.SetErrnumOnValid(e, assert.AnError)
	assert.False(t, e.Valid())
}

func TestSetDirtyFalseFiresWaitNotDirty(t *testing.T) {
	c := New()
	e := c.Insert("ref1")
	c.SetDirty(e, true)

	fired := false
	e.WaitNotDirty(waiter.New(1, func(err error) {
		fired = true
		assert.NoError(t, err)
	}))

	c.SetDirty(e, false)
	assert.True(t, fired)
}

