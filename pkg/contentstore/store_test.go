package contentstore

import (
	"testing"
	"time"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/kvserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir(), "sha1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreAndLoadBlobRoundTrip(t *testing.T) {
	s := newTestStore(t)

	ref, err := s.StoreBlob([]byte("hello world"))
	require.NoError(t, err)

	got, err := s.LoadBlob(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
}

func TestStoreBlobIsContentAddressed(t *testing.T) {
	s := newTestStore(t)

	ref1, err := s.StoreBlob([]byte("same"))
	require.NoError(t, err)
	ref2, err := s.StoreBlob([]byte("same"))
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)

	want, err := blobref.Hash("sha1", []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, want, ref1)
}

func TestLoadBlobMissingIsNoEnt(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadBlob("nonexistent")
	assert.ErrorIs(t, err, kvserr.ErrNoEnt)
}

func TestCheckpointPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	cp := Checkpoint{RootRef: "ref1", RootSeq: 42, Timestamp: time.Now().Truncate(time.Second)}
	require.NoError(t, s.CheckpointPut("primary", cp))

	got, ok, err := s.CheckpointGet("primary")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cp.RootRef, got.RootRef)
	assert.Equal(t, cp.RootSeq, got.RootSeq)
	assert.True(t, cp.Timestamp.Equal(got.Timestamp))
}

func TestCheckpointGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.CheckpointGet("ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpointPutOverwritesPrior(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CheckpointPut("primary", Checkpoint{RootSeq: 1}))
	require.NoError(t, s.CheckpointPut("primary", Checkpoint{RootSeq: 2}))

	got, ok, err := s.CheckpointGet("primary")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.RootSeq)
}
