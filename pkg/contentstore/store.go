package contentstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/kvserr"
)

var (
	bucketBlobs       = []byte("blobs")
	bucketCheckpoints = []byte("checkpoints")
)

// Checkpoint records a namespace's last-persisted root.
type Checkpoint struct {
	RootRef   blobref.Ref `json:"rootref"`
	RootSeq   uint64      `json:"rootseq"`
	Timestamp time.Time   `json:"timestamp"`
}

// Store is the byte-blob KV the engine treats its external content store
// as, plus the checkpoint record the root manager persists per namespace.
type Store interface {
	StoreBlob(data []byte) (blobref.Ref, error)
	LoadBlob(ref blobref.Ref) ([]byte, error)
	CheckpointPut(namespace string, cp Checkpoint) error
	CheckpointGet(namespace string) (Checkpoint, bool, error)
	Close() error
}

// BoltStore implements Store on an embedded BoltDB database.
type BoltStore struct {
	db   *bolt.DB
	algo string
}

// NewBoltStore opens (creating if necessary) a BoltDB file under dataDir.
func NewBoltStore(dataDir, algo string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "kvsd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open content store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlobs, bucketCheckpoints} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, algo: algo}, nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// StoreBlob hashes data under the store's configured algorithm and
// persists it, idempotent on the resulting blobref.
func (s *BoltStore) StoreBlob(data []byte) (blobref.Ref, error) {
	ref, err := blobref.Hash(s.algo, data)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		return b.Put([]byte(ref), data)
	})
	if err != nil {
		return "", fmt.Errorf("store blob %s: %w", ref, err)
	}
	return ref, nil
}

// LoadBlob returns the raw bytes named by ref.
func (s *BoltStore) LoadBlob(ref blobref.Ref) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		v := b.Get([]byte(ref))
		if v == nil {
			return fmt.Errorf("%w: blob %s", kvserr.ErrNoEnt, ref)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CheckpointPut persists namespace's current checkpoint.
func (s *BoltStore) CheckpointPut(namespace string, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints)
		return b.Put([]byte(namespace), data)
	})
}

// CheckpointGet returns namespace's last-persisted checkpoint, if any.
func (s *BoltStore) CheckpointGet(namespace string) (Checkpoint, bool, error) {
	var cp Checkpoint
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints)
		v := b.Get([]byte(namespace))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &cp)
	})
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("decode checkpoint for %s: %w", namespace, err)
	}
	return cp, found, nil
}
