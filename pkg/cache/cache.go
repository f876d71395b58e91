package cache

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/kvserr"
	"github.com/nskv/kvsd/pkg/treeobj"
)

// Stats is a snapshot of cache activity since the last ClearStats, backing
// the cache portion of kvs.stats-get.
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	Expired uint64
}

// Cache is the engine's single content cache, shared by lookups and
// transactions. All methods assume single-reactor-turn access per the
// engine's cooperative scheduling model; the internal mutex exists to
// make that assumption cheap to verify under the race detector rather
// than to support genuine concurrent mutation.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[blobref.Ref, *Entry]

	hits    atomic.Uint64
	misses  atomic.Uint64
	expired atomic.Uint64
}

// New builds an empty cache. Capacity is effectively unbounded: real
// space reclamation happens through Expire, not LRU eviction, since only
// Expire knows to skip dirty entries and entries with waiters.
func New() *Cache {
	l, err := lru.New[blobref.Ref, *Entry](math.MaxInt32)
	if err != nil {
		panic(err)
	}
	return &Cache{lru: l}
}

// Lookup returns the entry for ref, touching its lastused_epoch on hit.
func (c *Cache) Lookup(ref blobref.Ref, epoch uint64) (*Entry, bool) {
	c.mu.Lock()
	e, ok := c.lru.Get(ref)
	c.mu.Unlock()
	if ok {
		c.hits.Add(1)
		e.touch(epoch)
	} else {
		c.misses.Add(1)
	}
	return e, ok
}

// Stats reports the cache's current size and cumulative hit/miss/expiry
// counts since the last ClearStats.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	size := c.lru.Len()
	c.mu.Unlock()
	return Stats{
		Size:    size,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Expired: c.expired.Load(),
	}
}

// ClearStats resets the cumulative hit/miss/expiry counters, backing
// kvs.stats-clear. Cache contents are untouched.
func (c *Cache) ClearStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.expired.Store(0)
}

// Insert adds a placeholder or populated entry for ref. Insertion is
// idempotent: if an entry already exists, the existing one is returned
// unchanged.
func (c *Cache) Insert(ref blobref.Ref) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lru.Peek(ref); ok {
		return e
	}
	e := newEntry(ref)
	c.lru.Add(ref, e)
	return e
}

// Remove deletes the entry for ref. It fails with ErrInUse if the entry
// is dirty or has outstanding waiters.
func (c *Cache) Remove(ref blobref.Ref) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(ref)
	if !ok {
		return nil
	}
	if e.Dirty() || e.HasWaiters() {
		return fmt.Errorf("%w: entry %s is dirty or has waiters", kvserr.ErrInUse, ref)
	}
	c.lru.Remove(ref)
	return nil
}

// SetRaw stores data on e and marks it valid, resuming any wait_valid
// waiters with a nil error.
func (c *Cache) SetRaw(e *Entry, data []byte) {
	e.mu.Lock()
	e.raw = data
	e.valid = true
	e.mu.Unlock()
	e.waitValid.FireAll(nil)
}

// SetTreeobj validates and stores obj on e, marking it valid.
func (c *Cache) SetTreeobj(e *Entry, obj *treeobj.Treeobj) error {
	if err := obj.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.obj = obj
	e.valid = true
	e.mu.Unlock()
	e.waitValid.FireAll(nil)
	return nil
}

// SetErrnumOnValid propagates a load failure to wait_valid waiters without
// marking the entry valid.
func (c *Cache) SetErrnumOnValid(e *Entry, err error) {
	e.waitValid.FireAll(err)
}

// SetErrnumOnNotDirty propagates a store failure to wait_notdirty waiters.
// The dirty bit is cleared regardless (a failed flush is still "not
// dirty" in the sense that nothing further is in flight for it).
func (c *Cache) SetErrnumOnNotDirty(e *Entry, err error) {
	e.mu.Lock()
	e.dirty = false
	e.mu.Unlock()
	e.waitNotDirty.FireAll(err)
}

// SetDirty sets e's dirty bit. A transition to false resumes wait_notdirty
// waiters with a nil error.
func (c *Cache) SetDirty(e *Entry, dirty bool) {
	e.mu.Lock()
	wasDirty := e.dirty
	e.dirty = dirty
	e.mu.Unlock()
	if wasDirty && !dirty {
		e.waitNotDirty.FireAll(nil)
	}
}

// Expire removes every non-dirty, waiterless entry whose lastused_epoch
// is older than epoch-threshold. It returns the number of entries
// removed.
func (c *Cache) Expire(epoch, threshold uint64) int {
	cutoff := uint64(0)
	if epoch > threshold {
		cutoff = epoch - threshold
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, ref := range c.lru.Keys() {
		e, ok := c.lru.Peek(ref)
		if !ok {
			continue
		}
		if e.Dirty() || e.HasWaiters() {
			continue
		}
		if !e.Valid() {
			continue
		}
		if e.LastUsedEpoch() >= cutoff {
			continue
		}
		c.lru.Remove(ref)
		removed++
	}
	if removed > 0 {
		c.expired.Add(uint64(removed))
	}
	return removed
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
