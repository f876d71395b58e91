package waiter

import (
	"container/heap"
	"sync"

	"github.com/nskv/kvsd/pkg/blobref"
)

// VersionResume is invoked when a wait-version target is reached or the
// waiter is cancelled (err != nil, ref/seq are zero in that case).
type VersionResume func(ref blobref.Ref, seq uint64, err error)

type versionEntry struct {
	seq    uint64
	resume VersionResume
	tag    any // opaque predicate-matching key, used by RemoveMatching
	index  int
}

// versionHeap is a min-heap by target seq; container/heap is the standard
// library's priority-queue primitive and there is no ecosystem dependency
// in the surrounding stack that covers this narrow a need.
type versionHeap []*versionEntry

func (h versionHeap) Len() int            { return len(h) }
func (h versionHeap) Less(i, j int) bool  { return h[i].seq < h[j].seq }
func (h versionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *versionHeap) Push(x any)         { e := x.(*versionEntry); e.index = len(*h); *h = append(*h, e) }
func (h *versionHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// VersionQueue holds a namespace's wait-version waiters, ordered by the
// seq they are waiting for.
type VersionQueue struct {
	mu sync.Mutex
	h  versionHeap
}

// NewVersionQueue returns an empty version-waiter queue.
func NewVersionQueue() *VersionQueue {
	vq := &VersionQueue{}
	heap.Init(&vq.h)
	return vq
}

// Add registers a waiter for the first setroot whose seq is >= target.
// tag identifies the waiter for later RemoveMatching (e.g. a client id).
func (vq *VersionQueue) Add(target uint64, tag any, resume VersionResume) {
	vq.mu.Lock()
	defer vq.mu.Unlock()
	heap.Push(&vq.h, &versionEntry{seq: target, resume: resume, tag: tag})
}

// Advance fires every waiter whose target seq has been reached by
// (newSeq, newRef) and removes them from the queue.
func (vq *VersionQueue) Advance(newSeq uint64, newRef blobref.Ref) {
	vq.mu.Lock()
	var fire []*versionEntry
	for vq.h.Len() > 0 && vq.h[0].seq <= newSeq {
		fire = append(fire, heap.Pop(&vq.h).(*versionEntry))
	}
	vq.mu.Unlock()

	for _, e := range fire {
		e.resume(newRef, newSeq, nil)
	}
}

// RemoveMatching cancels every waiter for which match returns true,
// resuming each with err. Used on client disconnect and namespace removal.
func (vq *VersionQueue) RemoveMatching(err error, match func(tag any) bool) {
	vq.mu.Lock()
	var kept versionHeap
	var fire []*versionEntry
	for _, e := range vq.h {
		if match(e.tag) {
			fire = append(fire, e)
		} else {
			kept = append(kept, e)
		}
	}
	vq.h = kept
	heap.Init(&vq.h)
	vq.mu.Unlock()

	for _, e := range fire {
		e.resume("", 0, err)
	}
}

// Len reports the number of outstanding waiters.
func (vq *VersionQueue) Len() int {
	vq.mu.Lock()
	defer vq.mu.Unlock()
	return vq.h.Len()
}
