package kvsroot

import (
	"time"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/events"
	"github.com/nskv/kvsd/pkg/kvstxn"
	"github.com/nskv/kvsd/pkg/waiter"
)

// Root is one namespace's commit state: its current root ref/seq, the
// transactions waiting to be applied to it, and everything a waiter might
// be registered against.
type Root struct {
	Name      string
	Owner     string
	Flags     uint32
	IsPrimary bool

	Ref blobref.Ref
	Seq uint64

	Remove        bool
	SetrootPaused bool
	setrootQueue  []events.Setroot

	waitVersions *waiter.VersionQueue

	// transactionsByName maps each pending Commit or Fence name to the
	// channel its caller waits on; the apply loop, ApplySetroot and
	// ApplyError deliver the result by matching names against it.
	transactionsByName map[string]chan error

	ready      []*kvstxn.Txn
	processing *kvstxn.Txn
	mergedN    int

	LastUpdateTime time.Time
}

func newRoot(name, owner string, flags uint32, ref blobref.Ref, isPrimary bool) *Root {
	return &Root{
		Name:               name,
		Owner:              owner,
		Flags:              flags,
		IsPrimary:          isPrimary,
		Ref:                ref,
		Seq:                0,
		waitVersions:       waiter.NewVersionQueue(),
		transactionsByName: make(map[string]chan error),
		LastUpdateTime:     time.Now(),
	}
}

// HasLiveWork reports whether removal must wait: any ready/in-flight
// transaction or registered version-waiter keeps the root alive.
func (r *Root) HasLiveWork() bool {
	return len(r.ready) > 0 || r.processing != nil || r.waitVersions.Len() > 0
}
