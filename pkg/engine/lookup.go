package engine

import (
	"fmt"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/kvserr"
	"github.com/nskv/kvsd/pkg/lookup"
	"github.com/nskv/kvsd/pkg/metrics"
	"github.com/nskv/kvsd/pkg/treeobj"
	"github.com/nskv/kvsd/pkg/types"
)

// LookupRequest mirrors kvs.lookup/kvs.lookup-plus's parameters. RootRef
// lets a caller pin the walk to an explicit root (e.g. a value returned by
// an earlier kvs.getroot) instead of the namespace's live root.
type LookupRequest struct {
	Namespace string
	Key       string
	Flags     lookup.Flag
	RootRef   blobref.Ref
	RootSeq   uint64
	Cred      types.Cred
}

// LookupResult is kvs.lookup-plus's reply shape: the resolved value plus
// the root it was resolved against.
type LookupResult struct {
	Value   *treeobj.Treeobj
	RootRef blobref.Ref
	RootSeq uint64
}

// Lookup backs kvs.lookup: resolves req.Key and returns its dirent.
func (e *Engine) Lookup(req LookupRequest) (*treeobj.Treeobj, error) {
	res, err := e.LookupPlus(req)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// LookupPlus backs kvs.lookup-plus: resolves req.Key and also reports the
// root the walk ran against, so a caller that needs a stable view can reuse
// it as RootRef on a later call.
func (e *Engine) LookupPlus(req LookupRequest) (LookupResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LookupDuration, req.Namespace)

	l := lookup.New(e.cache, e.roots, e.roots.Epoch(), e.cfg.HashAlgo, lookup.Options{
		Namespace: req.Namespace,
		RootRef:   req.RootRef,
		RootSeq:   req.RootSeq,
		Key:       req.Key,
		Cred:      req.Cred,
		Flags:     req.Flags,
	})

	for {
		switch l.Run() {
		case lookup.StatusFinished:
			return LookupResult{Value: l.Value(), RootRef: l.RootRef(), RootSeq: l.RootSeq()}, nil

		case lookup.StatusError:
			return LookupResult{}, l.Err()

		case lookup.StatusLoadMissingRefs:
			if err := e.loadRefs(l.MissingRefs()); err != nil {
				return LookupResult{}, err
			}

		case lookup.StatusLoadMissingNamespace:
			// This engine has no upstream rank to relay a namespace
			// resolution request to: a namespace this manager cannot
			// resolve is one that genuinely does not exist here.
			return LookupResult{}, fmt.Errorf("%w: namespace %s", kvserr.ErrNoEnt, l.MissingNamespace())
		}
	}
}

// loadRefs loads each ref from the content store into the cache, the same
// recovery kvsroot's apply loop performs for a stalled transaction. A
// dirref loads as a decoded Treeobj; a valref chain component loads as
// raw bytes, matching how kvsroot's flushDirty originally wrote it.
func (e *Engine) loadRefs(refs []lookup.MissingRef) error {
	var firstErr error
	for _, mr := range refs {
		data, err := e.store.LoadBlob(mr.Ref)
		entry := e.cache.Insert(mr.Ref)
		if err != nil {
			e.cache.SetErrnumOnValid(entry, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if mr.Kind == lookup.RefKindRaw {
			e.cache.SetRaw(entry, data)
			continue
		}
		obj, err := treeobj.Decode(data)
		if err != nil {
			e.cache.SetErrnumOnValid(entry, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := e.cache.SetTreeobj(entry, obj); err != nil {
			e.cache.SetErrnumOnValid(entry, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	return firstErr
}
