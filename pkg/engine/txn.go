package engine

import (
	"context"

	"github.com/nskv/kvsd/pkg/blobref"
	"github.com/nskv/kvsd/pkg/kvstxn"
	"github.com/nskv/kvsd/pkg/log"
	"github.com/nskv/kvsd/pkg/metrics"
	"github.com/nskv/kvsd/pkg/types"
	"github.com/nskv/kvsd/pkg/waiter"
)

// CommitResult is kvs.commit/kvs.fence's reply shape.
type CommitResult struct {
	RootRef blobref.Ref
	RootSeq uint64
}

// Commit backs kvs.commit: applies ops to namespace's current root as one
// transaction and returns the resulting root once it lands.
func (e *Engine) Commit(namespace, name string, ops []kvstxn.Op, flags kvstxn.TxnFlag, cred types.Cred) (CommitResult, error) {
	timer := metrics.NewTimer()
	err := e.roots.Commit(namespace, name, ops, flags, cred)
	timer.ObserveDurationVec(metrics.CommitDuration, namespace)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CommitsTotal.WithLabelValues(namespace, outcome).Inc()
	if err != nil {
		return CommitResult{}, err
	}

	ref, seq, _, _ := e.roots.ResolveNamespace(namespace)
	return CommitResult{RootRef: ref, RootSeq: seq}, nil
}

// Fence backs kvs.fence: like Commit, but ops from nprocs named
// participants are merged into a single transaction before being applied.
func (e *Engine) Fence(namespace, name string, nprocs int, ops []kvstxn.Op, flags kvstxn.TxnFlag, cred types.Cred) (CommitResult, error) {
	timer := metrics.NewTimer()
	err := e.roots.Fence(namespace, name, nprocs, ops, flags, cred)
	timer.ObserveDurationVec(metrics.CommitDuration, namespace)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CommitsTotal.WithLabelValues(namespace, outcome).Inc()
	if err != nil {
		return CommitResult{}, err
	}

	ref, seq, _, _ := e.roots.ResolveNamespace(namespace)
	return CommitResult{RootRef: ref, RootSeq: seq}, nil
}

// RelayCommit and RelayFence back kvs.relaycommit/kvs.relayfence, the
// rank-0-only internal variants a non-authoritative rank would otherwise
// forward a local commit/fence request to. With no transport layer
// separating ranks in this engine, a relay from rank>0 to rank 0 collapses
// to a direct call against the same in-process Manager, made on its own
// goroutine: these methods return at once with no response, and a failed
// relayed commit or fence is only logged.
func (e *Engine) RelayCommit(ctx context.Context, namespace, name string, ops []kvstxn.Op, flags kvstxn.TxnFlag, cred types.Cred) {
	go func() {
		if _, err := e.Commit(namespace, name, ops, flags, cred); err != nil {
			log.WithComponent("engine").Warn().Err(err).
				Str("namespace", namespace).Str("name", name).Msg("relayed commit failed")
		}
	}()
}

func (e *Engine) RelayFence(ctx context.Context, namespace, name string, nprocs int, ops []kvstxn.Op, flags kvstxn.TxnFlag, cred types.Cred) {
	go func() {
		if _, err := e.Fence(namespace, name, nprocs, ops, flags, cred); err != nil {
			log.WithComponent("engine").Warn().Err(err).
				Str("namespace", namespace).Str("name", name).Msg("relayed fence failed")
		}
	}()
}

// WaitVersion backs kvs.wait-version: resume fires once namespace reaches
// targetSeq, immediately if it already has.
func (e *Engine) WaitVersion(namespace string, targetSeq uint64, resume waiter.VersionResume) {
	e.roots.WaitVersion(namespace, targetSeq, resume)
}
