package kvserr

import "errors"

// Sentinel errors returned across the engine. Compare with errors.Is; each
// wraps no dynamic state on its own — callers that need detail (offending
// key, namespace, blobref) should use fmt.Errorf("...: %w", kvserr.ErrX).
var (
	// Validation
	ErrInval     = errors.New("invalid argument")
	ErrProto     = errors.New("malformed protocol payload")
	ErrOverflow  = errors.New("encode buffer too small")

	// State
	ErrNoEnt  = errors.New("no such key")
	ErrExist  = errors.New("namespace already exists")
	ErrIsDir  = errors.New("is a directory")
	ErrNotDir = errors.New("not a directory")
	ErrLoop   = errors.New("too many levels of symbolic links")
	ErrPerm   = errors.New("permission denied")
	ErrNotSup = errors.New("operation not supported")

	// Integrity
	ErrNotRecoverable = errors.New("cache content violates shape invariant")

	// Transient (internal sentinel; never returned to an external caller
	// outside of a mid-stall status probe)
	ErrAgain = errors.New("resource temporarily unavailable")

	// Resource
	ErrNoMem = errors.New("cannot allocate memory")

	// Shutdown
	ErrNoSys = errors.New("function not implemented")
)

// ErrInUse reports that a cache entry cannot be removed because it is dirty or
// has waiters.
var ErrInUse = errors.New("entry in use")
