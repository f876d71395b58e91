package engine

import (
	"fmt"

	"github.com/nskv/kvsd/pkg/types"
)

// Ready reports whether the engine can currently serve requests: the
// primary namespace must have resolved during Bootstrap, and a round-trip
// through the content store must still succeed. A non-nil error names
// which check failed.
func (e *Engine) Ready() error {
	if _, _, _, ok := e.roots.ResolveNamespace(types.PrimaryNamespace); !ok {
		return fmt.Errorf("primary namespace not bootstrapped")
	}
	ref, err := e.roots.EmptyDirRef()
	if err != nil {
		return fmt.Errorf("content store unreachable: %w", err)
	}
	if _, err := e.store.LoadBlob(ref); err != nil {
		return fmt.Errorf("content store unreachable: %w", err)
	}
	return nil
}
