package kvstxn

import "github.com/nskv/kvsd/pkg/treeobj"

// OpFlag controls how a single op is applied.
type OpFlag uint32

const (
	// OpAppend requests append semantics instead of replace.
	OpAppend OpFlag = 1 << iota
)

// Op is one write within a transaction. A nil Dirent deletes the named key.
type Op struct {
	Key    string
	Flags  OpFlag
	Dirent *treeobj.Treeobj
}

// TxnFlag controls whole-transaction behavior.
type TxnFlag uint32

const (
	// FlagNoMerge excludes the transaction from merge_ready_transactions.
	FlagNoMerge TxnFlag = 1 << iota
	// FlagSync requests a content-store flush before FINISHED.
	FlagSync
	// FlagNoPublish suppresses the setroot event the apply loop would
	// otherwise publish on completion (used by fence participants whose
	// setroot is published once for the combined transaction).
	FlagNoPublish
)

func (f TxnFlag) has(bit TxnFlag) bool { return f&bit != 0 }

// ValidateUserOps enforces the per-namespace auth rule for user-role
// commits: only val writes, empty-dir writes, or deletes are permitted.
// Anything else (dirref, valref, symlink, non-empty dir) is rejected
// before the transaction is ever enqueued.
func ValidateUserOps(ops []Op) error {
	for _, op := range ops {
		if op.Dirent == nil {
			continue
		}
		switch op.Dirent.Kind {
		case treeobj.KindVal:
			continue
		case treeobj.KindDir:
			if len(op.Dirent.Entries) == 0 {
				continue
			}
		}
		return errPermOp(op.Key)
	}
	return nil
}
