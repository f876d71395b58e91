package types

// PrimaryNamespace is the name of the namespace every rank bootstraps at
// startup, matching flux-core's KVS_PRIMARY_NAMESPACE.
const PrimaryNamespace = "primary"

// Role names a caller's privilege level for credential checks.
type Role uint32

const (
	// RoleOwner may write any treeobj shape to a namespace it owns.
	RoleOwner Role = 1 << iota
	// RoleUser marks an unprivileged caller; any cred without RoleOwner is
	// treated this way. Its commits may only write val/null/empty-dir
	// dirents, and its lookups pass a namespace's check only when UserID
	// equals the owner. Commits do not compare UserID with the owner.
	RoleUser
)

// Has reports whether mask includes role.
func (mask Role) Has(role Role) bool { return mask&role != 0 }

// Cred is the caller identity attached to every lookup and commit. The
// engine treats authentication, transport, and wire framing as external
// concerns; Cred is the minimal shape those concerns are reduced to here.
type Cred struct {
	Roles  Role
	UserID string
}

// IsOwner reports whether cred's roles include RoleOwner.
func (cred Cred) IsOwner() bool { return cred.Roles.Has(RoleOwner) }

// NamespaceInfo summarizes one namespace for listing.
type NamespaceInfo struct {
	Namespace string
	Owner     string
	Flags     uint32
}
