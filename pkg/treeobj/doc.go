// Package treeobj implements the tagged-variant tree-object encoding that
// the store is built from: val, valref, dir, dirref, and symlink nodes.
//
// Canonical encoding is JSON with no extraneous fields per variant; the
// encoding/json package already sorts map keys on Marshal, which gives dir
// entries the stable ordering the store's content-addressing depends on
// without a bespoke canonicalization pass.
package treeobj
