// Package types defines the small set of domain value types shared across
// the engine's packages: caller credentials and namespace summaries. The
// store's real state — tree-objects, roots, transactions — lives in the
// packages that own it (treeobj, kvsroot, kvstxn) rather than here.
package types
