// Package lookup implements the stallable, resumable key-path walker that
// resolves a (namespace, root-ref, key) triple into a value, following
// symbolic links (including cross-namespace) and yielding missing-ref or
// missing-namespace stalls on cache misses instead of blocking.
package lookup
