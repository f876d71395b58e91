// Package contentstore persists blobs and namespace checkpoints to an
// embedded BoltDB database, presenting the content store as a byte-blob KV
// with store(bytes) -> blobref and load(blobref) -> bytes, plus a
// checkpoint record of {rootref, rootseq, timestamp} per namespace.
package contentstore
