// Package blobref computes the content-hash digests ("blobrefs") that name
// immutable byte blobs and tree-objects throughout the store.
package blobref
