// Package kvserr defines the POSIX-errno-flavored sentinel errors shared
// across the KVS engine.
package kvserr
