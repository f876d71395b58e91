// Package config loads engine configuration from a YAML file merged with
// command-line flags, and validates the result against the bounds the
// engine requires (data directory, hash algorithm, valref threshold, rank,
// heartbeat interval). The checkpoint period is not bounded: a value <= 0
// disables periodic checkpointing.
package config
