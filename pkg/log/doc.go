// Package log provides the engine's structured logger, a thin wrapper
// around zerolog with component- and namespace-scoped child loggers.
package log
