// Package logging provides a minimal logging interface and adapters for SoulMesh.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the stores and the sandbox executor use for
// observability. This package includes:
//
//   - Logger: the minimal interface consumed throughout the module
//   - SlogAdapter: a thin wrapper over *slog.Logger
//   - SoulMeshLogger: a configurable structured logger with contextual
//     cloning helpers and domain specific convenience methods
//   - NoOpLogger: discards everything; the default for constructed stores
//
// Downstream code should depend only on Logger so any structured logger can
// be plugged in.
package logging
