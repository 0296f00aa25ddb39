// Package core provides the foundational domain types and interfaces used by
// SoulMesh. It defines the core abstractions for:
//
//   - Genotypes (declarative schema + optional behavior submitted for storage)
//   - Souls (immutable, content-addressed genotype records)
//   - Beings (mutable data instances bound to a specific soul version)
//   - Relationships (typed directed edges between entity identifiers)
//   - Function descriptors and execution results for sandboxed calls
//   - Pluggable storage backends for souls, aliases, beings and relationships
//
// The package intentionally keeps implementation concerns (persistence,
// hashing, coercion, the sandbox VM) out of scope, exposing small interfaces
// so storage backends and executors can be swapped without touching calling
// code. All exported identifiers include concise documentation to aid
// discoverability and external consumption.
package core
