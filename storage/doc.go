// Package storage contains concrete implementations of the core storage
// backends.
//
// The canonical backend interfaces live in the core package to avoid
// dependency cycles and keep domain contracts central. Implementation
// packages (in-memory here, sqlite and postgres in subpackages) provide
// engines that can be swapped without touching calling code. Callers should
// depend on core.Storage rather than concrete types so they can substitute
// alternative persistence layers in tests or production.
package storage
