// Package sandbox validates and executes caller-supplied Lua source in a
// restricted environment. Safety comes from two independent layers:
//
//  1. Static validation: the source is parsed into a syntax tree and
//     rejected if it references a deny-listed global (os, io, require, load,
//     metatable primitives, ...) or requires a module outside the explicit
//     allow-list. The allow/deny sets are enumerated, not heuristic.
//  2. A virtual-machine boundary: every execution runs on a fresh Lua state
//     in which only the base, math, string and table libraries are opened
//     and the dangerous base functions are removed. No file system, network
//     or process-control primitive is reachable from guest code regardless
//     of what validation concluded.
//
// Guest print output is captured and returned to the caller, never written
// to the host's console. Guest errors are converted to structured results.
// Execution is bounded by a timeout: on expiry the caller unblocks
// immediately with a timeout result and the abandoned state is discarded,
// so no partial mutation leaks outside the sandbox boundary.
package sandbox
