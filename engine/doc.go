// Package engine pairs one script runtime with one arena instance and
// drives export calls across the flat ABI boundary.
//
// The arena is a core module this package emits itself: one linear
// memory, a bump allocator behind the canonical cabi_realloc signature,
// and the bump pointer exported as a mutable global. Marshaled data
// (strings, lists, spilled parameters, retptr regions) lives there; the
// script heap stays inside the interpreter.
//
//	ArenaModule()            emitted bytes, import-free
//	     |
//	New(ctx, opts)           compile + instantiate under wazero
//	     |
//	   Driver
//	     |-- RegisterBridges(table, resolver)   before evaluation
//	     |-- Evaluate(program)                  exactly once
//	     |-- ValidateExports()
//	     |-- Call / Invoke                      one at a time
//	     `-- Release                            bulk-free the last call
//
// # Call Lifecycle
//
// Call records the bump pointer, runs the export, and leaves the result's
// allocations in place so a retptr region stays readable after it
// returns. The next Call (or an explicit Release) resets the arena to the
// recorded mark, releasing every allocation of the completed call at
// once. A failed call releases immediately. Invoke wraps the full cycle:
// Go arguments lower in, the lifted result converts back to a Go value,
// and the arena is released before it returns.
//
// The driver is single-threaded and non-reentrant. A top-level call while
// another is in flight is rejected; a host import invoked mid-call
// re-enters the same call stack synchronously.
package engine
