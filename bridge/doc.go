// Package bridge converts values between the interpreter and the
// Canonical ABI.
//
// This package handles bidirectional conversion between script values
// and the Component Model's representation in flat core values and
// linear memory:
//
//	┌──────────────────────────────────────────────────────────┐
//	│ Script Value ←→ [Lifter/Lowerer] ←→ Memory / Core Values │
//	└──────────────────────────────────────────────────────────┘
//
// # Value Mapping
//
// WIT types surface to scripts as plain values:
//
//	WIT type        Script form
//	─────────────────────────────────────────────
//	bool            boolean (truthiness on lower)
//	u8..s64         number (wrapped to width)
//	f32/f64         number (NaN canonicalized)
//	char            single-character string
//	string          string
//	list<T>         array
//	tuple<...>      array (exact arity)
//	record          object, lowerCamelCase fields
//	variant         {tag, val?}
//	enum            ordinal number
//	result<O,E>     {tag: "ok"|"err", val?}
//	option<T>       null | unwrapped payload
//	flags           bitmask number
//	own/borrow      opaque u32 handle
//
// # Key Types
//
//	Lifter    - Materializes script values from ABI form
//	Lowerer   - Converts script values into ABI form
//	Memory    - Linear memory access contract
//	Allocator - Guest-side allocation contract
//
// # Name Mapping
//
// WIT kebab-case identifiers convert to script-friendly names with
// ScriptName (lowerCamelCase) and back with WitName. Constant objects
// for flags and enum cases use ConstName (UpperCamelCase). The mapping
// is exact and bidirectional; no other renaming is applied.
//
// # Flattening vs Memory
//
// Small values travel as flat core value slots; compound values spill
// to linear memory through the Allocator. Variant-shaped types occupy
// their joined slot count in flat form regardless of the case present,
// so lifting reports how many slots were consumed.
package bridge
