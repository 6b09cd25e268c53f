// Package abi implements the Canonical ABI layout and flattening rules.
//
// The Calculator computes memory layout (size, alignment, discriminant
// width, payload offset, list stride, field offsets) for any WIT type:
//
//	Type            Size    Alignment
//	──────────────────────────────────
//	bool            1       1
//	u8/s8           1       1
//	u16/s16         2       2
//	u32/s32/f32     4       4
//	u64/s64/f64     8       8
//	char            4       4
//	string          8       4 (ptr + len)
//	list<T>         8       4 (ptr + len)
//	record/tuple    sum     max field align
//	variant         varies  max(disc, case aligns)
//	option<T>       1+pad+T max(1, T align)
//	enum            1/2/4   per case count
//	flags           1/2/4   per label count (capped at 4 bytes)
//	own/borrow      4       4 (opaque handle id)
//
// Layout results are cached per TypeDef and referentially stable for the
// calculator's lifetime.
//
// Flattening maps WIT types to core value types (i32/i64/f32/f64). Small
// signatures pass flat; params beyond MaxFlatParams (16) spill to a single
// pointer, results beyond MaxFlatResults (1) spill to memory, returned as a
// pointer for export entries or written through a trailing retptr for
// import bridges. Variant payload slots are joined across cases, i64
// absorbing mixed sizes.
package abi
