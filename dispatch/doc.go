// Package dispatch builds and executes the call table binding a world's
// functions to a script runtime.
//
// A Table is constructed once per world and fixes every per-function
// decision up front: script names, flat signatures, indirect parameter
// layouts, and the constant objects imported interfaces contribute.
// Nothing at call time searches by name or recomputes a layout.
//
//	           NewTable(world, calc)
//	                    |
//	                    v
//	  +--------------- Table ----------------+
//	  | Imports   script-callable bridges    |
//	  | Exports   host-callable entry points |
//	  | Interfaces  constants per interface  |
//	  +--------------------------------------+
//	       |                        |
//	  Bind(binding)          ValidateExports(rt)
//	  install bridges        resolve callables once
//	       |                        |
//	  script calls import      CallExport(...)
//	  lower args, host func,   lift params, invoke,
//	  lift result              lower result
//
// # Conventions
//
// Imported interfaces bind as global objects under their fully qualified
// name ("docs:calculator/host@0.1.0") plus a version-stripped alias.
// Function properties use lowerCamelCase names; enum and flags constants
// attach as UpperCamelCase companions. Bare world-level imports and all
// exports live directly in the global scope under lowerCamelCase names.
//
// Parameters exceeding the flat limit travel through one pointer to a
// packed block; results exceeding one flat value travel through a retptr
// region. Import bridges allocate those regions on the script side of
// the call, export entry points on the host side.
//
// # Failure Policy
//
// A script throw during an export call becomes the declared err case
// only when the result type declares an error payload and the thrown
// payload lowers as that type; everything else traps. Marshaling
// failures inside the call follow the same classification with their
// message as the payload. Errors raised by import bridges keep their
// identity and always trap.
package dispatch
