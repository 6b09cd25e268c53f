// Package componentize turns a WIT world and a JavaScript source file
// into a standalone WebAssembly artifact with the interpreter state
// snapshotted at build time.
//
// # Architecture Overview
//
// The pipeline is organized into packages with distinct responsibilities:
//
//	componentize/        Root package: Componentize(Config) → artifact bytes
//	├── errors/          Structured error taxonomy (phase + kind)
//	├── abi/             Canonical ABI layout calculator and flattening
//	├── wasm/            Core wasm binary reading and writing primitives
//	├── bridge/          Lifting and lowering between script and ABI values
//	├── dispatch/        Call table: imports, exports, name conversion
//	├── engine/          Arena module emission + driver owning one interpreter
//	├── world/           World loading, selection, validation, identity
//	├── snapshot/        Snapshot builder, image codec, restore
//	├── assemble/        Artifact container encode/decode
//	├── config/          TOML build configuration
//	└── cmd/componentize CLI: build, run, list, interactive mode
//
// # Quick Start
//
// Build an artifact from a world and a script:
//
//	out, err := componentize.Componentize(ctx, componentize.Config{
//	    WITPath:    "calculator.wit",
//	    ScriptPath: "calculator.js",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("calculator.wasm", out, 0o644)
//
// Run an exported function from the artifact:
//
//	art, err := assemble.Open(out)
//	d, err := snapshot.Restore(ctx, art.Image, snapshot.Options{World: art.World})
//	defer d.Close(ctx)
//	sum, err := d.Invoke(ctx, "add", 2, 3)
//
// # Build Model
//
// The script's top level is evaluated once at build time, against no-op
// import stubs, and the resulting global state is captured into the
// artifact. Restoring the artifact re-evaluates the script and overlays
// the captured data, so every restore starts from the same state the
// build observed. The build runs the evaluation twice and refuses to
// produce an image if the two captures differ; scripts whose top level
// reads clocks or random sources fail the build instead of producing
// an artifact that drifts.
//
// # Concurrency
//
// Build-time work is single-threaded and synchronous. A restored driver
// is single-threaded and non-reentrant: one top-level call at a time,
// and a host import invoked mid-call blocks script execution until it
// returns.
package componentize
