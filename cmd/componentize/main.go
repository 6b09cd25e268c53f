package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/componentize"
	"github.com/wippyai/componentize/abi"
	"github.com/wippyai/componentize/assemble"
	"github.com/wippyai/componentize/config"
	"github.com/wippyai/componentize/dispatch"
	"github.com/wippyai/componentize/snapshot"
	"github.com/wippyai/componentize/world"
)

func main() {
	var (
		witPath     = flag.String("wit", "", "Path to the WIT world document (.json or .wit)")
		jsPath      = flag.String("js", "", "Path to the JavaScript source")
		outPath     = flag.String("o", "", "Output artifact path")
		worldName   = flag.String("world", "", "World to build when the document declares several")
		stubImports = flag.Bool("stub-imports", false, "Bake trap-on-call import stubs into the artifact")
		configPath  = flag.String("config", "", "TOML build configuration file")
		verbose     = flag.Bool("v", false, "Verbose build logging")

		runPath     = flag.String("run", "", "Run an assembled artifact instead of building")
		funcName    = flag.String("func", "", "Function to call (with -run)")
		jsonArgs    = flag.String("json", "", "Arguments as a JSON array (with -run)")
		list        = flag.Bool("list", false, "List exported functions and exit (with -run)")
		interactive = flag.Bool("i", false, "Interactive mode with TUI (with -run)")
	)
	flag.Parse()

	if *runPath != "" {
		if *interactive {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
				os.Exit(1)
			}
			if err := runInteractive(*runPath); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
		if err := runArtifact(*runPath, *funcName, *jsonArgs, *list); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *witPath == "" && *configPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: componentize -wit <world.wit> -js <app.js> [-o out.wasm] [-world name] [-stub-imports]")
		fmt.Fprintln(os.Stderr, "       componentize -config <build.toml>")
		fmt.Fprintln(os.Stderr, "       componentize -run <artifact.wasm> [-func name] [-json '[args]'] [-list]")
		fmt.Fprintln(os.Stderr, "       componentize -run <artifact.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	if err := build(*configPath, *witPath, *jsPath, *outPath, *worldName, *stubImports, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// build merges the config file under explicit flags and runs the
// pipeline. Nothing is written unless the whole build succeeds.
func build(configPath, witPath, jsPath, outPath, worldName string, stubImports, verbose bool) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "wit":
			cfg.WITPath = witPath
		case "js":
			cfg.ScriptPath = jsPath
		case "o":
			cfg.OutputPath = outPath
		case "world":
			cfg.World = worldName
		case "stub-imports":
			cfg.StubImports = stubImports
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	for _, path := range []string{cfg.WITPath, cfg.ScriptPath} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("%s: not found", path)
		}
	}

	var logger *zap.Logger
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer l.Sync()
		logger = l
	}

	out, err := componentize.Componentize(context.Background(), componentize.Config{
		WITPath:          cfg.WITPath,
		ScriptPath:       cfg.ScriptPath,
		WorldName:        cfg.World,
		StubImports:      cfg.StubImports,
		Logger:           logger,
		MemoryLimitPages: cfg.MemoryLimitPages,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfg.OutputPath, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", cfg.OutputPath, err)
	}

	fmt.Printf("WIT:    %s\n", cfg.WITPath)
	fmt.Printf("Script: %s\n", cfg.ScriptPath)
	fmt.Printf("Output: %s (%d bytes)\n", cfg.OutputPath, len(out))
	return nil
}

func runArtifact(path, funcName, jsonArgs string, listOnly bool) error {
	ctx := context.Background()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%s: not found", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	art, err := assemble.Open(data)
	if err != nil {
		return err
	}
	table, err := dispatch.NewTable(art.World, abi.NewCalculator())
	if err != nil {
		return err
	}

	fmt.Printf("Artifact: %s\n", path)
	fmt.Printf("World: %s (%s)\n", art.World.Name, world.HexIdentity(art.Identity)[:16])
	fmt.Printf("Script: %s\n", art.Image.ScriptName)
	fmt.Printf("\nExported functions:\n")
	for i := range table.Exports {
		fmt.Printf("  %s\n", formatExport(&table.Exports[i]))
	}
	if listOnly {
		return nil
	}

	if funcName == "" {
		if len(table.Exports) == 1 {
			funcName = table.Exports[0].WireName()
		} else {
			fmt.Printf("\nUse -func to pick a function to call.\n")
			return nil
		}
	}

	var args []any
	if jsonArgs != "" {
		if err := json.Unmarshal([]byte(jsonArgs), &args); err != nil {
			return fmt.Errorf("parse -json arguments: %w", err)
		}
	}

	d, err := snapshot.Restore(ctx, art.Image, snapshot.Options{World: art.World})
	if err != nil {
		return err
	}
	defer d.Close(ctx)

	fmt.Printf("\nCalling %s...\n", funcName)
	result, err := d.Invoke(ctx, funcName, args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", funcName, err)
	}
	fmt.Printf("Result: %s\n", renderResult(result))
	return nil
}

func formatExport(exp *dispatch.Export) string {
	var params []string
	for _, p := range exp.Sig.Params {
		params = append(params, p.Name+": "+witTypeStr(p.Type))
	}
	out := exp.WireName() + "(" + strings.Join(params, ", ") + ")"
	if exp.Sig.Result != nil {
		out += " -> " + witTypeStr(exp.Sig.Result)
	}
	return out
}

func renderResult(v any) string {
	if v == nil {
		return "()"
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
