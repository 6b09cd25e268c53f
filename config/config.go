// Package config loads build settings from TOML files. A file never
// wins over an explicit flag; the CLI applies flag values on top of
// what LoadFile returns.
package config

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/wippyai/componentize/errors"
)

// Build holds everything a componentize build needs.
type Build struct {
	WITPath          string
	ScriptPath       string
	OutputPath       string
	World            string
	StubImports      bool
	MemoryLimitPages uint32
}

// Default returns the settings a build starts from before any file or
// flag applies.
func Default() Build {
	return Build{OutputPath: "component.wasm"}
}

// maxMemoryPages is the wasm32 limit of 64KiB pages.
const maxMemoryPages = 1 << 16

type fileConfig struct {
	WIT              string `toml:"wit"`
	Script           string `toml:"script"`
	Output           string `toml:"output"`
	World            string `toml:"world"`
	StubImports      bool   `toml:"stub_imports"`
	MemoryLimitPages int64  `toml:"memory_limit_pages"`
}

// LoadFile reads a TOML build file and merges the keys it defines over
// the defaults. Unknown keys are an error so a typo cannot silently
// fall back to a default.
func LoadFile(path string) (Build, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Build{}, errors.NotFound(errors.PhaseConfig, "config file", path)
	}

	cfg := Default()
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Build{}, errors.New(errors.PhaseConfig, errors.KindInvalidConfig).
			Cause(err).Detail("parse %s", path).Build()
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Build{}, errors.InvalidConfig("unknown key %q in %s", undecoded[0].String(), path)
	}

	if meta.IsDefined("wit") {
		cfg.WITPath = strings.TrimSpace(raw.WIT)
	}
	if meta.IsDefined("script") {
		cfg.ScriptPath = strings.TrimSpace(raw.Script)
	}
	if meta.IsDefined("output") {
		if out := strings.TrimSpace(raw.Output); out != "" {
			cfg.OutputPath = out
		}
	}
	if meta.IsDefined("world") {
		cfg.World = strings.TrimSpace(raw.World)
	}
	if meta.IsDefined("stub_imports") {
		cfg.StubImports = raw.StubImports
	}
	if meta.IsDefined("memory_limit_pages") {
		if raw.MemoryLimitPages < 0 || raw.MemoryLimitPages > maxMemoryPages {
			return Build{}, errors.InvalidConfig("memory_limit_pages %d outside 0..%d", raw.MemoryLimitPages, maxMemoryPages)
		}
		cfg.MemoryLimitPages = uint32(raw.MemoryLimitPages)
	}
	return cfg, nil
}

// Validate checks that the settings name both build inputs.
func (b Build) Validate() error {
	if b.WITPath == "" {
		return errors.InvalidConfig("no WIT document given")
	}
	if b.ScriptPath == "" {
		return errors.InvalidConfig("no script given")
	}
	return nil
}
