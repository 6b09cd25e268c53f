package componentize

import (
	"context"
	"os"
	"path/filepath"

	"github.com/wippyai/componentize/abi"
	"github.com/wippyai/componentize/assemble"
	"github.com/wippyai/componentize/dispatch"
	"github.com/wippyai/componentize/engine"
	"github.com/wippyai/componentize/errors"
	"github.com/wippyai/componentize/snapshot"
	"github.com/wippyai/componentize/world"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"
)

// Config carries the inputs of one build.
type Config struct {
	// WITPath names the world document: .json is read directly, anything
	// else goes through the external textual frontend.
	WITPath string

	// ScriptPath names the JavaScript source whose top level is
	// evaluated and snapshotted at build time.
	ScriptPath string

	// WorldName selects among multiple worlds. Empty is allowed when the
	// document declares exactly one.
	WorldName string

	// StubImports bakes trap-on-call import stand-ins into the artifact.
	StubImports bool

	Logger           *zap.Logger
	MemoryLimitPages uint32
}

// Componentize runs the whole build: load the world document, select
// and validate the target world, evaluate and snapshot the script, and
// assemble the artifact container. Any failure aborts before any output
// exists.
func Componentize(ctx context.Context, cfg Config) ([]byte, error) {
	res, err := world.Load(cfg.WITPath)
	if err != nil {
		return nil, err
	}
	w, err := world.Select(res, cfg.WorldName)
	if err != nil {
		return nil, err
	}

	script, err := os.ReadFile(cfg.ScriptPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseConfig, "file", cfg.ScriptPath)
		}
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidConfig).
			Cause(err).Detail("read %s", cfg.ScriptPath).Build()
	}

	return buildArtifact(ctx, cfg, w, script, filepath.Base(cfg.ScriptPath))
}

// buildArtifact is the path-independent rest of the pipeline: validate,
// snapshot, assemble.
func buildArtifact(ctx context.Context, cfg Config, w *wit.World, script []byte, scriptName string) ([]byte, error) {
	if err := world.Validate(w); err != nil {
		return nil, err
	}

	img, err := snapshot.Build(ctx, snapshot.BuildInput{
		World:            w,
		Script:           script,
		ScriptName:       scriptName,
		StubImports:      cfg.StubImports,
		Logger:           cfg.Logger,
		MemoryLimitPages: cfg.MemoryLimitPages,
	})
	if err != nil {
		return nil, err
	}

	table, err := dispatch.NewTable(w, abi.NewCalculator())
	if err != nil {
		return nil, err
	}
	return assemble.Assemble(ctx, w, engine.ArenaModule(), table, img)
}
