// Package commands implements the sqlweave CLI subcommands.
package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/sqlweave/internal/cli/config"
	"github.com/leapstack-labs/sqlweave/internal/cli/output"
	"github.com/leapstack-labs/sqlweave/internal/dispatch"
	"github.com/leapstack-labs/sqlweave/internal/engine"
	"github.com/leapstack-labs/sqlweave/internal/state"
	"github.com/spf13/cobra"
)

// ErrCompileFailed is returned when a compile reports error diagnostics.
// The diagnostics themselves have already been printed.
var ErrCompileFailed = errors.New("compilation failed")

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with engine and renderer.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cc := NewCommandContextWithoutEngine(cmd)
	eng, err := createEngine(cc.Cfg, cc.Logger)
	if err != nil {
		return nil, err
	}
	cc.Engine = eng
	return cc, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without an engine,
// for commands that only read the manifest store.
func NewCommandContextWithoutEngine(cmd *cobra.Command) *CommandContext {
	cfg := config.GetConfig(cmd.Context())
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}
}

func createEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	vars, err := cfg.ParseVars()
	if err != nil {
		return nil, err
	}
	tie, err := dispatch.ParseTiePolicy(cfg.TiePolicy)
	if err != nil {
		return nil, err
	}

	return engine.New(engine.Config{
		ProjectDir: cfg.ProjectDir,
		Target:     cfg.Target,
		Adapter:    cfg.Adapter,
		Vars:       vars,
		Threads:    cfg.Threads,
		TiePolicy:  tie,
		MaxDepth:   cfg.MaxDepth,
		Logger:     logger,
	}), nil
}

// openStore opens the manifest store at the configured path.
func openStore(cmd *cobra.Command, cc *CommandContext) (*state.SQLiteStore, error) {
	if cc.Cfg.StatePath == "" {
		return nil, fmt.Errorf("no state database configured (use --state or cli.state_path)")
	}
	store := state.NewSQLiteStore(cc.Logger)
	if err := store.Open(cmd.Context(), cc.Cfg.StatePath); err != nil {
		return nil, err
	}
	return store, nil
}
