package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/sqlweave/internal/cli/output"
	"github.com/leapstack-labs/sqlweave/internal/engine"
	"github.com/spf13/cobra"
)

// CompileOptions holds options for the compile command.
type CompileOptions struct {
	Watch bool
}

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	opts := &CompileOptions{}

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Resolve macros and render every model",
		Long: `Compile the project: index macros across all packages, render every
model for the selected adapter and build the dependency graph.

Diagnostics are printed to stderr. The command exits non-zero when any
error diagnostic was reported; models that compiled are still listed.

With --state the result is recorded in a SQLite manifest database that
the dag command can read back.`,
		Example: `  # Compile for the default target
  sqlweave compile

  # Compile for another target and adapter with variables
  sqlweave compile --target prod --adapter snowflake --vars '{start_date: 2024-06-01}'

  # Record the manifest and recompile on every change
  sqlweave compile --state .sqlweave/state.db --watch

  # Output as JSON
  sqlweave compile --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompile(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Recompile when project files change")

	return cmd
}

func runCompile(cmd *cobra.Command, opts *CompileOptions) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	if opts.Watch {
		return watch(cmd.Context(), cc, func(ctx context.Context) {
			if err := compileOnce(ctx, cmd, cc); err != nil && !errors.Is(err, ErrCompileFailed) {
				cc.Renderer.Status("compile error: %v", err)
			}
		})
	}
	return compileOnce(cmd.Context(), cmd, cc)
}

// compileOnce runs one full compile, prints it and records the manifest.
func compileOnce(ctx context.Context, cmd *cobra.Command, cc *CommandContext) error {
	start := time.Now()

	p, err := cc.Engine.Load(ctx)
	if err != nil {
		return err
	}
	res, err := p.Compile(ctx)
	if err != nil {
		return err
	}

	if cc.Cfg.StatePath != "" {
		if err := saveManifest(ctx, cmd, cc, p, res); err != nil {
			return err
		}
	}

	r := cc.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(compileJSON(res, time.Since(start))); err != nil {
			return err
		}
	} else {
		compileText(r, res, time.Since(start))
		r.Diagnostics(res.Diagnostics)
	}

	if res.HasErrors() {
		return ErrCompileFailed
	}
	return nil
}

func saveManifest(ctx context.Context, cmd *cobra.Command, cc *CommandContext, p *engine.Project, res *engine.Result) error {
	store, err := openStore(cmd, cc)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveManifest(ctx, p.Manifest(res)); err != nil {
		return err
	}
	if _, err := store.Prune(ctx, cc.Cfg.Keep); err != nil {
		return err
	}
	return nil
}

func compileText(r *output.Renderer, res *engine.Result, elapsed time.Duration) {
	styles := r.Styles()

	if order, err := res.Order(); err == nil {
		for _, a := range order {
			r.Printf("  %s %s\n", styles.ModelPath.Render(a.ID), styles.Muted.Render(a.Config.Materialized))
		}
	}

	summary := fmt.Sprintf("Compiled %d models for %s (%s) in %s",
		len(res.Artifacts), res.Adapter, res.Target, elapsed.Round(time.Millisecond))
	style := styles.Success
	if res.HasErrors() {
		style = styles.Error
	}
	r.Println(style.Render(summary))

	for _, group := range []struct {
		label string
		ids   []string
	}{
		{"failed", res.Failed},
		{"invalid", res.Invalid},
		{"skipped (upstream failure)", res.Dropped},
		{"disabled", res.Disabled},
	} {
		if len(group.ids) > 0 {
			r.Printf("  %s %d: %v\n", styles.Muted.Render(group.label), len(group.ids), group.ids)
		}
	}
}

func compileJSON(res *engine.Result, elapsed time.Duration) output.CompileOutput {
	out := output.CompileOutput{
		InvocationID: res.InvocationID,
		Adapter:      res.Adapter,
		Target:       res.Target,
		DurationMS:   elapsed.Milliseconds(),
		Models:       []output.CompiledNode{},
		Failed:       res.Failed,
		Invalid:      res.Invalid,
		Dropped:      res.Dropped,
		Disabled:     res.Disabled,
		Diagnostics:  output.NewDiagnostics(res.Diagnostics),
	}
	order, err := res.Order()
	if err != nil {
		return out
	}
	for _, a := range order {
		out.Models = append(out.Models, output.CompiledNode{
			ID:           a.ID,
			Materialized: a.Config.Materialized,
			Hash:         a.Hash,
			DependsOn:    res.Graph.GetParents(a.ID),
		})
	}
	return out
}
