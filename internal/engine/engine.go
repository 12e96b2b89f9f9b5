// Package engine compiles a project into rendered artifacts and a dependency
// graph. A compile runs in three phases: discovery and macro indexing, a
// parallel render of every model, and single-threaded graph assembly.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/sqlweave/internal/adapter"
	"github.com/leapstack-labs/sqlweave/internal/catalog"
	"github.com/leapstack-labs/sqlweave/internal/config"
	"github.com/leapstack-labs/sqlweave/internal/diag"
	"github.com/leapstack-labs/sqlweave/internal/dispatch"
	"github.com/leapstack-labs/sqlweave/internal/macro"
	"github.com/leapstack-labs/sqlweave/internal/registry"
	"github.com/leapstack-labs/sqlweave/internal/render"
	starctx "github.com/leapstack-labs/sqlweave/internal/starlark"
	"github.com/leapstack-labs/sqlweave/internal/template"
)

// DefaultTarget is the target name used when none is selected.
const DefaultTarget = "dev"

// Config holds engine configuration.
type Config struct {
	// ProjectDir is the root package directory. Ignored when Packages is set.
	ProjectDir string
	// Packages replaces discovery from the project file: Packages[0] is the
	// root package, the rest are dependencies in installation order.
	Packages []catalog.PackageSpec
	// Target selects a named target from the project file.
	Target string
	// Adapter overrides the adapter type of the selected target.
	Adapter string
	// Vars are layered over the project's vars.
	Vars map[string]any
	// Threads bounds parallel rendering (GOMAXPROCS when 0).
	Threads   int
	TiePolicy dispatch.TiePolicy
	// MaxDepth bounds macro nesting (render.DefaultMaxDepth when 0).
	MaxDepth int
	// MaxSteps bounds Starlark steps per model (0 = unlimited).
	MaxSteps uint64
	// DisableGlobal omits the built-in global macro package.
	DisableGlobal bool
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Engine compiles projects.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an engine. Nothing is read until Load or Compile.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.GOMAXPROCS(0)
	}
	return &Engine{cfg: cfg, logger: logger}
}

// RunContext is the immutable context of one invocation. It is passed
// explicitly to every phase.
type RunContext struct {
	InvocationID string
	StartedAt    time.Time
	TargetName   string
	Identity     adapter.Identity
	Target       *starctx.TargetInfo
	// Vars are the effective variables (project vars overlaid with Config.Vars).
	Vars    map[string]any
	Threads int
}

// Project is a loaded project: the phase 1 output plus a renderer ready for
// phase 2. It is read-only and safe for concurrent use.
type Project struct {
	Run      *RunContext
	Catalog  *catalog.Catalog
	Macros   *macro.Registry
	Resolver *dispatch.Resolver
	Models   *registry.ModelRegistry
	Renderer *render.Renderer

	logger *slog.Logger
	files  map[string]*catalog.File // model id -> file
}

// Load runs phase 1: discovery, macro indexing and the model pre-pass that
// registers every model's relation. Run-level failures (DiscoveryError,
// DuplicateMacroError, invalid project configuration) are returned as error.
func (e *Engine) Load(ctx context.Context) (*Project, error) {
	start := time.Now()
	opts := catalog.Options{DisableGlobal: e.cfg.DisableGlobal, Logger: e.logger}

	var (
		cat *catalog.Catalog
		err error
	)
	if len(e.cfg.Packages) > 0 {
		cat, err = catalog.Load(ctx, e.cfg.Packages, opts)
	} else {
		cat, err = catalog.Discover(ctx, e.cfg.ProjectDir, nil, opts)
	}
	if err != nil {
		return nil, err
	}

	run, err := e.runContext(cat)
	if err != nil {
		return nil, err
	}
	root := cat.Root().Config

	macros, err := macro.Build(ctx, cat, macro.Options{
		KnownAdapters: adapter.KnownNames(root.Adapters),
		Logger:        e.logger,
	})
	if err != nil {
		return nil, err
	}

	searchOrders := make(map[string][]string, len(root.Dispatch))
	for _, rule := range root.Dispatch {
		searchOrders[rule.MacroNamespace] = rule.SearchOrder
	}
	resolver := dispatch.New(macros, cat, dispatch.Options{
		TiePolicy:    e.cfg.TiePolicy,
		SearchOrders: searchOrders,
	})

	p := &Project{
		Run:      run,
		Catalog:  cat,
		Macros:   macros,
		Resolver: resolver,
		Models:   registry.NewModelRegistry(cat.Names()),
		logger:   e.logger,
		files:    make(map[string]*catalog.File),
	}
	if err := p.registerModels(root.Models); err != nil {
		return nil, err
	}

	p.Renderer, err = render.New(render.Env{
		Catalog:  cat,
		Registry: macros,
		Resolver: resolver,
		Models:   p.Models,
		Identity: run.Identity,
		Target:   run.Target,
		Project: &starctx.ProjectInfo{
			Name:    root.Name,
			Version: root.Version,
			Vars:    root.Vars,
		},
		Vars:          run.Vars,
		ModelDefaults: root.Models,
		MaxDepth:      e.cfg.MaxDepth,
		MaxSteps:      e.cfg.MaxSteps,
		Logger:        e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize renderer: %w", err)
	}

	e.logger.Info("project loaded",
		"invocation_id", run.InvocationID,
		"adapter", run.Identity.Name(),
		"packages", len(cat.Packages()),
		"macros_total", macros.Len(),
		"models_total", p.Models.Count(),
		"duration_ms", time.Since(start).Milliseconds())

	return p, nil
}

// runContext resolves the target, adapter identity and variables from the
// root project file.
func (e *Engine) runContext(cat *catalog.Catalog) (*RunContext, error) {
	root := cat.Root().Config

	target, err := root.ResolveTarget(e.cfg.Target)
	if err != nil {
		return nil, err
	}
	name := e.cfg.Target
	if name == "" {
		name = DefaultTarget
	}
	if e.cfg.Adapter != "" {
		target.Type = e.cfg.Adapter
	}

	identity, err := adapter.Resolve(target.Type, root.Adapters)
	if err != nil {
		return nil, fmt.Errorf("invalid target configuration: %w", err)
	}

	vars := maps.Clone(root.Vars)
	if vars == nil {
		vars = make(map[string]any)
	}
	for k, v := range e.cfg.Vars {
		if !config.IsIdentifier(k) {
			return nil, fmt.Errorf("invalid variable name %q", k)
		}
		vars[k] = v
	}

	return &RunContext{
		InvocationID: uuid.NewString(),
		StartedAt:    time.Now().UTC(),
		TargetName:   name,
		Identity:     identity,
		Target:       target.ToTargetInfo(name),
		Vars:         vars,
		Threads:      e.cfg.Threads,
	}, nil
}

// registerModels reads every model's frontmatter and registers its relation
// so ref() can return the final location during rendering. A model with
// broken frontmatter is registered at its default location; rendering
// reports the error.
func (p *Project) registerModels(defaults map[string]any) error {
	for _, src := range p.Catalog.Sources() {
		p.Models.RegisterSource(src)
	}

	for _, f := range p.Catalog.Models() {
		name := render.ModelName(f.Path)
		id := registry.ModelID(f.Package, name)
		p.files[id] = f

		var frontmatter map[string]any
		if fm, err := template.ExtractFrontmatter(f.Content, f.DisplayPath()); err == nil {
			frontmatter = fm.Config
		}
		cfg, err := render.StaticConfig(defaults, frontmatter, name, p.Run.Target)
		if err != nil {
			cfg, _ = render.StaticConfig(nil, nil, name, p.Run.Target)
		}

		if err := p.Models.Register(&registry.Model{
			ID:         id,
			Package:    f.Package,
			Name:       name,
			File:       f.DisplayPath(),
			Database:   cfg.Database,
			Schema:     cfg.Schema,
			Identifier: cfg.Alias,
			Enabled:    cfg.Enabled,
		}); err != nil {
			return diag.NewDiscoveryError(f.DisplayPath(), err)
		}
	}
	return nil
}

// ModelIDs returns every model id in sorted order.
func (p *Project) ModelIDs() []string {
	ids := make([]string, 0, len(p.files))
	for id := range p.files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LookupModel finds a model by id ("package.name") or by bare name,
// resolved from the root package.
func (p *Project) LookupModel(name string) (*registry.Model, bool) {
	if m, ok := p.Models.GetModel(name); ok {
		return m, true
	}
	return p.Models.Resolve(p.Catalog.Root().Name, "", name)
}

// RenderModel renders a single model, for example for the render command.
// Unknown models are reported as error; template failures as diagnostics.
func (p *Project) RenderModel(ctx context.Context, name string) (*render.Artifact, diag.List, error) {
	m, ok := p.LookupModel(name)
	if !ok {
		return nil, nil, fmt.Errorf("model %q not found", name)
	}
	art, diags := p.Renderer.RenderModel(ctx, p.files[m.ID])
	diags.Sort()
	return art, diags, nil
}
