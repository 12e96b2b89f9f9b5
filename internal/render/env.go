// Package render evaluates parsed templates into SQL text.
//
// A Renderer is built once per run from immutable inputs and is safe for
// concurrent use. Every render gets a fresh Starlark thread; per-artifact
// state (the call stack, recorded references, config() values) lives in
// thread locals, so macro callables and builtins are shared, frozen values.
package render

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/leapstack-labs/sqlweave/internal/adapter"
	"github.com/leapstack-labs/sqlweave/internal/catalog"
	"github.com/leapstack-labs/sqlweave/internal/dispatch"
	"github.com/leapstack-labs/sqlweave/internal/macro"
	"github.com/leapstack-labs/sqlweave/internal/registry"
	starctx "github.com/leapstack-labs/sqlweave/internal/starlark"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultMaxDepth bounds nested macro calls.
const DefaultMaxDepth = 64

// Env is the immutable run context shared by every render.
type Env struct {
	Catalog  *catalog.Catalog
	Registry *macro.Registry
	Resolver *dispatch.Resolver
	Models   *registry.ModelRegistry
	Identity adapter.Identity
	Target   *starctx.TargetInfo
	Project  *starctx.ProjectInfo
	// Vars are the effective variables: project vars overlaid with --vars.
	Vars map[string]any
	// ModelDefaults is the project-level "models:" config layer.
	ModelDefaults map[string]any

	// MaxDepth bounds macro nesting (DefaultMaxDepth when 0).
	MaxDepth int
	// MaxSteps bounds Starlark steps per artifact (0 = unlimited).
	MaxSteps uint64
	Logger   *slog.Logger
}

// Renderer renders models and templates against an Env.
type Renderer struct {
	env     Env
	vars    *starlark.Dict
	macros  map[*macro.Definition]*Macro
	globals map[string]starlark.StringDict // per calling package
	logger  *slog.Logger
}

// New builds a Renderer. Package globals are computed eagerly and frozen.
func New(env Env) (*Renderer, error) {
	if env.MaxDepth <= 0 {
		env.MaxDepth = DefaultMaxDepth
	}
	logger := env.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if env.Target == nil {
		env.Target = &starctx.TargetInfo{Adapter: env.Identity.Name()}
	}
	if env.Project == nil {
		env.Project = &starctx.ProjectInfo{}
	}

	r := &Renderer{
		env:     env,
		macros:  make(map[*macro.Definition]*Macro),
		globals: make(map[string]starlark.StringDict),
		logger:  logger,
	}

	vars, err := starctx.GoToStarlark(env.Vars)
	if err != nil {
		return nil, fmt.Errorf("vars: %w", err)
	}
	if d, ok := vars.(*starlark.Dict); ok {
		r.vars = d
	} else {
		r.vars = starlark.NewDict(0)
	}
	r.vars.Freeze()

	builtins, err := r.builtins()
	if err != nil {
		return nil, err
	}

	for _, d := range env.Registry.Definitions() {
		r.macros[d] = &Macro{def: d}
	}

	namespaces := make(map[string]*starlarkstruct.Module)
	for _, pkg := range env.Catalog.Packages() {
		members := make(starlark.StringDict)
		for _, d := range env.Registry.PackageDefinitions(pkg.Name) {
			members[d.Name] = r.macros[d]
		}
		namespaces[pkg.Name] = &starlarkstruct.Module{Name: pkg.Name, Members: members}
	}

	for _, pkg := range env.Catalog.Packages() {
		g := make(starlark.StringDict)
		for name, ns := range namespaces {
			g[name] = ns
		}
		for _, visible := range r.visiblePackages(pkg.Name) {
			for _, d := range env.Registry.PackageDefinitions(visible) {
				g[d.Name] = r.macros[d]
			}
		}
		for k, v := range builtins {
			g[k] = v
		}
		g.Freeze()
		r.globals[pkg.Name] = g
	}

	return r, nil
}

// visiblePackages lists the packages whose macros are callable by bare name
// from pkg, lowest priority first: global, then root, then pkg itself.
func (r *Renderer) visiblePackages(pkg string) []string {
	var out []string
	add := func(name string) {
		out = slices.DeleteFunc(out, func(n string) bool { return n == name })
		out = append(out, name)
	}
	for _, p := range r.env.Catalog.Packages() {
		if p.Kind == catalog.KindGlobal {
			add(p.Name)
		}
	}
	if root := r.env.Catalog.Root(); root != nil {
		add(root.Name)
	}
	add(pkg)
	return out
}

// Globals returns the frozen globals seen by templates of pkg.
func (r *Renderer) Globals(pkg string) starlark.StringDict {
	return r.globals[pkg]
}

// MacroValue returns the callable for d.
func (r *Renderer) MacroValue(d *macro.Definition) *Macro {
	if m, ok := r.macros[d]; ok {
		return m
	}
	return &Macro{def: d}
}
