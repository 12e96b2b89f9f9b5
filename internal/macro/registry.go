package macro

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/sqlweave/internal/catalog"
	"github.com/leapstack-labs/sqlweave/internal/diag"
	"github.com/leapstack-labs/sqlweave/internal/template"
	"golang.org/x/sync/errgroup"
)

// ReservedNames cannot be used as plain macro names because they are
// template globals.
var ReservedNames = []string{
	"adapter", "config", "env", "exceptions", "project",
	"ref", "source", "target", "this", "var",
}

type key struct {
	base   string
	prefix string
}

// Registry is the read-only index of macro definitions built once per run.
type Registry struct {
	packages map[string]map[key]*Definition
	ordered  []*Definition
	frozen   bool
}

// Options configures Build.
type Options struct {
	// KnownAdapters is the set of adapter identity names used to split
	// "<adapter>__name" macros.
	KnownAdapters map[string]bool
	Logger        *slog.Logger
}

type packageResult struct {
	defs []*Definition
	err  error
}

// Build parses every macro file of every package. Packages are parsed in
// parallel; results are merged after all finish. A syntax error or a
// duplicate definition in any package fails the build (the first in package
// order is reported).
func Build(ctx context.Context, cat *catalog.Catalog, opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	start := time.Now()

	pkgs := cat.Packages()
	results := make([]packageResult, len(pkgs))

	var g errgroup.Group
	for i, pkg := range pkgs {
		g.Go(func() error {
			defs, err := parsePackage(ctx, pkg, opts.KnownAdapters)
			results[i] = packageResult{defs: defs, err: err}
			return ctx.Err()
		})
	}
	// Parse errors stay in results so the first one in package order wins.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &Registry{packages: make(map[string]map[key]*Definition, len(pkgs))}
	for i, pkg := range pkgs {
		if err := results[i].err; err != nil {
			return nil, err
		}
		r.packages[pkg.Name] = make(map[key]*Definition, len(results[i].defs))
		for _, d := range results[i].defs {
			r.add(d)
		}
	}
	r.frozen = true

	logger.Info("macro registry built",
		"packages", len(pkgs),
		"macros_total", len(r.ordered),
		"duration_ms", time.Since(start).Milliseconds())
	return r, nil
}

// parsePackage extracts definitions from one package's macro files and
// checks (base, prefix) uniqueness within the package.
func parsePackage(ctx context.Context, pkg *catalog.Package, known map[string]bool) ([]*Definition, error) {
	var defs []*Definition
	seen := make(map[key]*Definition)

	for _, f := range pkg.MacroFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tmpl, err := template.ParseString(f.Content, f.DisplayPath())
		if err != nil {
			return nil, err
		}

		for _, m := range tmpl.Macros() {
			base, prefix := SplitName(m.Name, known)
			if prefix == "" && isReserved(base) {
				return nil, diag.NewSyntaxError(m.NameSpan,
					fmt.Sprintf("macro name %q is reserved", base))
			}

			d := &Definition{
				Name:    m.Name,
				Base:    base,
				Prefix:  prefix,
				Package: pkg.Name,
				File:    f.DisplayPath(),
				Params:  m.Params,
				Body:    m.Body,
				Span:    m.Span(),
				Doc:     m.Docstring(),
			}

			k := key{base, prefix}
			if first, ok := seen[k]; ok {
				return nil, diag.NewDuplicateMacroError(pkg.Name, m.Name, first.Span, d.Span)
			}
			seen[k] = d
			defs = append(defs, d)
		}
	}
	return defs, nil
}

func (r *Registry) add(d *Definition) {
	if r.frozen {
		panic("macro: registry is read-only after Build")
	}
	r.packages[d.Package][key{d.Base, d.Prefix}] = d
	r.ordered = append(r.ordered, d)
}

func isReserved(name string) bool {
	for _, n := range ReservedNames {
		if n == name {
			return true
		}
	}
	return false
}

// Lookup finds the definition of (base, prefix) in package pkg.
func (r *Registry) Lookup(base, prefix, pkg string) (*Definition, bool) {
	defs, ok := r.packages[pkg]
	if !ok {
		return nil, false
	}
	d, ok := defs[key{base, prefix}]
	return d, ok
}

// Definitions returns every definition in package precedence order, then
// file order, then position.
func (r *Registry) Definitions() []*Definition {
	return r.ordered
}

// PackageDefinitions returns the definitions of one package in file order.
func (r *Registry) PackageDefinitions(pkg string) []*Definition {
	var out []*Definition
	for _, d := range r.ordered {
		if d.Package == pkg {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of definitions.
func (r *Registry) Len() int { return len(r.ordered) }
