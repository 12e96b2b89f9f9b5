// Package dispatch resolves macro calls to concrete definitions.
//
// Resolution searches two axes: packages (calling package first, then the
// rest in precedence order, global last) and the adapter inheritance chain.
// Adapter-specific implementations are probed in every package before any
// default__ implementation is considered.
package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/leapstack-labs/sqlweave/internal/adapter"
	"github.com/leapstack-labs/sqlweave/internal/catalog"
	"github.com/leapstack-labs/sqlweave/internal/diag"
	"github.com/leapstack-labs/sqlweave/internal/macro"
)

// TiePolicy decides what happens when two packages of equal precedence
// provide the winning implementation.
type TiePolicy int

const (
	// TiePolicyInstallOrder picks the package installed first.
	TiePolicyInstallOrder TiePolicy = iota
	// TiePolicyError reports an AmbiguousDispatchError.
	TiePolicyError
)

func (p TiePolicy) String() string {
	if p == TiePolicyError {
		return "error"
	}
	return "install_order"
}

// ParseTiePolicy parses "install_order" or "error".
func ParseTiePolicy(s string) (TiePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "install_order":
		return TiePolicyInstallOrder, nil
	case "error":
		return TiePolicyError, nil
	default:
		return 0, fmt.Errorf("unknown tie policy %q (valid: install_order, error)", s)
	}
}

// Request is one dispatch call site.
type Request struct {
	Base     string
	Calling  string
	Identity adapter.Identity
	// Namespace restricts the package search (macro_namespace). Empty means
	// the default order.
	Namespace string
}

func (r Request) key() string {
	return r.Base + "\x00" + r.Calling + "\x00" + r.Identity.String() + "\x00" + r.Namespace
}

// Probe records one registry lookup.
type Probe struct {
	Package string
	Prefix  string
	Found   bool
}

// Candidate is the macro name probed, e.g. "postgres__concat".
func (p Probe) Candidate(base string) string {
	return p.Prefix + "__" + base
}

// Trace is the full record of a resolution.
type Trace struct {
	Request Request
	Order   []string
	Probes  []Probe
	Result  *macro.Definition
	Err     error
}

// Options configures a Resolver.
type Options struct {
	TiePolicy TiePolicy
	// SearchOrders maps a macro_namespace to an explicit package order.
	SearchOrders map[string][]string
}

type result struct {
	def *macro.Definition
	err error
}

// Resolver resolves dispatch requests against an immutable registry. It is
// safe for concurrent use; results are memoized per request.
type Resolver struct {
	reg  *macro.Registry
	cat  *catalog.Catalog
	opts Options

	mu    sync.RWMutex
	cache map[string]result
}

// New creates a resolver.
func New(reg *macro.Registry, cat *catalog.Catalog, opts Options) *Resolver {
	return &Resolver{
		reg:   reg,
		cat:   cat,
		opts:  opts,
		cache: make(map[string]result),
	}
}

// Resolve returns the implementation of base for a call made from package
// calling under identity.
func (r *Resolver) Resolve(base, calling string, identity adapter.Identity) (*macro.Definition, error) {
	return r.ResolveRequest(Request{Base: base, Calling: calling, Identity: identity})
}

// ResolveRequest resolves req. Repeated calls with an equal request return
// the same *macro.Definition.
func (r *Resolver) ResolveRequest(req Request) (*macro.Definition, error) {
	k := req.key()

	r.mu.RLock()
	res, ok := r.cache[k]
	r.mu.RUnlock()
	if ok {
		return res.def, res.err
	}

	t := r.trace(req)

	r.mu.Lock()
	if prev, ok := r.cache[k]; ok {
		r.mu.Unlock()
		return prev.def, prev.err
	}
	r.cache[k] = result{def: t.Result, err: t.Err}
	r.mu.Unlock()

	return t.Result, t.Err
}

// Trace resolves req without memoization and returns every probe made.
func (r *Resolver) Trace(req Request) *Trace {
	return r.trace(req)
}

func (r *Resolver) trace(req Request) *Trace {
	t := &Trace{Request: req}

	pkgs, err := r.packageOrder(req)
	if err != nil {
		t.Err = err
		return t
	}
	for _, p := range pkgs {
		t.Order = append(t.Order, p.Name)
	}

	// Adapter pass: every package, every adapter in the chain.
	for _, pkg := range pkgs {
		for _, prefix := range req.Identity.Chain() {
			if def, ok := r.probe(t, pkg, req.Base, prefix); ok {
				t.Result, t.Err = r.checkTie(req, pkgs, pkg, def)
				return t
			}
		}
	}

	// Default pass.
	for _, pkg := range pkgs {
		if def, ok := r.probe(t, pkg, req.Base, adapter.Default); ok {
			t.Result, t.Err = r.checkTie(req, pkgs, pkg, def)
			return t
		}
	}

	t.Err = diag.NewUnresolvedMacroError(diag.Span{}, req.Base, req.Identity.Name())
	return t
}

func (r *Resolver) probe(t *Trace, pkg *catalog.Package, base, prefix string) (*macro.Definition, bool) {
	def, ok := r.reg.Lookup(base, prefix, pkg.Name)
	t.Probes = append(t.Probes, Probe{Package: pkg.Name, Prefix: prefix, Found: ok})
	return def, ok
}

// packageOrder returns the packages to scan for req.
func (r *Resolver) packageOrder(req Request) ([]*catalog.Package, error) {
	if req.Namespace == "" {
		return r.cat.SearchOrder(req.Calling), nil
	}

	names, ok := r.opts.SearchOrders[req.Namespace]
	if !ok {
		names = []string{req.Namespace}
	}

	pkgs := make([]*catalog.Package, 0, len(names))
	for _, name := range names {
		p, ok := r.cat.Package(name)
		if !ok {
			return nil, diag.Newf(diag.KindEvaluation, diag.Span{},
				"macro_namespace %q refers to unknown package %q", req.Namespace, name)
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, nil
}

// checkTie applies the tie policy to a hit in winner. A hit in the calling
// package is a local override and never ambiguous.
func (r *Resolver) checkTie(req Request, pkgs []*catalog.Package, winner *catalog.Package, def *macro.Definition) (*macro.Definition, error) {
	if r.opts.TiePolicy != TiePolicyError || winner.Name == req.Calling {
		return def, nil
	}
	for _, p := range pkgs {
		if p == winner || p.Name == req.Calling || p.Precedence != winner.Precedence {
			continue
		}
		if other, ok := r.reg.Lookup(def.Base, def.Prefix, p.Name); ok {
			return nil, diag.NewAmbiguousDispatchError(diag.Span{}, def.Name, def.Span, other.Span)
		}
	}
	return def, nil
}
