package render

import (
	"github.com/leapstack-labs/sqlweave/internal/diag"
	starctx "github.com/leapstack-labs/sqlweave/internal/starlark"
	"go.starlark.net/starlark"
)

const stateKey = "sqlweave.render"

// RefKind distinguishes ref() from source() calls.
type RefKind int

// Reference kinds.
const (
	RefModel RefKind = iota
	RefSource
)

func (k RefKind) String() string {
	if k == RefSource {
		return "source"
	}
	return "ref"
}

// RefCall is one ref() or source() call recorded while rendering.
type RefCall struct {
	Kind RefKind
	// Package is the explicit package of ref(package, name), or "".
	Package string
	// Name is the model name, or the table name for source().
	Name string
	// Source is the source name for source().
	Source string
	Span   diag.Span
	// Chain is the macro stack at the call, innermost first.
	Chain []diag.Frame
}

// Target renders the call as written, e.g. "ref('shop', 'orders')".
func (c RefCall) Target() string {
	switch {
	case c.Kind == RefSource:
		return "source('" + c.Source + "', '" + c.Name + "')"
	case c.Package != "":
		return "ref('" + c.Package + "', '" + c.Name + "')"
	default:
		return "ref('" + c.Name + "')"
	}
}

// state is the mutable per-artifact render state, owned by one thread.
type state struct {
	r        *Renderer
	artifact string
	pkg      string
	this     *starctx.Relation

	// locals are the macros defined in the template being rendered.
	locals starlark.StringDict

	frames   []diag.Frame // outermost first
	callSite diag.Span

	refs     []RefCall
	config   map[string]any
	warnings diag.List
}

func newState(r *Renderer, artifact, pkg string, callee diag.Span) *state {
	return &state{
		r:        r,
		artifact: artifact,
		pkg:      pkg,
		frames:   []diag.Frame{{Name: artifact, Callee: callee}},
		config:   make(map[string]any),
	}
}

func stateOf(thread *starlark.Thread) *state {
	st, _ := starctx.Local[*state](thread, stateKey)
	return st
}

// chain returns the call stack innermost first.
func (s *state) chain() []diag.Frame {
	out := make([]diag.Frame, len(s.frames))
	for i, f := range s.frames {
		out[len(s.frames)-1-i] = f
	}
	return out
}

func (s *state) depth() int { return len(s.frames) - 1 }

// errorf creates an evaluation error at the current call site carrying the
// current stack.
func (s *state) errorf(format string, args ...any) *diag.Error {
	return diag.Newf(diag.KindEvaluation, s.callSite, format, args...).
		WithChain(s.chain()).
		WithArtifact(s.artifact)
}

// located copies a shared diagnostic (e.g. a memoized dispatch failure) and
// places it at the current call site.
func (s *state) located(de *diag.Error) *diag.Error {
	e := *de
	if !s.callSite.IsZero() {
		e.Span = s.callSite
	}
	e.Chain = s.chain()
	e.Artifact = s.artifact
	return &e
}
