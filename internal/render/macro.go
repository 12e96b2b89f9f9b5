package render

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/sqlweave/internal/diag"
	"github.com/leapstack-labs/sqlweave/internal/macro"
	starctx "github.com/leapstack-labs/sqlweave/internal/starlark"
	"github.com/leapstack-labs/sqlweave/internal/template"
	"go.starlark.net/starlark"
)

// Macro is the Starlark callable for a macro definition. It holds no
// per-call state; the caller's state is taken from the thread.
type Macro struct {
	def *macro.Definition

	// local marks a macro defined in the template being rendered. Its body
	// also sees the template's other local macros.
	local bool
}

var _ starlark.Callable = (*Macro)(nil)

// Definition returns the macro definition.
func (m *Macro) Definition() *macro.Definition { return m.def }

func (m *Macro) Name() string          { return m.def.Name }
func (m *Macro) String() string        { return "<macro " + m.def.QualifiedName() + ">" }
func (m *Macro) Type() string          { return "macro" }
func (m *Macro) Freeze()               {}
func (m *Macro) Truth() starlark.Bool  { return starlark.True }
func (m *Macro) Hash() (uint32, error) { return starlark.String(m.def.QualifiedName()).Hash() }

// CallInternal binds arguments, pushes a frame and evaluates the body. The
// result is the value of a {* return *} statement, or the rendered text.
func (m *Macro) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	st := stateOf(thread)
	if st == nil {
		return nil, fmt.Errorf("macro %s called outside a render", m.def.Name)
	}

	if st.depth() >= st.r.env.MaxDepth {
		return nil, diag.NewRecursionLimitError(st.callSite, m.def.QualifiedName(), st.r.env.MaxDepth).
			WithChain(st.chain()).
			WithArtifact(st.artifact)
	}

	callSite := st.callSite
	st.frames = append(st.frames, diag.Frame{Name: m.def.QualifiedName(), Callee: m.def.Span, CallSite: callSite})
	defer func() {
		st.frames = st.frames[:len(st.frames)-1]
		st.callSite = callSite
	}()

	scope := starctx.NewScope(st.r.globals[m.def.Package])
	if m.local {
		for name, v := range st.locals {
			scope.Set(name, v)
		}
	}
	if st.this != nil {
		scope.Set("this", st.this)
	}

	ev := &evaluator{st: st, thread: thread, scope: scope, inMacro: true}
	if err := ev.bind(m.def, args, kwargs); err != nil {
		return nil, err
	}
	if err := ev.exec(m.def.Body); err != nil {
		return nil, err
	}
	if ev.returned != nil {
		return ev.returned, nil
	}
	return starlark.String(ev.out.String()), nil
}

// bind assigns call arguments to parameters in the evaluator's scope.
// Defaults are evaluated in order, so they may refer to earlier parameters.
func (e *evaluator) bind(def *macro.Definition, args starlark.Tuple, kwargs []starlark.Tuple) error {
	// The call-site frame is already pushed; report binding errors there.
	st := e.st
	fail := func(format string, a ...any) error {
		err := diag.Newf(diag.KindEvaluation, st.frames[len(st.frames)-1].CallSite, format, a...)
		chain := st.chain()
		return err.WithChain(chain[1:]).WithArtifact(st.artifact)
	}

	params := def.Params
	if len(args) > len(params) {
		return fail("macro %q takes at most %d argument(s) (%d given)", def.Name, len(params), len(args))
	}

	values := make([]starlark.Value, len(params))
	copy(values, args)

	for _, kv := range kwargs {
		name := string(kv[0].(starlark.String))
		idx := -1
		for i, p := range params {
			if p.Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fail("macro %q got an unexpected keyword argument %q", def.Name, name)
		}
		if values[idx] != nil {
			return fail("macro %q got multiple values for argument %q", def.Name, name)
		}
		values[idx] = kv[1]
	}

	for i, p := range params {
		v := values[i]
		if v == nil {
			if p.Required() {
				return fail("macro %q missing required argument %q", def.Name, p.Name)
			}
			e.st.callSite = def.Span
			dv, err := e.scope.Eval(e.thread, def.File, p.Default)
			if err != nil {
				return e.wrap(err, def.Span)
			}
			v = dv
		}
		if err := checkType(p, v); err != nil {
			return fail("macro %q argument %q: %v", def.Name, p.Name, err)
		}
		e.scope.Set(p.Name, v)
	}
	return nil
}

// checkType validates v against a parameter annotation. Unknown annotations
// are documentation only.
func checkType(p template.Param, v starlark.Value) error {
	want := strings.ToLower(p.Type)
	if want == "" || want == "any" || v == starlark.None {
		return nil
	}

	ok := true
	switch want {
	case "str", "string":
		_, ok = v.(starlark.String)
	case "int":
		_, ok = v.(starlark.Int)
	case "float":
		switch v.(type) {
		case starlark.Float, starlark.Int:
		default:
			ok = false
		}
	case "bool":
		_, ok = v.(starlark.Bool)
	case "list":
		switch v.(type) {
		case *starlark.List, starlark.Tuple:
		default:
			ok = false
		}
	case "dict":
		_, ok = v.(*starlark.Dict)
	case "relation":
		switch v.(type) {
		case *starctx.Relation, starlark.String:
		default:
			ok = false
		}
	}
	if !ok {
		return fmt.Errorf("expected %s, got %s", p.Type, v.Type())
	}
	return nil
}
