package render

import (
	"errors"
	"strings"

	"github.com/leapstack-labs/sqlweave/internal/diag"
	starctx "github.com/leapstack-labs/sqlweave/internal/starlark"
	"github.com/leapstack-labs/sqlweave/internal/template"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// maxLoopItems bounds a single for loop.
const maxLoopItems = 1 << 20

// evaluator walks one template body (a model or one macro invocation).
type evaluator struct {
	st      *state
	thread  *starlark.Thread
	scope   *starctx.Scope
	inMacro bool

	out      strings.Builder
	returned starlark.Value
}

// exec renders nodes in order, stopping after a return statement.
func (e *evaluator) exec(nodes []template.Node) error {
	for _, n := range nodes {
		if e.returned != nil {
			return nil
		}
		if err := e.node(n); err != nil {
			return err
		}
	}
	return nil
}

func (e *evaluator) node(n template.Node) error {
	switch n := n.(type) {
	case *template.TextNode:
		e.out.WriteString(n.Text)
		return nil

	case *template.CommentNode, *template.MacroBlock:
		return nil

	case *template.ExprNode:
		v, err := e.eval(n.Expr, n.Span())
		if err != nil {
			return err
		}
		e.out.WriteString(starctx.ToText(v))
		return nil

	case *template.SetNode:
		v, err := e.eval(n.Expr, n.Span())
		if err != nil {
			return err
		}
		e.scope.Assign(n.Name, v)
		return nil

	case *template.ReturnNode:
		if !e.inMacro {
			e.st.callSite = n.Span()
			return e.st.errorf("return outside of a macro")
		}
		v, err := e.eval(n.Expr, n.Span())
		if err != nil {
			return err
		}
		e.returned = v
		return nil

	case *template.IfBlock:
		return e.ifBlock(n)

	case *template.ForBlock:
		return e.forBlock(n)

	default:
		e.st.callSite = n.Span()
		return e.st.errorf("unsupported template node %T", n)
	}
}

func (e *evaluator) ifBlock(n *template.IfBlock) error {
	ok, err := e.truth(n.Condition, n.Span())
	if err != nil {
		return err
	}
	if ok {
		return e.exec(n.Body)
	}
	for _, b := range n.ElseIfs {
		ok, err := e.truth(b.Condition, b.Span)
		if err != nil {
			return err
		}
		if ok {
			return e.exec(b.Body)
		}
	}
	return e.exec(n.Else)
}

func (e *evaluator) truth(expr string, span diag.Span) (bool, error) {
	v, err := e.eval(expr, span)
	if err != nil {
		return false, err
	}
	return bool(v.Truth()), nil
}

// forBlock renders the body once per item. A "loop" variable exposes index
// (1-based), index0, first, last and length. The else branch renders when
// the iterable is empty.
func (e *evaluator) forBlock(n *template.ForBlock) error {
	seq, err := e.eval(n.IterExpr, n.Span())
	if err != nil {
		return err
	}

	iter := starlark.Iterate(seq)
	if iter == nil {
		return e.st.errorf("cannot iterate over %s", seq.Type())
	}
	var items []starlark.Value
	var item starlark.Value
	for iter.Next(&item) {
		if len(items) >= maxLoopItems {
			iter.Done()
			return e.st.errorf("for loop exceeds %d items", maxLoopItems)
		}
		items = append(items, item)
	}
	iter.Done()

	if len(items) == 0 {
		return e.exec(n.Else)
	}

	e.scope.Push()
	defer e.scope.Pop()

	for i, item := range items {
		if err := e.bindLoopVars(n, item); err != nil {
			return err
		}
		e.scope.Set("loop", starlarkstruct.FromStringDict(starlark.String("loop"), starlark.StringDict{
			"index":  starlark.MakeInt(i + 1),
			"index0": starlark.MakeInt(i),
			"first":  starlark.Bool(i == 0),
			"last":   starlark.Bool(i == len(items)-1),
			"length": starlark.MakeInt(len(items)),
		}))

		if err := e.exec(n.Body); err != nil {
			return err
		}
		if e.returned != nil {
			return nil
		}
	}
	return nil
}

func (e *evaluator) bindLoopVars(n *template.ForBlock, item starlark.Value) error {
	if len(n.VarNames) == 1 {
		e.scope.Set(n.VarNames[0], item)
		return nil
	}

	seq, ok := item.(starlark.Indexable)
	if !ok {
		e.st.callSite = n.Span()
		return e.st.errorf("cannot unpack %s into %d loop variables", item.Type(), len(n.VarNames))
	}
	if seq.Len() != len(n.VarNames) {
		e.st.callSite = n.Span()
		return e.st.errorf("cannot unpack %d values into %d loop variables", seq.Len(), len(n.VarNames))
	}
	for i, name := range n.VarNames {
		e.scope.Set(name, seq.Index(i))
	}
	return nil
}

// eval evaluates expr with span as the current call site.
func (e *evaluator) eval(expr string, span diag.Span) (starlark.Value, error) {
	e.st.callSite = span
	v, err := e.scope.Eval(e.thread, span.File, expr)
	if err != nil {
		return nil, e.wrap(err, span)
	}
	return v, nil
}

// wrap converts a Starlark failure into an evaluation error at span.
// Diagnostics raised by nested macros or builtins pass through unchanged so
// they keep the stack from the point they were raised.
func (e *evaluator) wrap(err error, span diag.Span) error {
	if de, ok := diag.As(err); ok {
		return de
	}

	msg := err.Error()
	var evalErr *starlark.EvalError
	var resolveErrs resolve.ErrorList
	switch {
	case errors.As(err, &evalErr):
		msg = evalErr.Msg
	case errors.As(err, &resolveErrs) && len(resolveErrs) > 0:
		msg = resolveErrs[0].Msg
		if name, ok := strings.CutPrefix(msg, "undefined: "); ok {
			msg = "undefined variable " + `"` + name + `"`
		}
	}

	e.st.callSite = span
	return e.st.errorf("%s", msg)
}
