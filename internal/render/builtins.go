package render

import (
	"fmt"

	"github.com/leapstack-labs/sqlweave/internal/diag"
	"github.com/leapstack-labs/sqlweave/internal/dispatch"
	starctx "github.com/leapstack-labs/sqlweave/internal/starlark"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// builtins returns the globals shared by every package: var, project,
// target, env, ref, source, config, adapter and exceptions.
func (r *Renderer) builtins() (starlark.StringDict, error) {
	project, err := r.env.Project.ToStarlark()
	if err != nil {
		return nil, err
	}

	return starlark.StringDict{
		"var":     starlark.NewBuiltin("var", r.builtinVar),
		"project": project,
		"target":  r.env.Target.ToStarlark(),
		"env":     starlark.String(r.env.Target.Name),
		"ref":     starlark.NewBuiltin("ref", r.builtinRef),
		"source":  starlark.NewBuiltin("source", r.builtinSource),
		"config":  starlark.NewBuiltin("config", builtinConfig),
		"adapter": starlarkstruct.FromStringDict(starlark.String("adapter"), starlark.StringDict{
			"name":     starlark.String(r.env.Identity.Name()),
			"parent":   starlark.String(r.env.Identity.Parent()),
			"dispatch": starlark.NewBuiltin("adapter.dispatch", r.builtinDispatch),
		}),
		"exceptions": starlarkstruct.FromStringDict(starlark.String("exceptions"), starlark.StringDict{
			"raise_compiler_error": starlark.NewBuiltin("exceptions.raise_compiler_error", builtinRaise),
			"warn":                 starlark.NewBuiltin("exceptions.warn", builtinWarn),
		}),
	}, nil
}

// var(name, default=None)
func (r *Renderer) builtinVar(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var def starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}

	v, found, err := r.vars.Get(starlark.String(name))
	if err != nil {
		return nil, err
	}
	if found {
		return v, nil
	}
	if def != nil {
		return def, nil
	}
	if st := stateOf(thread); st != nil {
		return nil, st.errorf("required variable %q is not set", name)
	}
	return nil, fmt.Errorf("required variable %q is not set", name)
}

// ref(name) or ref(package, name)
func (r *Renderer) builtinRef(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var first, second string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &first, &second); err != nil {
		return nil, err
	}
	pkg, name := "", first
	if second != "" {
		pkg, name = first, second
	}

	st := stateOf(thread)
	if st == nil {
		return nil, fmt.Errorf("ref called outside a render")
	}
	st.refs = append(st.refs, RefCall{Kind: RefModel, Package: pkg, Name: name, Span: st.callSite, Chain: st.chain()})

	if r.env.Models != nil {
		if m, ok := r.env.Models.Resolve(st.pkg, pkg, name); ok {
			return starctx.NewRelation(m.Database, m.Schema, m.Identifier), nil
		}
	}
	return starctx.NewRelation(r.env.Target.Database, r.env.Target.Schema, name), nil
}

// source(source_name, table_name)
func (r *Renderer) builtinSource(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var source, table string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &source, &table); err != nil {
		return nil, err
	}

	st := stateOf(thread)
	if st == nil {
		return nil, fmt.Errorf("source called outside a render")
	}
	st.refs = append(st.refs, RefCall{Kind: RefSource, Source: source, Name: table, Span: st.callSite, Chain: st.chain()})

	if r.env.Models != nil {
		if t, ok := r.env.Models.ResolveSource(st.pkg, source, table); ok {
			return starctx.NewRelation(t.Database, t.Schema, t.Identifier), nil
		}
	}
	return starctx.NewRelation(r.env.Target.Database, source, table), nil
}

// config(**kwargs) records model configuration and renders nothing.
func builtinConfig(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("%s: only keyword arguments are accepted", b.Name())
	}
	st := stateOf(thread)
	if st == nil {
		return nil, fmt.Errorf("config called outside a render")
	}

	layer := make(map[string]any, len(kwargs))
	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		v, err := starctx.ToGo(kv[1])
		if err != nil {
			return nil, st.errorf("config(%s=...): %v", key, err)
		}
		layer[key] = v
	}
	st.config = mergeConfig(st.config, layer)
	return starlark.None, nil
}

// adapter.dispatch(name, macro_namespace=None) returns the implementation of
// name for the active adapter. The search starts at the package of the
// artifact being rendered, not at the package of the enclosing macro, so a
// project overrides implementations reached through library wrappers.
func (r *Renderer) builtinDispatch(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var namespace starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "macro_namespace?", &namespace); err != nil {
		return nil, err
	}

	st := stateOf(thread)
	if st == nil {
		return nil, fmt.Errorf("adapter.dispatch called outside a render")
	}

	req := dispatch.Request{Base: name, Calling: st.pkg, Identity: r.env.Identity}
	if s, ok := namespace.(starlark.String); ok {
		req.Namespace = string(s)
	} else if namespace != starlark.None {
		return nil, st.errorf("macro_namespace must be a string, got %s", namespace.Type())
	}

	def, err := r.env.Resolver.ResolveRequest(req)
	if err != nil {
		if de, ok := diag.As(err); ok {
			return nil, st.located(de)
		}
		return nil, st.errorf("%v", err)
	}
	return r.MacroValue(def), nil
}

// exceptions.raise_compiler_error(msg)
func builtinRaise(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &msg); err != nil {
		return nil, err
	}
	if st := stateOf(thread); st != nil {
		return nil, st.errorf("%s", msg)
	}
	return nil, fmt.Errorf("%s", msg)
}

// exceptions.warn(msg)
func builtinWarn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &msg); err != nil {
		return nil, err
	}
	if st := stateOf(thread); st != nil {
		w := diag.NewWarning(st.callSite, msg).WithChain(st.chain()).WithArtifact(st.artifact)
		st.warnings.Add(w)
	}
	return starlark.None, nil
}
