package starlark

import (
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// fileOptions is the Starlark dialect used for template expressions.
var fileOptions = &syntax.FileOptions{Set: true, While: true, TopLevelControl: true}

// Scope is the variable environment for template evaluation: a fixed set of
// globals plus a stack of local frames. Inner frames shadow outer ones.
// A Scope is owned by a single rendering goroutine.
type Scope struct {
	globals starlark.StringDict
	frames  []starlark.StringDict

	// env caches the flattened environment until the next mutation.
	env starlark.StringDict
}

// NewScope creates a scope over globals with one empty local frame.
func NewScope(globals starlark.StringDict) *Scope {
	return &Scope{
		globals: globals,
		frames:  []starlark.StringDict{{}},
	}
}

// Globals returns the global bindings.
func (s *Scope) Globals() starlark.StringDict { return s.globals }

// Push opens a nested frame.
func (s *Scope) Push() {
	s.frames = append(s.frames, starlark.StringDict{})
	s.env = nil
}

// Pop discards the innermost frame. The outermost frame is never popped.
func (s *Scope) Pop() {
	if len(s.frames) > 1 {
		s.frames = s.frames[:len(s.frames)-1]
		s.env = nil
	}
}

// Set binds name in the innermost frame.
func (s *Scope) Set(name string, v starlark.Value) {
	s.frames[len(s.frames)-1][name] = v
	s.env = nil
}

// Assign rebinds name in the nearest frame that defines it, or the innermost
// frame when no frame does.
func (s *Scope) Assign(name string, v starlark.Value) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if _, ok := s.frames[i][name]; ok {
			s.frames[i][name] = v
			s.env = nil
			return
		}
	}
	s.Set(name, v)
}

// Lookup finds name in locals, then globals.
func (s *Scope) Lookup(name string) (starlark.Value, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if v, ok := s.frames[i][name]; ok {
			return v, true
		}
	}
	v, ok := s.globals[name]
	return v, ok
}

// Env returns the flattened environment (locals take precedence).
func (s *Scope) Env() starlark.StringDict {
	if s.env != nil {
		return s.env
	}
	env := make(starlark.StringDict, len(s.globals)+8)
	for k, v := range s.globals {
		env[k] = v
	}
	for _, f := range s.frames {
		for k, v := range f {
			env[k] = v
		}
	}
	s.env = env
	return env
}

// Eval evaluates a single Starlark expression in this scope.
// filename is used for Starlark's own error positions.
func (s *Scope) Eval(thread *starlark.Thread, filename, expr string) (starlark.Value, error) {
	return starlark.EvalOptions(fileOptions, thread, filename, expr, s.Env())
}

// EvalString evaluates expr and renders the result as template text.
func (s *Scope) EvalString(thread *starlark.Thread, filename, expr string) (string, error) {
	v, err := s.Eval(thread, filename, expr)
	if err != nil {
		return "", err
	}
	return ToText(v), nil
}
