// Package macro indexes macro definitions across packages without executing
// them. A definition is keyed within its package by (base name, adapter
// prefix): "default__concat" has base "concat" and prefix "default",
// "snowflake__concat" has prefix "snowflake", and "concat" is a plain macro
// with prefix "".
package macro

import (
	"strings"

	"github.com/leapstack-labs/sqlweave/internal/adapter"
	"github.com/leapstack-labs/sqlweave/internal/diag"
	"github.com/leapstack-labs/sqlweave/internal/template"
)

// Definition is a parsed macro.
type Definition struct {
	// Name is the declared name ("snowflake__concat").
	Name    string
	Base    string
	Prefix  string
	Package string
	File    string
	Params  []template.Param
	Body    []template.Node
	// Span is the defining span of the whole macro block.
	Span diag.Span
	Doc  string
}

// QualifiedName returns "package.name".
func (d *Definition) QualifiedName() string {
	return d.Package + "." + d.Name
}

// Dispatchable reports whether the definition is an adapter implementation
// reachable through adapter.dispatch.
func (d *Definition) Dispatchable() bool { return d.Prefix != "" }

// Signature renders the parameter list, e.g. "concat(fields: list)".
func (d *Definition) Signature() string {
	parts := make([]string, len(d.Params))
	for i, p := range d.Params {
		parts[i] = p.String()
	}
	return d.Name + "(" + strings.Join(parts, ", ") + ")"
}

// SplitName applies the dispatch naming convention. known is the set of
// adapter identity names (including "default"); an unknown prefix makes
// the whole name a plain macro.
func SplitName(name string, known map[string]bool) (base, prefix string) {
	idx := strings.Index(name, "__")
	if idx <= 0 || idx+2 >= len(name) {
		return name, ""
	}
	p := name[:idx]
	if p == adapter.Default || known[p] {
		return name[idx+2:], p
	}
	return name, ""
}
