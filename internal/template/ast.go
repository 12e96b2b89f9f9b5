// Package template provides a template processor for SQL files with Starlark expressions.
// It supports {{ expr }} for expression evaluation, {* stmt *} for control flow
// and macro definitions, and {# comment #} for comments.
package template

import "github.com/leapstack-labs/sqlweave/internal/diag"

// Node is the interface for all template AST nodes.
type Node interface {
	Span() diag.Span
	node() // marker method to restrict implementation
}

// nodeBase provides common span handling for all nodes.
type nodeBase struct {
	span diag.Span
}

func (n *nodeBase) Span() diag.Span { return n.span }
func (n *nodeBase) node()           {}

// TextNode represents literal SQL text (passed through unchanged).
type TextNode struct {
	nodeBase
	Text string
}

// ExprNode represents a {{ expr }} expression.
// The Expr field contains the Starlark expression source (without delimiters).
type ExprNode struct {
	nodeBase
	Expr string
}

// CommentNode represents a {# comment #}. It produces no output.
type CommentNode struct {
	nodeBase
	Text string
}

// StmtKind identifies the type of control flow statement.
type StmtKind int

// StmtKind constants for control flow statement types.
const (
	StmtUnknown  StmtKind = iota // Unknown/invalid statement
	StmtFor                      // {* for x in items: *}
	StmtEndFor                   // {* endfor *}
	StmtIf                       // {* if cond: *}
	StmtElif                     // {* elif cond: *}
	StmtElse                     // {* else: *}
	StmtEndIf                    // {* endif *}
	StmtMacro                    // {* macro name(params): *}
	StmtEndMacro                 // {* endmacro *}
	StmtSet                      // {* set name = expr *}
	StmtReturn                   // {* return expr *}
)

func (k StmtKind) String() string {
	switch k {
	case StmtFor:
		return "for"
	case StmtEndFor:
		return "endfor"
	case StmtIf:
		return "if"
	case StmtElif:
		return "elif"
	case StmtElse:
		return "else"
	case StmtEndIf:
		return "endif"
	case StmtMacro:
		return "macro"
	case StmtEndMacro:
		return "endmacro"
	case StmtSet:
		return "set"
	case StmtReturn:
		return "return"
	default:
		return "unknown"
	}
}

// ForBlock represents a complete for loop with its body.
type ForBlock struct {
	nodeBase
	VarNames []string // Loop variable names ("k, v" unpacks pairs)
	IterExpr string   // Iterator expression (evaluated by Starlark)
	Body     []Node   // Nodes inside the loop
	Else     []Node   // Rendered when the iterable is empty (may be nil)
}

// VarName returns the first loop variable.
func (f *ForBlock) VarName() string {
	if len(f.VarNames) == 0 {
		return ""
	}
	return f.VarNames[0]
}

// IfBlock represents a complete if/elif/else conditional.
type IfBlock struct {
	nodeBase
	Condition string   // if condition expression
	Body      []Node   // Nodes for the if branch
	ElseIfs   []Branch // elif branches (may be empty)
	Else      []Node   // else branch (may be nil)
}

// Branch represents an elif branch.
type Branch struct {
	Condition string
	Body      []Node
	Span      diag.Span
}

// SetNode assigns a variable in the current scope.
type SetNode struct {
	nodeBase
	Name string
	Expr string
}

// ReturnNode ends the enclosing macro with a value.
type ReturnNode struct {
	nodeBase
	Expr string
}

// Param is a formal macro parameter.
type Param struct {
	Name string
	// Default is the Starlark source of the default value ("" when required).
	Default string
	// Type is an optional annotation ("str", "list", "relation", ...).
	Type string
}

// Required reports whether the parameter has no default.
func (p Param) Required() bool { return p.Default == "" }

func (p Param) String() string {
	s := p.Name
	if p.Type != "" {
		s += ": " + p.Type
	}
	if p.Default != "" {
		s += "=" + p.Default
	}
	return s
}

// MacroBlock is a {* macro *} ... {* endmacro *} definition.
type MacroBlock struct {
	nodeBase
	Name     string
	Params   []Param
	Body     []Node
	NameSpan diag.Span // span of the opening statement
}

// Docstring returns the first comment in the macro body, if the body starts
// with one (ignoring whitespace).
func (m *MacroBlock) Docstring() string {
	for _, n := range m.Body {
		switch v := n.(type) {
		case *CommentNode:
			return v.Text
		case *TextNode:
			if isBlank(v.Text) {
				continue
			}
			return ""
		default:
			return ""
		}
	}
	return ""
}

// Template represents a complete parsed template.
type Template struct {
	Nodes []Node
	File  string // Source file path
	// Frontmatter holds the YAML config block of a model file, if any.
	Frontmatter map[string]any
}

// Macros returns the top-level macro definitions in document order.
func (t *Template) Macros() []*MacroBlock {
	var out []*MacroBlock
	for _, n := range t.Nodes {
		if m, ok := n.(*MacroBlock); ok {
			out = append(out, m)
		}
	}
	return out
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
