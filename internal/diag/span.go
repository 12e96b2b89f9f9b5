// Package diag provides source spans and the diagnostic taxonomy shared by
// every stage of compilation.
package diag

import "fmt"

// Position is a point in a source file.
// Offset is a byte offset; Line and Column are 1-based.
type Position struct {
	Offset int
	Line   int
	Column int
}

// IsValid reports whether the position was set.
func (p Position) IsValid() bool { return p.Line > 0 }

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Before reports whether p comes before q in the same file.
func (p Position) Before(q Position) bool {
	return p.Offset < q.Offset
}

// Span is a half-open range [Start, End) within a file.
type Span struct {
	File  string
	Start Position
	End   Position
}

// NewSpan creates a span in file.
func NewSpan(file string, start, end Position) Span {
	return Span{File: file, Start: start, End: end}
}

// IsZero reports whether the span carries no location.
func (s Span) IsZero() bool {
	return s.File == "" && !s.Start.IsValid()
}

// Len returns the span length in bytes.
func (s Span) Len() int {
	return s.End.Offset - s.Start.Offset
}

// Contains reports whether o lies within s.
func (s Span) Contains(o Span) bool {
	return s.File == o.File && s.Start.Offset <= o.Start.Offset && o.End.Offset <= s.End.Offset
}

func (s Span) String() string {
	switch {
	case s.IsZero():
		return "<unknown>"
	case s.File == "":
		return s.Start.String()
	case !s.Start.IsValid():
		return s.File
	default:
		return fmt.Sprintf("%s:%d:%d", s.File, s.Start.Line, s.Start.Column)
	}
}

// Frame is one level of macro expansion: the macro that was entered, where it
// is defined, and where it was called from.
type Frame struct {
	// Name is the qualified name of the callee (e.g. "dbt_utils.default__star")
	// or the artifact id for the outermost frame.
	Name string
	// Callee is the defining span of the macro (or the artifact file).
	Callee Span
	// CallSite is the span of the invoking expression in the caller.
	// Zero for the outermost frame.
	CallSite Span
}

func (f Frame) String() string {
	if f.CallSite.IsZero() {
		return fmt.Sprintf("%s (%s)", f.Name, f.Callee)
	}
	return fmt.Sprintf("%s (%s) called from %s", f.Name, f.Callee, f.CallSite)
}
