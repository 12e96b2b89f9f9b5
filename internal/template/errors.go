package template

import (
	"fmt"

	"github.com/leapstack-labs/sqlweave/internal/diag"
)

// All parse failures are reported as diag.KindSyntax errors so they can be
// collected per artifact alongside evaluation failures.

// NewParseError creates a syntax error at span.
func NewParseError(span diag.Span, msg string) *diag.Error {
	return diag.NewSyntaxError(span, msg)
}

// NewParseErrorf creates a syntax error with formatting.
func NewParseErrorf(span diag.Span, format string, args ...any) *diag.Error {
	return diag.NewSyntaxError(span, fmt.Sprintf(format, args...))
}

// NewUnmatchedBlockError reports a control flow block without its closing
// counterpart, or a closing statement without an opening one.
func NewUnmatchedBlockError(span diag.Span, kind StmtKind) *diag.Error {
	var msg string
	switch kind {
	case StmtFor:
		msg = "unclosed 'for' block (missing 'endfor')"
	case StmtIf:
		msg = "unclosed 'if' block (missing 'endif')"
	case StmtMacro:
		msg = "unclosed 'macro' block (missing 'endmacro')"
	case StmtEndFor:
		msg = "'endfor' without matching 'for'"
	case StmtEndIf:
		msg = "'endif' without matching 'if'"
	case StmtEndMacro:
		msg = "'endmacro' without matching 'macro'"
	case StmtElse:
		msg = "'else' without matching 'if' or 'for'"
	case StmtElif:
		msg = "'elif' without matching 'if'"
	default:
		msg = fmt.Sprintf("unmatched block: %s", kind)
	}
	return diag.NewSyntaxError(span, msg)
}
