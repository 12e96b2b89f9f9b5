package diag

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a diagnostic.
type Kind int

// Kind constants for the compilation error taxonomy.
const (
	KindUnknown Kind = iota
	KindDiscovery
	KindDuplicateMacro
	KindUnresolvedMacro
	KindAmbiguousDispatch
	KindSyntax
	KindEvaluation
	KindRecursionLimit
	KindUnresolvedReference
	KindCyclicDependency
	KindWarning
)

func (k Kind) String() string {
	switch k {
	case KindDiscovery:
		return "DiscoveryError"
	case KindDuplicateMacro:
		return "DuplicateMacroError"
	case KindUnresolvedMacro:
		return "UnresolvedMacroError"
	case KindAmbiguousDispatch:
		return "AmbiguousDispatchError"
	case KindSyntax:
		return "SyntaxError"
	case KindEvaluation:
		return "EvaluationError"
	case KindRecursionLimit:
		return "RecursionLimitError"
	case KindUnresolvedReference:
		return "UnresolvedReferenceError"
	case KindCyclicDependency:
		return "CyclicDependencyError"
	case KindWarning:
		return "Warning"
	default:
		return "Error"
	}
}

// Severity tells the caller how far a diagnostic reaches.
type Severity int

// Severity constants, ordered from least to most severe.
const (
	// SeverityWarning never blocks compilation.
	SeverityWarning Severity = iota
	// SeverityError invalidates a single artifact (or edge).
	SeverityError
	// SeverityFatal aborts the whole run, or is fatal to graph consumers.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// defaultSeverity maps each kind to its propagation scope.
func defaultSeverity(k Kind) Severity {
	switch k {
	case KindDiscovery, KindDuplicateMacro, KindCyclicDependency:
		return SeverityFatal
	case KindWarning:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// Error is a diagnostic with full provenance. Every error produced by the
// compiler is an *Error so callers can classify it with errors.As.
type Error struct {
	Kind     Kind
	Severity Severity
	Message  string

	// Span is the primary location.
	Span Span
	// Related holds secondary locations (e.g. the first definition of a
	// duplicated macro).
	Related []Span
	// Chain is the macro expansion stack, innermost frame first.
	Chain []Frame

	// Artifact is the id of the artifact the diagnostic is scoped to, if any.
	Artifact string

	// Structured details used by tests and the CLI.
	Macro   string   // macro base name (dispatch errors)
	Adapter string   // adapter identity (dispatch errors)
	Path    []string // cycle path

	Cause error
}

// New creates a diagnostic with the default severity for kind.
func New(kind Kind, span Span, msg string) *Error {
	return &Error{Kind: kind, Severity: defaultSeverity(kind), Span: span, Message: msg}
}

// Newf creates a diagnostic with a formatted message.
func Newf(kind Kind, span Span, format string, args ...any) *Error {
	return New(kind, span, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	var b strings.Builder
	if !e.Span.IsZero() {
		b.WriteString(e.Span.String())
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Detail renders the error with its related spans and "called from" chain.
func (e *Error) Detail() string {
	var b strings.Builder
	b.WriteString(e.Error())
	for _, r := range e.Related {
		b.WriteString("\n  see also: ")
		b.WriteString(r.String())
	}
	for i, f := range e.Chain {
		if i == 0 {
			b.WriteString("\n  in ")
		} else {
			b.WriteString("\n  called from ")
		}
		b.WriteString(f.Name)
		b.WriteString(" (")
		b.WriteString(f.Callee.String())
		b.WriteString(")")
		if !f.CallSite.IsZero() {
			b.WriteString(" at ")
			b.WriteString(f.CallSite.String())
		}
	}
	return b.String()
}

// WithChain attaches an expansion stack (innermost first) and returns e.
func (e *Error) WithChain(chain []Frame) *Error {
	e.Chain = chain
	return e
}

// WithArtifact scopes the diagnostic to an artifact and returns e.
func (e *Error) WithArtifact(id string) *Error {
	if e.Artifact == "" {
		e.Artifact = id
	}
	return e
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsKind reports whether err wraps a diagnostic of the given kind.
func IsKind(err error, kind Kind) bool {
	de, ok := As(err)
	return ok && de.Kind == kind
}

// NewDiscoveryError reports an invalid or unreadable package path.
func NewDiscoveryError(path string, cause error) *Error {
	e := Newf(KindDiscovery, Span{File: path}, "cannot read package at %q", path)
	e.Cause = cause
	return e
}

// NewDuplicateMacroError reports a same-package redefinition.
func NewDuplicateMacroError(pkg, name string, first, second Span) *Error {
	e := Newf(KindDuplicateMacro, second, "macro %q is defined more than once in package %q", name, pkg)
	e.Related = []Span{first}
	e.Macro = name
	return e
}

// NewUnresolvedMacroError reports a dispatch with no implementation.
func NewUnresolvedMacroError(span Span, base, adapter string) *Error {
	e := Newf(KindUnresolvedMacro, span,
		"no implementation of macro %q for adapter %q (searched %s__%s, its ancestors and default__%s)",
		base, adapter, adapter, base, base)
	e.Macro = base
	e.Adapter = adapter
	return e
}

// NewAmbiguousDispatchError reports two equal-precedence packages providing
// the same override.
func NewAmbiguousDispatchError(span Span, candidate string, first, second Span) *Error {
	e := Newf(KindAmbiguousDispatch, second,
		"macro %q is provided by two packages with equal precedence", candidate)
	if !span.IsZero() {
		e.Span = span
	}
	e.Related = []Span{first, second}
	e.Macro = candidate
	return e
}

// NewSyntaxError reports a template that cannot be parsed.
func NewSyntaxError(span Span, msg string) *Error {
	return New(KindSyntax, span, msg)
}

// NewEvaluationError reports a failure while evaluating a template.
func NewEvaluationError(span Span, msg string) *Error {
	return New(KindEvaluation, span, msg)
}

// NewRecursionLimitError reports runaway macro recursion.
func NewRecursionLimitError(span Span, name string, limit int) *Error {
	e := Newf(KindRecursionLimit, span, "maximum macro call depth %d exceeded calling %q", limit, name)
	e.Macro = name
	return e
}

// NewUnresolvedReferenceError reports a dangling ref() or source() call.
func NewUnresolvedReferenceError(span Span, artifact, target string) *Error {
	e := Newf(KindUnresolvedReference, span, "%s depends on %s which was not found", artifact, target)
	e.Artifact = artifact
	return e
}

// NewCyclicDependencyError reports a dependency cycle. Path repeats the first
// node at the end, e.g. [a b c a].
func NewCyclicDependencyError(path []string) *Error {
	e := Newf(KindCyclicDependency, Span{}, "dependency cycle: %s", strings.Join(path, " -> "))
	e.Path = path
	return e
}

// NewWarning creates a warning diagnostic.
func NewWarning(span Span, msg string) *Error {
	return New(KindWarning, span, msg)
}
