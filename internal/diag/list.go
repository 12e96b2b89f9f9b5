package diag

import (
	"errors"
	"sort"
)

// List is an ordered collection of diagnostics.
type List []*Error

// Add appends a diagnostic, ignoring nil.
func (l *List) Add(e *Error) {
	if e != nil {
		*l = append(*l, e)
	}
}

// AddErr appends err if it is a diagnostic; other errors are wrapped as
// evaluation errors at span.
func (l *List) AddErr(err error, span Span) {
	if err == nil {
		return
	}
	if de, ok := As(err); ok {
		l.Add(de)
		return
	}
	e := NewEvaluationError(span, err.Error())
	e.Cause = err
	l.Add(e)
}

// Extend appends every diagnostic in other.
func (l *List) Extend(other List) {
	*l = append(*l, other...)
}

// HasFatal reports whether any diagnostic aborts the run.
func (l List) HasFatal() bool {
	for _, e := range l {
		if e.Severity == SeverityFatal {
			return true
		}
	}
	return false
}

// HasErrors reports whether any diagnostic is an error or worse.
func (l List) HasErrors() bool {
	for _, e := range l {
		if e.Severity >= SeverityError {
			return true
		}
	}
	return false
}

// OfKind returns the diagnostics of one kind, preserving order.
func (l List) OfKind(kind Kind) List {
	var out List
	for _, e := range l {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// ForArtifact returns the diagnostics scoped to one artifact.
func (l List) ForArtifact(id string) List {
	var out List
	for _, e := range l {
		if e.Artifact == id {
			out = append(out, e)
		}
	}
	return out
}

// Sort orders diagnostics by severity (most severe first), then by file and
// position, so reports are stable across parallel runs.
func (l List) Sort() {
	sort.SliceStable(l, func(i, j int) bool {
		a, b := l[i], l[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Span.File != b.Span.File {
			return a.Span.File < b.Span.File
		}
		if a.Span.Start.Offset != b.Span.Start.Offset {
			return a.Span.Start.Offset < b.Span.Start.Offset
		}
		return a.Message < b.Message
	})
}

// Err joins all error-or-worse diagnostics, or returns nil.
func (l List) Err() error {
	var errs []error
	for _, e := range l {
		if e.Severity >= SeverityError {
			errs = append(errs, e)
		}
	}
	return errors.Join(errs...)
}
