package diag

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func span(file string, line, col, off int) Span {
	return Span{
		File:  file,
		Start: Position{Offset: off, Line: line, Column: col},
		End:   Position{Offset: off + 1, Line: line, Column: col + 1},
	}
}

func TestError_Message(t *testing.T) {
	e := NewEvaluationError(span("models/a.sql", 3, 7, 40), "undefined: foo")
	assert.Equal(t, "models/a.sql:3:7: EvaluationError: undefined: foo", e.Error())
	assert.Equal(t, SeverityError, e.Severity)
}

func TestError_DefaultSeverity(t *testing.T) {
	tests := []struct {
		kind Kind
		want Severity
	}{
		{KindDiscovery, SeverityFatal},
		{KindDuplicateMacro, SeverityFatal},
		{KindCyclicDependency, SeverityFatal},
		{KindUnresolvedMacro, SeverityError},
		{KindSyntax, SeverityError},
		{KindEvaluation, SeverityError},
		{KindUnresolvedReference, SeverityError},
		{KindWarning, SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.kind, Span{}, "x").Severity)
		})
	}
}

func TestError_AsThroughWrapping(t *testing.T) {
	inner := NewUnresolvedMacroError(span("m.sql", 1, 1, 0), "bar", "redshift")
	wrapped := fmt.Errorf("rendering: %w", inner)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.True(t, IsKind(wrapped, KindUnresolvedMacro))
	assert.False(t, IsKind(wrapped, KindSyntax))
	assert.Equal(t, "bar", got.Macro)
	assert.Equal(t, "redshift", got.Adapter)
}

func TestError_DetailChain(t *testing.T) {
	e := NewEvaluationError(span("macros/y.sql", 2, 4, 20), "boom").WithChain([]Frame{
		{Name: "proj.y", Callee: span("macros/y.sql", 1, 1, 0), CallSite: span("macros/x.sql", 2, 3, 15)},
		{Name: "proj.x", Callee: span("macros/x.sql", 1, 1, 0), CallSite: span("models/m.sql", 1, 8, 7)},
		{Name: "proj.m", Callee: span("models/m.sql", 1, 1, 0)},
	})

	want := "macros/y.sql:2:4: EvaluationError: boom" +
		"\n  in proj.y (macros/y.sql:1:1) at macros/x.sql:2:3" +
		"\n  called from proj.x (macros/x.sql:1:1) at models/m.sql:1:8" +
		"\n  called from proj.m (models/m.sql:1:1)"
	assert.Equal(t, want, e.Detail())
}

func TestError_Cycle(t *testing.T) {
	e := NewCyclicDependencyError([]string{"p.a", "p.b", "p.c", "p.a"})
	assert.Equal(t, "CyclicDependencyError: dependency cycle: p.a -> p.b -> p.c -> p.a", e.Error())
	assert.Equal(t, SeverityFatal, e.Severity)
}

func TestList_SortAndFilter(t *testing.T) {
	var l List
	l.Add(NewWarning(span("b.sql", 1, 1, 0), "w"))
	l.Add(NewSyntaxError(span("b.sql", 2, 1, 10), "s2").WithArtifact("p.b"))
	l.Add(NewSyntaxError(span("a.sql", 5, 1, 50), "s1").WithArtifact("p.a"))
	l.Add(NewCyclicDependencyError([]string{"x", "x"}))
	l.Add(nil)

	require.Len(t, l, 4)
	l.Sort()

	assert.Equal(t, KindCyclicDependency, l[0].Kind)
	assert.Equal(t, "s1", l[1].Message)
	assert.Equal(t, "s2", l[2].Message)
	assert.Equal(t, KindWarning, l[3].Kind)

	assert.True(t, l.HasFatal())
	assert.True(t, l.HasErrors())
	assert.Len(t, l.OfKind(KindSyntax), 2)
	assert.Len(t, l.ForArtifact("p.a"), 1)
}

func TestList_AddErrWrapsForeignErrors(t *testing.T) {
	var l List
	l.AddErr(errors.New("plain"), span("a.sql", 1, 1, 0))
	l.AddErr(NewSyntaxError(Span{}, "syntax"), Span{})
	l.AddErr(nil, Span{})

	require.Len(t, l, 2)
	assert.Equal(t, KindEvaluation, l[0].Kind)
	assert.Equal(t, KindSyntax, l[1].Kind)
	assert.Error(t, l.Err())
}

func TestList_ErrIgnoresWarnings(t *testing.T) {
	l := List{NewWarning(Span{}, "only a warning")}
	assert.NoError(t, l.Err())
	assert.False(t, l.HasErrors())
}
