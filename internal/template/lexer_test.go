package template

import (
	"testing"

	"github.com/leapstack-labs/sqlweave/internal/diag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexer_PlainText(t *testing.T) {
	input := "SELECT * FROM users"
	tokens, err := NewLexer(input, "test.sql").Tokenize()
	require.NoError(t, err)

	require.Len(t, tokens, 2) // TEXT + EOF
	assert.Equal(t, TokenText, tokens[0].Type)
	assert.Equal(t, input, tokens[0].Value)
	assert.Equal(t, TokenEOF, tokens[1].Type)
}

func TestLexer_TokenTypes(t *testing.T) {
	input := "SELECT {{ column }} {* if x: *}{# note #}"
	tokens, err := NewLexer(input, "test.sql").Tokenize()
	require.NoError(t, err)

	expected := []struct {
		typ TokenType
		val string
	}{
		{TokenText, "SELECT "},
		{TokenExpr, "column"},
		{TokenText, " "},
		{TokenStmt, "if x:"},
		{TokenComment, "note"},
		{TokenEOF, ""},
	}

	require.Len(t, tokens, len(expected))
	for i, exp := range expected {
		assert.Equal(t, exp.typ, tokens[i].Type, "token[%d] type", i)
		assert.Equal(t, exp.val, tokens[i].Value, "token[%d] value", i)
	}
}

func TestLexer_Spans(t *testing.T) {
	input := "SELECT {{ column }} FROM users"
	tokens, err := NewLexer(input, "models/users.sql").Tokenize()
	require.NoError(t, err)

	expr := tokens[1]
	assert.Equal(t, "models/users.sql", expr.Span.File)
	assert.Equal(t, diag.Position{Offset: 7, Line: 1, Column: 8}, expr.Pos())
	assert.Equal(t, diag.Position{Offset: 19, Line: 1, Column: 20}, expr.Span.End)
	assert.Equal(t, "{{ column }}", input[expr.Span.Start.Offset:expr.Span.End.Offset])
	assert.Equal(t, "models/users.sql:1:8", expr.Span.String())
}

func TestLexer_MultilinePositions(t *testing.T) {
	input := "SELECT\n  {{ a }},\n  {{ b }}"
	tokens, err := NewLexer(input, "test.sql").Tokenize()
	require.NoError(t, err)

	var exprs []Token
	for _, tok := range tokens {
		if tok.Type == TokenExpr {
			exprs = append(exprs, tok)
		}
	}
	require.Len(t, exprs, 2)
	assert.Equal(t, 2, exprs[0].Pos().Line)
	assert.Equal(t, 3, exprs[0].Pos().Column)
	assert.Equal(t, 3, exprs[1].Pos().Line)
	assert.Equal(t, 3, exprs[1].Pos().Column)
}

func TestLexer_StartOffset(t *testing.T) {
	start := diag.Position{Offset: 40, Line: 5, Column: 1}
	tokens, err := NewLexerAt("x {{ y }}", "m.sql", start).Tokenize()
	require.NoError(t, err)

	assert.Equal(t, diag.Position{Offset: 42, Line: 5, Column: 3}, tokens[1].Pos())
}

func TestLexer_TrimMarkers(t *testing.T) {
	tokens, err := NewLexer("a {*- if x: -*} b {{- y }}", "test.sql").Tokenize()
	require.NoError(t, err)

	require.Len(t, tokens, 5)
	stmt := tokens[1]
	assert.Equal(t, TokenStmt, stmt.Type)
	assert.Equal(t, "if x:", stmt.Value)
	assert.True(t, stmt.TrimLeft)
	assert.True(t, stmt.TrimRight)

	expr := tokens[3]
	assert.Equal(t, "y", expr.Value)
	assert.True(t, expr.TrimLeft)
	assert.False(t, expr.TrimRight)
}

func TestLexer_NestedBracesAndStrings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"dict literal", `{{ {"a": 1}["a"] }}`, `{"a": 1}["a"]`},
		{"closing delimiter in string", `{{ "}}" + x }}`, `"}}" + x`},
		{"escaped quote", `{{ 'it\'s' }}`, `'it\'s'`},
		{"statement with string", `{* set s = "*}" *}`, `set s = "*}"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := NewLexer(tt.input, "test.sql").Tokenize()
			require.NoError(t, err)
			require.Len(t, tokens, 2)
			assert.Equal(t, tt.want, tokens[0].Value)
		})
	}
}

func TestLexer_Unclosed(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"expression", "SELECT {{ x", "unclosed expression: missing '}}'"},
		{"statement", "{* if x:", "unclosed statement: missing '*}'"},
		{"comment", "{# note", "unclosed comment: missing '#}'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLexer(tt.input, "test.sql").Tokenize()
			require.Error(t, err)
			assert.True(t, diag.IsKind(err, diag.KindSyntax))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
