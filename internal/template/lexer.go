package template

import (
	"strings"
	"unicode/utf8"

	"github.com/leapstack-labs/sqlweave/internal/diag"
)

// TokenType identifies the type of token.
type TokenType int

// TokenType constants for template token types.
const (
	TokenText    TokenType = iota // Literal text (SQL)
	TokenExpr                     // Expression content (between {{ and }})
	TokenStmt                     // Statement content (between {* and *})
	TokenComment                  // Comment content (between {# and #})
	TokenEOF                      // End of input
)

func (t TokenType) String() string {
	switch t {
	case TokenText:
		return "TEXT"
	case TokenExpr:
		return "EXPR"
	case TokenStmt:
		return "STMT"
	case TokenComment:
		return "COMMENT"
	case TokenEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	// Span covers the whole token including delimiters.
	Span diag.Span
	// TrimLeft and TrimRight record "-" whitespace control markers,
	// e.g. {*- ... -*}.
	TrimLeft  bool
	TrimRight bool
}

// Pos returns the start of the token.
func (t Token) Pos() diag.Position { return t.Span.Start }

type delimiter struct {
	open, close string
	typ         TokenType
	what        string
}

var delimiters = []delimiter{
	{"{{", "}}", TokenExpr, "expression"},
	{"{*", "*}", TokenStmt, "statement"},
	{"{#", "#}", TokenComment, "comment"},
}

// Lexer tokenizes a template string.
type Lexer struct {
	input string
	file  string
	pos   int // current position in input
	line  int // current line number (1-based)
	col   int // current column number (1-based)
	base  int // offset of input[0] within the file

	start diag.Position // start of current token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input, file string) *Lexer {
	return NewLexerAt(input, file, diag.Position{Offset: 0, Line: 1, Column: 1})
}

// NewLexerAt creates a lexer for input that begins at start within file.
// Used when a prefix of the file (such as frontmatter) was stripped.
func NewLexerAt(input, file string, start diag.Position) *Lexer {
	if !start.IsValid() {
		start = diag.Position{Line: 1, Column: 1}
	}
	return &Lexer{
		input: input,
		file:  file,
		line:  start.Line,
		col:   start.Column,
		base:  start.Offset,
	}
}

// Tokenize converts the input into a slice of tokens.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token

	for {
		tok, err := l.nextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}

	return tokens, nil
}

// nextToken returns the next token from the input.
func (l *Lexer) nextToken() (Token, error) {
	l.markStart()
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Span: l.span()}, nil
	}

	for _, d := range delimiters {
		if l.matchString(d.open) {
			return l.scanDelimited(d)
		}
	}

	return l.scanText()
}

// scanText scans literal text until a delimiter or EOF.
func (l *Lexer) scanText() (Token, error) {
	start := l.pos

	for l.pos < len(l.input) && !l.atDelimiter() {
		l.advance()
	}

	return Token{
		Type:  TokenText,
		Value: l.input[start:l.pos],
		Span:  l.span(),
	}, nil
}

// scanDelimited scans {{ expr }}, {* stmt *} or {# comment #}.
func (l *Lexer) scanDelimited(d delimiter) (Token, error) {
	tok := Token{Type: d.typ}

	l.advanceN(len(d.open))
	if d.typ != TokenComment && l.matchString("-") {
		tok.TrimLeft = true
		l.advance()
	}

	contentStart := l.pos
	depth := 0 // nested braces inside expressions, e.g. dict literals
	var quote rune

	for l.pos < len(l.input) {
		r := l.peek()

		if d.typ != TokenComment {
			if quote != 0 {
				if r == '\\' {
					l.advance()
					l.advance()
					continue
				}
				if r == quote {
					quote = 0
				}
				l.advance()
				continue
			}
			if r == '"' || r == '\'' {
				quote = r
				l.advance()
				continue
			}
		}

		if depth == 0 {
			if d.typ != TokenComment && l.matchString("-"+d.close) {
				tok.TrimRight = true
				tok.Value = strings.TrimSpace(l.input[contentStart:l.pos])
				l.advanceN(1 + len(d.close))
				tok.Span = l.span()
				return tok, nil
			}
			if l.matchString(d.close) {
				tok.Value = strings.TrimSpace(l.input[contentStart:l.pos])
				l.advanceN(len(d.close))
				tok.Span = l.span()
				return tok, nil
			}
		}

		if d.typ == TokenExpr {
			if r == '{' {
				depth++
			} else if r == '}' && depth > 0 {
				depth--
			}
		}

		l.advance()
	}

	return Token{}, diag.NewSyntaxError(l.startSpan(len(d.open)),
		"unclosed "+d.what+": missing '"+d.close+"'")
}

// Helper methods

func (l *Lexer) atDelimiter() bool {
	for _, d := range delimiters {
		if l.matchString(d.open) {
			return true
		}
	}
	return false
}

// peek returns the current rune without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

// advance moves to the next rune, updating position tracking.
func (l *Lexer) advance() {
	if l.pos >= len(l.input) {
		return
	}

	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size

	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

func (l *Lexer) advanceN(n int) {
	for i := 0; i < n; i++ {
		l.advance()
	}
}

// matchString checks if the input at current position matches s.
func (l *Lexer) matchString(s string) bool {
	return strings.HasPrefix(l.input[l.pos:], s)
}

// markStart records the start position for the current token.
func (l *Lexer) markStart() {
	l.start = l.position()
}

// position returns the current position.
func (l *Lexer) position() diag.Position {
	return diag.Position{Offset: l.base + l.pos, Line: l.line, Column: l.col}
}

// span returns the span from the token start to the current position.
func (l *Lexer) span() diag.Span {
	return diag.NewSpan(l.file, l.start, l.position())
}

// startSpan returns a span of n bytes at the token start.
func (l *Lexer) startSpan(n int) diag.Span {
	end := l.start
	end.Offset += n
	end.Column += n
	return diag.NewSpan(l.file, l.start, end)
}
