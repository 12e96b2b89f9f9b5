package template

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/sqlweave/internal/diag"
	"go.starlark.net/syntax"
)

var (
	forPattern   = regexp.MustCompile(`(?s)^for\s+(.+?)\s+in\s+(.+?)\s*:?$`)
	ifPattern    = regexp.MustCompile(`(?s)^(if|elif)\s+(.+?)\s*:?$`)
	macroPattern = regexp.MustCompile(`(?s)^macro\s+([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)\s*:?$`)
	setPattern   = regexp.MustCompile(`(?s)^set\s+([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.+)$`)
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// stmt is a classified {* ... *} token.
type stmt struct {
	kind StmtKind
	tok  Token

	vars  []string // for
	expr  string   // for iterable, if/elif condition, set/return value
	name  string   // macro or set target
	parms []Param  // macro
}

// Parser builds a Template from tokens.
type Parser struct {
	tokens []Token
	pos    int
	file   string
}

// ParseString parses template source.
func ParseString(input, file string) (*Template, error) {
	return parseAt(input, file, diag.Position{Line: 1, Column: 1})
}

// ParseModel parses a model file, extracting a leading /*--- yaml ---*/
// frontmatter block into Template.Frontmatter. Spans in the body keep their
// original file offsets.
func ParseModel(input, file string) (*Template, error) {
	fm, err := ExtractFrontmatter(input, file)
	if err != nil {
		return nil, err
	}
	tmpl, err := parseAt(fm.Body, file, fm.BodyStart)
	if err != nil {
		return nil, err
	}
	tmpl.Frontmatter = fm.Config
	return tmpl, nil
}

func parseAt(input, file string, start diag.Position) (*Template, error) {
	tokens, err := NewLexerAt(input, file, start).Tokenize()
	if err != nil {
		return nil, err
	}

	p := &Parser{tokens: applyWhitespaceControl(tokens), file: file}
	nodes, end, err := p.parseNodes(true)
	if err != nil {
		return nil, err
	}
	if end != nil {
		return nil, NewUnmatchedBlockError(end.tok.Span, end.kind)
	}

	return &Template{Nodes: nodes, File: file}, nil
}

// applyWhitespaceControl honours {*- / -*} markers by trimming the adjacent
// text tokens, then drops text tokens that became empty.
func applyWhitespaceControl(tokens []Token) []Token {
	for i, tok := range tokens {
		if tok.TrimLeft && i > 0 && tokens[i-1].Type == TokenText {
			tokens[i-1].Value = strings.TrimRight(tokens[i-1].Value, " \t\r\n")
		}
		if tok.TrimRight && i+1 < len(tokens) && tokens[i+1].Type == TokenText {
			tokens[i+1].Value = strings.TrimLeft(tokens[i+1].Value, " \t\r\n")
		}
	}

	out := tokens[:0]
	for _, tok := range tokens {
		if tok.Type == TokenText && tok.Value == "" {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// parseNodes parses until EOF or a block-closing statement (endfor, endif,
// elif, else, endmacro), which is returned to the caller unconsumed by any
// node.
func (p *Parser) parseNodes(topLevel bool) ([]Node, *stmt, error) {
	var nodes []Node

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		p.pos++

		switch tok.Type {
		case TokenEOF:
			return nodes, nil, nil

		case TokenText:
			nodes = append(nodes, &TextNode{nodeBase: nodeBase{span: tok.Span}, Text: tok.Value})

		case TokenComment:
			nodes = append(nodes, &CommentNode{nodeBase: nodeBase{span: tok.Span}, Text: tok.Value})

		case TokenExpr:
			if err := validateExpr(tok.Value, tok.Span); err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, &ExprNode{nodeBase: nodeBase{span: tok.Span}, Expr: tok.Value})

		case TokenStmt:
			s, err := classify(tok)
			if err != nil {
				return nil, nil, err
			}

			switch s.kind {
			case StmtEndFor, StmtEndIf, StmtElif, StmtElse, StmtEndMacro:
				return nodes, s, nil

			case StmtFor:
				n, err := p.parseFor(s)
				if err != nil {
					return nil, nil, err
				}
				nodes = append(nodes, n)

			case StmtIf:
				n, err := p.parseIf(s)
				if err != nil {
					return nil, nil, err
				}
				nodes = append(nodes, n)

			case StmtMacro:
				if !topLevel {
					return nil, nil, NewParseError(tok.Span, "macro definitions are only allowed at the top level")
				}
				n, err := p.parseMacro(s)
				if err != nil {
					return nil, nil, err
				}
				nodes = append(nodes, n)

			case StmtSet:
				nodes = append(nodes, &SetNode{nodeBase: nodeBase{span: tok.Span}, Name: s.name, Expr: s.expr})

			case StmtReturn:
				nodes = append(nodes, &ReturnNode{nodeBase: nodeBase{span: tok.Span}, Expr: s.expr})
			}
		}
	}

	return nodes, nil, nil
}

func (p *Parser) parseFor(open *stmt) (*ForBlock, error) {
	block := &ForBlock{
		nodeBase: nodeBase{span: open.tok.Span},
		VarNames: open.vars,
		IterExpr: open.expr,
	}

	body, end, err := p.parseNodes(false)
	if err != nil {
		return nil, err
	}
	block.Body = body

	if end != nil && end.kind == StmtElse {
		elseBody, elseEnd, err := p.parseNodes(false)
		if err != nil {
			return nil, err
		}
		block.Else = elseBody
		if block.Else == nil {
			block.Else = []Node{}
		}
		end = elseEnd
	}

	if end == nil {
		return nil, NewUnmatchedBlockError(open.tok.Span, StmtFor)
	}
	if end.kind != StmtEndFor {
		return nil, NewUnmatchedBlockError(end.tok.Span, end.kind)
	}
	block.span = spanTo(open.tok.Span, end.tok.Span)
	return block, nil
}

func (p *Parser) parseIf(open *stmt) (*IfBlock, error) {
	block := &IfBlock{
		nodeBase:  nodeBase{span: open.tok.Span},
		Condition: open.expr,
	}

	body, end, err := p.parseNodes(false)
	if err != nil {
		return nil, err
	}
	block.Body = body

	for end != nil && end.kind == StmtElif {
		branch := Branch{Condition: end.expr, Span: end.tok.Span}
		branch.Body, end, err = p.parseNodes(false)
		if err != nil {
			return nil, err
		}
		block.ElseIfs = append(block.ElseIfs, branch)
	}

	if end != nil && end.kind == StmtElse {
		var elseBody []Node
		elseBody, end, err = p.parseNodes(false)
		if err != nil {
			return nil, err
		}
		if elseBody == nil {
			elseBody = []Node{}
		}
		block.Else = elseBody
	}

	if end == nil {
		return nil, NewUnmatchedBlockError(open.tok.Span, StmtIf)
	}
	if end.kind != StmtEndIf {
		return nil, NewUnmatchedBlockError(end.tok.Span, end.kind)
	}
	block.span = spanTo(open.tok.Span, end.tok.Span)
	return block, nil
}

func (p *Parser) parseMacro(open *stmt) (*MacroBlock, error) {
	block := &MacroBlock{
		nodeBase: nodeBase{span: open.tok.Span},
		Name:     open.name,
		Params:   open.parms,
		NameSpan: open.tok.Span,
	}

	body, end, err := p.parseNodes(false)
	if err != nil {
		return nil, err
	}
	if end == nil {
		return nil, NewUnmatchedBlockError(open.tok.Span, StmtMacro)
	}
	if end.kind != StmtEndMacro {
		return nil, NewUnmatchedBlockError(end.tok.Span, end.kind)
	}
	block.Body = body
	block.span = spanTo(open.tok.Span, end.tok.Span)
	return block, nil
}

// classify turns a statement token into a typed statement.
func classify(tok Token) (*stmt, error) {
	src := tok.Value
	s := &stmt{tok: tok}
	keyword := src
	if i := strings.IndexAny(src, " \t\n(:"); i >= 0 {
		keyword = src[:i]
	}

	switch keyword {
	case "endfor":
		s.kind = StmtEndFor
	case "endif":
		s.kind = StmtEndIf
	case "endmacro":
		s.kind = StmtEndMacro
	case "else":
		if strings.TrimSpace(strings.TrimSuffix(src, ":")) != "else" {
			return nil, NewParseErrorf(tok.Span, "unexpected text after 'else': %q", src)
		}
		s.kind = StmtElse

	case "for":
		m := forPattern.FindStringSubmatch(src)
		if m == nil {
			return nil, NewParseErrorf(tok.Span, "invalid for statement: %q (expected 'for x in items:')", src)
		}
		for _, v := range strings.Split(m[1], ",") {
			v = strings.TrimSpace(v)
			if !identPattern.MatchString(v) {
				return nil, NewParseErrorf(tok.Span, "invalid loop variable %q", v)
			}
			s.vars = append(s.vars, v)
		}
		s.kind = StmtFor
		s.expr = m[2]

	case "if", "elif":
		m := ifPattern.FindStringSubmatch(src)
		if m == nil {
			return nil, NewParseErrorf(tok.Span, "%s statement requires a condition", keyword)
		}
		s.kind = StmtIf
		if keyword == "elif" {
			s.kind = StmtElif
		}
		s.expr = m[2]

	case "macro":
		m := macroPattern.FindStringSubmatch(src)
		if m == nil {
			return nil, NewParseErrorf(tok.Span, "invalid macro statement: %q (expected 'macro name(params):')", src)
		}
		params, err := ParseParams(m[2], tok.Span)
		if err != nil {
			return nil, err
		}
		s.kind = StmtMacro
		s.name = m[1]
		s.parms = params
		return s, nil

	case "set":
		m := setPattern.FindStringSubmatch(src)
		if m == nil {
			return nil, NewParseErrorf(tok.Span, "invalid set statement: %q (expected 'set name = expr')", src)
		}
		s.kind = StmtSet
		s.name = m[1]
		s.expr = strings.TrimSpace(m[2])

	case "return":
		s.kind = StmtReturn
		s.expr = strings.TrimSpace(strings.TrimPrefix(src, "return"))
		if s.expr == "" {
			return nil, NewParseError(tok.Span, "return statement requires a value")
		}

	default:
		return nil, NewParseErrorf(tok.Span, "unknown statement %q", keyword)
	}

	if s.expr != "" {
		if err := validateExpr(s.expr, tok.Span); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ParseParams parses a macro parameter list such as
// `relation, column: str, quote=True`.
func ParseParams(src string, span diag.Span) ([]Param, error) {
	var params []Param
	seen := make(map[string]bool)
	optional := false

	for _, part := range splitTopLevel(src, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var p Param
		nameType := part
		if i := indexTopLevel(part, '='); i >= 0 {
			nameType = strings.TrimSpace(part[:i])
			p.Default = strings.TrimSpace(part[i+1:])
			if p.Default == "" {
				return nil, NewParseErrorf(span, "parameter %q has an empty default", nameType)
			}
			if err := validateExpr(p.Default, span); err != nil {
				return nil, err
			}
		}
		if i := strings.IndexByte(nameType, ':'); i >= 0 {
			p.Type = strings.TrimSpace(nameType[i+1:])
			nameType = strings.TrimSpace(nameType[:i])
		}
		p.Name = nameType

		if !identPattern.MatchString(p.Name) {
			return nil, NewParseErrorf(span, "invalid parameter name %q", p.Name)
		}
		if seen[p.Name] {
			return nil, NewParseErrorf(span, "duplicate parameter %q", p.Name)
		}
		if p.Required() && optional {
			return nil, NewParseErrorf(span, "required parameter %q follows a parameter with a default", p.Name)
		}
		optional = optional || !p.Required()
		seen[p.Name] = true
		params = append(params, p)
	}

	return params, nil
}

// validateExpr checks that src is a syntactically valid Starlark expression.
func validateExpr(src string, span diag.Span) error {
	if strings.TrimSpace(src) == "" {
		return NewParseError(span, "empty expression")
	}
	if _, err := syntax.ParseExpr(span.File, src, 0); err != nil {
		msg := err.Error()
		if serr, ok := err.(syntax.Error); ok {
			msg = serr.Msg
		}
		return NewParseErrorf(span, "invalid expression %q: %s", src, msg)
	}
	return nil
}

// splitTopLevel splits s on sep, ignoring separators nested in brackets or
// string literals.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	start := 0
	depth := 0
	var quote byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// indexTopLevel returns the index of the first top-level c in s, or -1.
func indexTopLevel(s string, c byte) int {
	parts := splitTopLevel(s, c)
	if len(parts) < 2 {
		return -1
	}
	return len(parts[0])
}

func spanTo(start, end diag.Span) diag.Span {
	return diag.NewSpan(start.File, start.Start, end.End)
}
