package expression

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Rule selects the grammar production a parse starts from.
type Rule string

const (
	// ExpressionRule parses a pipe-delimited chain of functions.
	ExpressionRule Rule = "expression"
	// ArgumentRule parses a single argument value: a literal or a {sub expression}.
	ArgumentRule Rule = "argument"
)

// reserved cannot appear in an unquoted literal unless escaped with a backslash.
const reserved = "\"'(){}<>[]$`|= \t\n\r"

// SyntaxError reports the position where the input stopped matching the grammar.
type SyntaxError struct {
	Offset   int
	Expected string
	Found    string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expected %s but %s found at offset %d", e.Expected, e.Found, e.Offset)
}

type parser struct {
	input string
	pos   int
}

// Parse parses text starting from rule. The whole input must be consumed.
func Parse(text string, rule Rule) (*Node, error) {
	p := &parser{input: text}
	if !utf8.ValidString(text) {
		for p.pos < len(text) {
			r, size := utf8.DecodeRuneInString(text[p.pos:])
			if r == utf8.RuneError && size == 1 {
				return nil, &SyntaxError{Offset: p.pos, Expected: "valid UTF-8", Found: fmt.Sprintf("byte %#x", text[p.pos])}
			}
			p.pos += size
		}
	}
	var (
		node *Node
		err  error
	)
	switch rule {
	case ExpressionRule:
		node, err = p.expression()
	case ArgumentRule:
		node, err = p.argument()
	default:
		return nil, fmt.Errorf("unknown start rule %q", rule)
	}
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, p.fail("end of input")
	}
	return node, nil
}

func (p *parser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *parser) peek() rune {
	if p.eof() {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeRuneInString(p.input[p.pos:])
	return r
}

func (p *parser) next() rune {
	r, size := utf8.DecodeRuneInString(p.input[p.pos:])
	p.pos += size
	return r
}

func (p *parser) fail(expected string) *SyntaxError {
	found := "end of input"
	if !p.eof() {
		found = strconv.QuoteRune(p.peek())
	}
	return &SyntaxError{Offset: p.pos, Expected: expected, Found: found}
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == '\n'
}

func isIdentifier(r rune) bool {
	return r == '_' || r == '-' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func (p *parser) space() bool {
	start := p.pos
	for !p.eof() && isSpace(p.peek()) {
		p.next()
	}
	return p.pos > start
}

// expression = space? function? ('|' space? function)*
func (p *parser) expression() (*Node, error) {
	p.space()
	n := &Node{Kind: ExpressionKind, Chain: []*Node{}}
	if fn, ok, err := p.function(); err != nil {
		return nil, err
	} else if ok {
		n.Chain = append(n.Chain, fn)
	}
	for !p.eof() && p.peek() == '|' {
		p.next()
		p.space()
		fn, ok, err := p.function()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, p.fail("function name")
		}
		n.Chain = append(n.Chain, fn)
	}
	return n, nil
}

func (p *parser) identifier() (string, bool) {
	start := p.pos
	for !p.eof() && isIdentifier(p.peek()) {
		p.next()
	}
	return p.input[start:p.pos], p.pos > start
}

// function = identifier arg_list
// arg_list = (space? argument_assignment)* space?
func (p *parser) function() (*Node, bool, error) {
	name, ok := p.identifier()
	if !ok {
		return nil, false, nil
	}
	fn := &Node{Kind: FunctionKind, Name: name, Args: []Argument{}}
	for {
		start := p.pos
		p.space()
		argName, value, ok, err := p.assignment()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			p.pos = start
			break
		}
		fn.AddArg(argName, value)
	}
	p.space()
	return fn, true, nil
}

// argument_assignment = identifier space? '=' space? argument | argument
func (p *parser) assignment() (string, *Node, bool, error) {
	start := p.pos
	if name, ok := p.identifier(); ok {
		p.space()
		if !p.eof() && p.peek() == '=' {
			p.next()
			p.space()
			value, err := p.argument()
			if err != nil {
				return "", nil, false, err
			}
			return name, value, true, nil
		}
		p.pos = start
	}
	if !p.startsArgument() {
		return "", nil, false, nil
	}
	value, err := p.argument()
	if err != nil {
		return "", nil, false, err
	}
	return "_", value, true, nil
}

func (p *parser) startsArgument() bool {
	if p.eof() {
		return false
	}
	switch r := p.peek(); r {
	case '{', '"', '\'', '\\':
		return true
	default:
		return !strings.ContainsRune(reserved, r)
	}
}

// argument = '{' space? expression space? '}' | literal
func (p *parser) argument() (*Node, error) {
	if p.eof() {
		return nil, p.fail("argument")
	}
	switch p.peek() {
	case '{':
		p.next()
		n, err := p.expression()
		if err != nil {
			return nil, err
		}
		p.space()
		if p.eof() || p.peek() != '}' {
			return nil, p.fail(`"}"`)
		}
		p.next()
		return n, nil
	case '"', '\'':
		return p.phrase()
	}
	return p.unquoted()
}

// phrase is a single or double quoted string where a backslash escapes the
// quote and itself.
func (p *parser) phrase() (*Node, error) {
	quote := p.next()
	var sb strings.Builder
	for {
		if p.eof() {
			return nil, p.fail(strconv.QuoteRune(quote))
		}
		r := p.next()
		switch r {
		case quote:
			return &Node{Kind: StringKind, Value: sb.String()}, nil
		case '\\':
			if p.eof() {
				return nil, p.fail("escaped character")
			}
			escaped := p.peek()
			if escaped != quote && escaped != '\\' {
				return nil, p.fail(fmt.Sprintf("%s or %q", strconv.QuoteRune(quote), '\\'))
			}
			sb.WriteRune(p.next())
		default:
			sb.WriteRune(r)
		}
	}
}

// unquoted reads a run of non reserved characters and interprets it as
// null, a boolean, a number or else a string.
func (p *parser) unquoted() (*Node, error) {
	var sb strings.Builder
	for !p.eof() {
		r := p.peek()
		if r == '\\' {
			p.next()
			if !p.eof() && (p.peek() == '\\' || strings.ContainsRune(reserved, p.peek())) {
				sb.WriteRune(p.next())
				continue
			}
			sb.WriteRune(r)
			continue
		}
		if strings.ContainsRune(reserved, r) {
			break
		}
		sb.WriteRune(p.next())
	}
	text := sb.String()
	if text == "" {
		return nil, p.fail("literal")
	}
	return literalFromText(text), nil
}

func literalFromText(text string) *Node {
	switch text {
	case "null":
		return &Node{Kind: NullKind}
	case "true":
		return &Node{Kind: BooleanKind, Value: true}
	case "false":
		return &Node{Kind: BooleanKind, Value: false}
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return &Node{Kind: NumberKind, Value: f}
	}
	return &Node{Kind: StringKind, Value: text}
}
