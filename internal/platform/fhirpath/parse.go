package fhirpath

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ============================================================================
// Tokens
// ============================================================================

type tokenKind int

const (
	tkIdent    tokenKind = iota // identifier or keyword
	tkVariable                  // %name
	tkNumber                    // integer or decimal
	tkString                    // 'single-quoted'
	tkDateTime                  // @2024-01-01 ...
	tkDot                       // .
	tkLParen                    // (
	tkRParen                    // )
	tkLBrack                    // [
	tkRBrack                    // ]
	tkComma                     // ,
	tkEq                        // =
	tkNe                        // !=
	tkLt                        // <
	tkGt                        // >
	tkLe                        // <=
	tkGe                        // >=
	tkPipe                      // |
	tkAmp                       // &
	tkPlus                      // +
	tkEOF                       // end-of-input
)

type token struct {
	kind  tokenKind
	value string
	pos   int
}

func isIdentStart(ch byte) bool {
	return ch == '_' || unicode.IsLetter(rune(ch))
}

func isIdentPart(ch byte) bool {
	return ch == '_' || unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch))
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	n := len(input)

	for i < n {
		ch := input[i]
		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			i++
			continue
		}

		start := i
		switch {
		case ch == '.':
			tokens = append(tokens, token{tkDot, ".", start})
			i++
		case ch == '(':
			tokens = append(tokens, token{tkLParen, "(", start})
			i++
		case ch == ')':
			tokens = append(tokens, token{tkRParen, ")", start})
			i++
		case ch == '[':
			tokens = append(tokens, token{tkLBrack, "[", start})
			i++
		case ch == ']':
			tokens = append(tokens, token{tkRBrack, "]", start})
			i++
		case ch == ',':
			tokens = append(tokens, token{tkComma, ",", start})
			i++
		case ch == '|':
			tokens = append(tokens, token{tkPipe, "|", start})
			i++
		case ch == '&':
			tokens = append(tokens, token{tkAmp, "&", start})
			i++
		case ch == '+':
			tokens = append(tokens, token{tkPlus, "+", start})
			i++
		case ch == '=':
			tokens = append(tokens, token{tkEq, "=", start})
			i++
		case ch == '!':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{tkNe, "!=", start})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected character '!' at position %d", start)
			}
		case ch == '<':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{tkLe, "<=", start})
				i += 2
			} else {
				tokens = append(tokens, token{tkLt, "<", start})
				i++
			}
		case ch == '>':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{tkGe, ">=", start})
				i += 2
			} else {
				tokens = append(tokens, token{tkGt, ">", start})
				i++
			}
		case ch == '%':
			j := i + 1
			if j >= n || !isIdentStart(input[j]) {
				return nil, fmt.Errorf("expected variable name after '%%' at position %d", start)
			}
			for j < n && (isIdentPart(input[j]) || input[j] == '-') {
				j++
			}
			tokens = append(tokens, token{tkVariable, input[i+1 : j], start})
			i = j
		case ch == '\'':
			i++
			var sb strings.Builder
			for i < n && input[i] != '\'' {
				if input[i] == '\\' && i+1 < n {
					i++
					switch input[i] {
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					default:
						sb.WriteByte(input[i])
					}
				} else {
					sb.WriteByte(input[i])
				}
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("unterminated string at position %d", start)
			}
			i++
			tokens = append(tokens, token{tkString, sb.String(), start})
		case ch == '@':
			i++
			j := i
			for j < n && (input[j] == '-' || input[j] == ':' || input[j] == 'T' ||
				input[j] == '+' || input[j] == 'Z' || (input[j] >= '0' && input[j] <= '9') || input[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tkDateTime, input[i:j], start})
			i = j
		case ch == '-' || (ch >= '0' && ch <= '9'):
			j := i
			if ch == '-' {
				j++
			}
			for j < n && input[j] >= '0' && input[j] <= '9' {
				j++
			}
			// A '.' followed by a digit continues a decimal; otherwise it is navigation.
			if j+1 < n && input[j] == '.' && input[j+1] >= '0' && input[j+1] <= '9' {
				j++
				for j < n && input[j] >= '0' && input[j] <= '9' {
					j++
				}
			}
			if j == i+1 && ch == '-' {
				return nil, fmt.Errorf("unexpected character '-' at position %d", start)
			}
			tokens = append(tokens, token{tkNumber, input[i:j], start})
			i = j
		case isIdentStart(ch):
			j := i
			for j < n && isIdentPart(input[j]) {
				j++
			}
			tokens = append(tokens, token{tkIdent, input[i:j], start})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), start)
		}
	}

	tokens = append(tokens, token{tkEOF, "", n})
	return tokens, nil
}

// ============================================================================
// AST
// ============================================================================

type nodeKind int

const (
	ndLiteral  nodeKind = iota // string, number, bool, datetime
	ndPath                     // identifier
	ndVariable                 // %name
	ndDot                      // a.b
	ndIndex                    // a[n]
	ndFunction                 // a.fn(args...)
	ndCompare                  // = != < > <= >=
	ndAnd                      // a and b
	ndOr                       // a or b
	ndImplies                  // a implies b
	ndUnion                    // a | b
	ndConcat                   // a & b
	ndPlus                     // a + b
)

type astNode struct {
	kind     nodeKind
	value    interface{}
	children []*astNode
}

// ============================================================================
// Parser: precedence climbing
// ============================================================================

type parser struct {
	tokens []token
	pos    int
}

func parse(expression string) (*astNode, error) {
	tokens, err := tokenize(expression)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	p := &parser{tokens: tokens}
	ast, err := p.parseExpression(0)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if tok := p.peek(); tok.kind != tkEOF {
		return nil, fmt.Errorf("unexpected token %q at position %d", tok.value, tok.pos)
	}
	return ast, nil
}

func (p *parser) peek() token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return token{kind: tkEOF, pos: -1}
}

func (p *parser) advance() token {
	t := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.advance()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s but got %q at position %d", what, t.value, t.pos)
	}
	return t, nil
}

// Operator precedence (lowest to highest):
//
//	implies (1), or (2), and (3), | (4), comparisons (5), & + (6), postfix.
func (p *parser) parseExpression(minPrec int) (*astNode, error) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for {
		prec, kind, op := infixInfo(p.peek())
		if prec < 0 || prec < minPrec {
			break
		}
		p.advance()
		right, err := p.parseExpression(prec + 1)
		if err != nil {
			return nil, err
		}
		node := &astNode{kind: kind, children: []*astNode{left, right}}
		if kind == ndCompare {
			node.value = op
		}
		left = node
	}
	return left, nil
}

func infixInfo(tok token) (int, nodeKind, string) {
	switch tok.kind {
	case tkIdent:
		switch tok.value {
		case "implies":
			return 1, ndImplies, ""
		case "or":
			return 2, ndOr, ""
		case "and":
			return 3, ndAnd, ""
		}
	case tkPipe:
		return 4, ndUnion, ""
	case tkEq, tkNe, tkLt, tkGt, tkLe, tkGe:
		return 5, ndCompare, tok.value
	case tkAmp:
		return 6, ndConcat, ""
	case tkPlus:
		return 6, ndPlus, ""
	}
	return -1, 0, ""
}

func (p *parser) parsePostfix() (*astNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.peek().kind {
		case tkDot:
			p.advance()
			ident, err := p.expect(tkIdent, "identifier after '.'")
			if err != nil {
				return nil, err
			}
			if p.peek().kind == tkLParen {
				p.advance()
				args, err := p.parseArgList()
				if err != nil {
					return nil, err
				}
				node = &astNode{kind: ndFunction, value: ident.value, children: append([]*astNode{node}, args...)}
			} else {
				node = &astNode{kind: ndDot, children: []*astNode{node, {kind: ndPath, value: ident.value}}}
			}
		case tkLBrack:
			p.advance()
			idxTok, err := p.expect(tkNumber, "index")
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tkRBrack, "']'"); err != nil {
				return nil, err
			}
			idx, err := strconv.Atoi(idxTok.value)
			if err != nil {
				return nil, fmt.Errorf("invalid index %q at position %d", idxTok.value, idxTok.pos)
			}
			node = &astNode{kind: ndIndex, value: idx, children: []*astNode{node}}
		default:
			return node, nil
		}
	}
}

func (p *parser) parsePrimary() (*astNode, error) {
	tok := p.advance()

	switch tok.kind {
	case tkLParen:
		inner, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil

	case tkString:
		return &astNode{kind: ndLiteral, value: tok.value}, nil

	case tkNumber:
		if strings.Contains(tok.value, ".") {
			f, err := strconv.ParseFloat(tok.value, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid decimal %q at position %d", tok.value, tok.pos)
			}
			return &astNode{kind: ndLiteral, value: f}, nil
		}
		i, err := strconv.ParseInt(tok.value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q at position %d", tok.value, tok.pos)
		}
		return &astNode{kind: ndLiteral, value: i}, nil

	case tkDateTime:
		t, err := parseDateTime(tok.value)
		if err != nil {
			return nil, fmt.Errorf("invalid datetime %q at position %d: %w", tok.value, tok.pos, err)
		}
		return &astNode{kind: ndLiteral, value: t}, nil

	case tkVariable:
		return &astNode{kind: ndVariable, value: tok.value}, nil

	case tkIdent:
		switch tok.value {
		case "true":
			return &astNode{kind: ndLiteral, value: true}, nil
		case "false":
			return &astNode{kind: ndLiteral, value: false}, nil
		}
		if p.peek().kind == tkLParen {
			p.advance()
			args, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			// Receiver-less call such as today() or iif(...); a nil receiver
			// means "the current focus".
			return &astNode{kind: ndFunction, value: tok.value, children: append([]*astNode{nil}, args...)}, nil
		}
		return &astNode{kind: ndPath, value: tok.value}, nil

	case tkEOF:
		return nil, fmt.Errorf("unexpected end of expression")

	default:
		return nil, fmt.Errorf("unexpected token %q at position %d", tok.value, tok.pos)
	}
}

// parseArgList parses arguments up to and including the closing ')'.
func (p *parser) parseArgList() ([]*astNode, error) {
	var args []*astNode
	if p.peek().kind == tkRParen {
		p.advance()
		return args, nil
	}
	for {
		arg, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().kind != tkComma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(tkRParen, "')'"); err != nil {
		return nil, err
	}
	return args, nil
}

func parseDateTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02",
		"2006-01",
		"2006",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse datetime %q", s)
}
