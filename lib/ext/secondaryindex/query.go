package secondaryindex

import (
	"fmt"
	"strconv"
	"strings"
)

// Query is a query text with its parameters, one per '?' placeholder:
//
//	secondaryindex.NewQuery("WHERE age >= ? AND name IN ('a', 'b') ORDER BY age DESC", 18)
//
// The grammar is
//
//	query   := [WHERE expr] [ORDER BY column [ASC|DESC]]
//	expr    := term {OR term}
//	term    := factor {AND factor}
//	factor  := '(' expr ')' | column op operand | column IN '(' operand {',' operand} ')'
//	op      := = | == | != | <> | < | <= | > | >=
//	operand := integer | real | 'text' | ?
//
// Keywords are case-insensitive, quotes inside text literals are doubled. A
// placeholder inside IN (...) bound to a slice expands to its elements.
type Query struct {
	Text   string
	Params []any
}

func NewQuery(text string, params ...any) Query {
	return Query{Text: text, Params: params}
}

func (q Query) String() string {
	return q.Text
}

// --------------------------------------------------------------------------
// Lexer
// --------------------------------------------------------------------------

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokReal
	tokText
	tokParam
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string // identifier, operator or literal text (unquoted for tokText)
	pos  int
}

var keywords = map[string]bool{
	"WHERE": true, "ORDER": true, "BY": true, "ASC": true, "DESC": true,
	"AND": true, "OR": true, "IN": true,
}

type syntaxError struct {
	pos int
	msg string
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("%s at offset %d", e.msg, e.pos)
}

func tokenize(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		case c == '?':
			toks = append(toks, token{kind: tokParam, text: "?", pos: i})
			i++
		case c == '=' || c == '!' || c == '<' || c == '>':
			op := string(c)
			if i+1 < len(s) {
				switch two := s[i : i+2]; two {
				case "==", "!=", "<>", "<=", ">=":
					op = two
				}
			}
			if op == "!" {
				return nil, &syntaxError{pos: i, msg: "unexpected '!'"}
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		case c == '\'':
			var sb strings.Builder
			j := i + 1
			for {
				if j >= len(s) {
					return nil, &syntaxError{pos: i, msg: "unterminated text literal"}
				}
				if s[j] == '\'' {
					if j+1 < len(s) && s[j+1] == '\'' {
						sb.WriteByte('\'')
						j += 2
						continue
					}
					break
				}
				sb.WriteByte(s[j])
				j++
			}
			toks = append(toks, token{kind: tokText, text: sb.String(), pos: i})
			i = j + 1
		case c == '-' || c == '.' || (c >= '0' && c <= '9'):
			j, kind := scanNumber(s, i)
			if j == i {
				return nil, &syntaxError{pos: i, msg: fmt.Sprintf("unexpected %q", c)}
			}
			toks = append(toks, token{kind: kind, text: s[i:j], pos: i})
			i = j
		case isIdentByte(c, false):
			j := i + 1
			for j < len(s) && isIdentByte(s[j], true) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: s[i:j], pos: i})
			i = j
		default:
			return nil, &syntaxError{pos: i, msg: fmt.Sprintf("unexpected %q", c)}
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(s)}), nil
}

func isIdentByte(c byte, digits bool) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (digits && c >= '0' && c <= '9')
}

// scanNumber returns the end of the number starting at i, i if there is none
func scanNumber(s string, i int) (int, tokenKind) {
	j := i
	if j < len(s) && s[j] == '-' {
		j++
	}
	digits := func() int {
		n := 0
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
			n++
		}
		return n
	}
	n := digits()
	kind := tokInt
	if j < len(s) && s[j] == '.' {
		j++
		n += digits()
		kind = tokReal
	}
	if n == 0 {
		return i, tokEOF
	}
	if j < len(s) && (s[j] == 'e' || s[j] == 'E') {
		k := j
		j++
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if digits() == 0 {
			return k, kind
		}
		kind = tokReal
	}
	return j, kind
}

// --------------------------------------------------------------------------
// Parser
// --------------------------------------------------------------------------

type op uint8

const (
	opEq op = iota + 1
	opNe
	opLt
	opLe
	opGt
	opGe
	opIn
)

var ops = map[string]op{"=": opEq, "==": opEq, "!=": opNe, "<>": opNe, "<": opLt, "<=": opLe, ">": opGt, ">=": opGe}

func (o op) String() string {
	return [...]string{"?", "=", "!=", "<", "<=", ">", ">=", "IN"}[o]
}

// operand is a literal or the index of a placeholder
type operand struct {
	param int // -1 for literals
	lit   any // int64, float64 or string
}

// node is a parsed expression: and/or hold children, a comparison holds a column
// and operands (several for IN).
type node struct {
	and, or  []*node
	column   string
	op       op
	operands []operand
}

type parsed struct {
	where  *node
	order  string
	desc   bool
	params int
}

type parser struct {
	toks   []token
	pos    int
	params int
}

func parse(text string) (*parsed, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	q := &parsed{}
	if p.keyword("WHERE") {
		if q.where, err = p.expr(); err != nil {
			return nil, err
		}
	}
	if p.keyword("ORDER") {
		if !p.keyword("BY") {
			return nil, p.errorf("expected BY")
		}
		if q.order, err = p.column(); err != nil {
			return nil, err
		}
		if p.keyword("DESC") {
			q.desc = true
		} else {
			p.keyword("ASC")
		}
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf("unexpected %q", t.text)
	}
	q.params = p.params
	return q, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return &syntaxError{pos: p.peek().pos, msg: fmt.Sprintf(format, args...)}
}

// keyword consumes the keyword if it is next
func (p *parser) keyword(kw string) bool {
	if t := p.peek(); t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) column() (string, error) {
	t := p.peek()
	if t.kind != tokIdent || keywords[strings.ToUpper(t.text)] {
		return "", p.errorf("expected column name")
	}
	p.pos++
	return t.text, nil
}

func (p *parser) expr() (*node, error) {
	first, err := p.term()
	if err != nil {
		return nil, err
	}
	if !p.keyword("OR") {
		return first, nil
	}
	n := &node{or: []*node{first}}
	for {
		t, err := p.term()
		if err != nil {
			return nil, err
		}
		n.or = append(n.or, t)
		if !p.keyword("OR") {
			return n, nil
		}
	}
}

func (p *parser) term() (*node, error) {
	first, err := p.factor()
	if err != nil {
		return nil, err
	}
	if !p.keyword("AND") {
		return first, nil
	}
	n := &node{and: []*node{first}}
	for {
		f, err := p.factor()
		if err != nil {
			return nil, err
		}
		n.and = append(n.and, f)
		if !p.keyword("AND") {
			return n, nil
		}
	}
}

func (p *parser) factor() (*node, error) {
	if p.peek().kind == tokLParen {
		p.pos++
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, p.errorf("expected ')'")
		}
		return n, nil
	}
	col, err := p.column()
	if err != nil {
		return nil, err
	}
	if p.keyword("IN") {
		if p.next().kind != tokLParen {
			return nil, p.errorf("expected '(' after IN")
		}
		n := &node{column: col, op: opIn}
		for {
			o, err := p.operand()
			if err != nil {
				return nil, err
			}
			n.operands = append(n.operands, o)
			switch p.next().kind {
			case tokComma:
				continue
			case tokRParen:
				return n, nil
			default:
				return nil, p.errorf("expected ',' or ')'")
			}
		}
	}
	t := p.next()
	o, ok := ops[t.text]
	if t.kind != tokOp || !ok {
		return nil, &syntaxError{pos: t.pos, msg: "expected comparison operator"}
	}
	rhs, err := p.operand()
	if err != nil {
		return nil, err
	}
	return &node{column: col, op: o, operands: []operand{rhs}}, nil
}

func (p *parser) operand() (operand, error) {
	t := p.peek()
	switch t.kind {
	case tokParam:
		p.pos++
		p.params++
		return operand{param: p.params - 1}, nil
	case tokText:
		p.pos++
		return operand{param: -1, lit: t.text}, nil
	case tokInt:
		p.pos++
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return operand{param: -1, lit: i}, nil
		}
		// out of range integers are kept as reals
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return operand{}, &syntaxError{pos: t.pos, msg: "invalid number"}
		}
		return operand{param: -1, lit: f}, nil
	case tokReal:
		p.pos++
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return operand{}, &syntaxError{pos: t.pos, msg: "invalid number"}
		}
		return operand{param: -1, lit: f}, nil
	}
	return operand{}, p.errorf("expected value or '?'")
}
