// Package formula parses and evaluates the token lists the feature builder
// sends, producing a derived column. Expressions are parsed into a small AST;
// nothing is ever evaluated as code.
package formula

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError reports a malformed formula at a token index. Index equals the
// token count when the formula ends unexpectedly.
type SyntaxError struct {
	Index int
	Token string
	Msg   string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("formula: token %d: %s", e.Index, e.Msg)
	}
	return fmt.Sprintf("formula: token %d (%q): %s", e.Index, e.Token, e.Msg)
}

// Op is an operator.
type Op string

const (
	OpAdd Op = "+"
	OpSub Op = "-"
	OpMul Op = "*"
	OpDiv Op = "/"
	OpMod Op = "%"
	OpPow Op = "**"
	OpGT  Op = ">"
	OpLT  Op = "<"
	OpGE  Op = ">="
	OpLE  Op = "<="
	OpEQ  Op = "=="
	OpNE  Op = "!="
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpNot Op = "not"
	OpNeg Op = "neg"
)

var aliases = map[string]Op{
	"addition":       OpAdd,
	"subtraction":    OpSub,
	"multiplication": OpMul,
	"division":       OpDiv,
	"modulo":         OpMod,
	"power":          OpPow,
	"greater":        OpGT,
	"less":           OpLT,
	"greater_equal":  OpGE,
	"less_equal":     OpLE,
	"equal":          OpEQ,
	"not_equal":      OpNE,
	"and":            OpAnd,
	"or":             OpOr,
	"not":            OpNot,
}

var symbols = map[string]Op{
	"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv, "%": OpMod, "**": OpPow,
	">": OpGT, "<": OpLT, ">=": OpGE, "<=": OpLE, "==": OpEQ, "!=": OpNE,
}

// Expr is a node of the parsed formula.
type Expr interface{ expr() }

type (
	// Number is a numeric literal.
	Number struct {
		Text  string
		IsInt bool
		Int   int64
		Float float64
	}
	// String is a quoted string literal.
	String struct{ Value string }
	// Column references a dataframe column.
	Column struct{ Name string }
	// Unary applies OpNeg or OpNot.
	Unary struct {
		Op Op
		X  Expr
	}
	// Binary applies an arithmetic, comparison or boolean operator.
	Binary struct {
		Op   Op
		L, R Expr
	}
)

func (Number) expr() {}
func (String) expr() {}
func (Column) expr() {}
func (Unary) expr()  {}
func (Binary) expr() {}

type kind int

const (
	tokOp kind = iota
	tokLParen
	tokRParen
	tokNumber
	tokString
	tokColumn
)

type token struct {
	kind kind
	op   Op
	text string
	num  Number
}

func classify(i int, raw string, columns map[string]struct{}) (token, error) {
	s := strings.TrimSpace(raw)
	switch s {
	case "(":
		return token{kind: tokLParen, text: raw}, nil
	case ")":
		return token{kind: tokRParen, text: raw}, nil
	}
	if op, ok := symbols[s]; ok {
		return token{kind: tokOp, op: op, text: raw}, nil
	}
	if _, ok := columns[raw]; ok {
		return token{kind: tokColumn, text: raw}, nil
	}
	if op, ok := aliases[s]; ok {
		return token{kind: tokOp, op: op, text: raw}, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return token{kind: tokNumber, text: raw, num: Number{Text: s, IsInt: true, Int: n, Float: float64(n)}}, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return token{kind: tokNumber, text: raw, num: Number{Text: s, Float: f}}, nil
	}
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return token{kind: tokString, text: raw}, nil
	}
	return token{}, &SyntaxError{Index: i, Token: raw, Msg: "unknown column or operator"}
}

type parser struct {
	toks []token
	pos  int
}

// Parse builds an expression from tokens. columns lists the names that may
// be referenced. A column named like a word operator ("power", "and") shadows
// that operator; symbolic operators always win.
func Parse(tokens []string, columns []string) (Expr, error) {
	if len(tokens) == 0 {
		return nil, &SyntaxError{Index: 0, Msg: "empty formula"}
	}
	cols := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		cols[c] = struct{}{}
	}
	p := &parser{}
	for i, raw := range tokens {
		t, err := classify(i, raw, cols)
		if err != nil {
			return nil, err
		}
		p.toks = append(p.toks, t)
	}
	e, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		t := p.toks[p.pos]
		if t.kind == tokRParen {
			return nil, p.errorf("unbalanced parenthesis")
		}
		return nil, p.errorf("unexpected token")
	}
	return e, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) peekOp(ops ...Op) (Op, bool) {
	t, ok := p.peek()
	if !ok || t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.op == op {
			return op, true
		}
	}
	return "", false
}

func (p *parser) errorf(format string, args ...any) error {
	e := &SyntaxError{Index: p.pos, Msg: fmt.Sprintf(format, args...)}
	if p.pos < len(p.toks) {
		e.Token = p.toks[p.pos].text
	}
	return e
}

func (p *parser) binaryLeft(next func() (Expr, error), ops ...Op) (Expr, error) {
	l, err := next()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOp(ops...)
		if !ok {
			return l, nil
		}
		p.pos++
		r, err := next()
		if err != nil {
			return nil, err
		}
		l = Binary{Op: op, L: l, R: r}
	}
}

func (p *parser) or() (Expr, error)  { return p.binaryLeft(p.and, OpOr) }
func (p *parser) and() (Expr, error) { return p.binaryLeft(p.not, OpAnd) }

func (p *parser) not() (Expr, error) {
	if _, ok := p.peekOp(OpNot); ok {
		p.pos++
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return Unary{Op: OpNot, X: x}, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (Expr, error) {
	l, err := p.additive()
	if err != nil {
		return nil, err
	}
	op, ok := p.peekOp(OpGT, OpLT, OpGE, OpLE, OpEQ, OpNE)
	if !ok {
		return l, nil
	}
	p.pos++
	r, err := p.additive()
	if err != nil {
		return nil, err
	}
	if _, chained := p.peekOp(OpGT, OpLT, OpGE, OpLE, OpEQ, OpNE); chained {
		return nil, p.errorf("chained comparisons are not supported")
	}
	return Binary{Op: op, L: l, R: r}, nil
}

func (p *parser) additive() (Expr, error) { return p.binaryLeft(p.multiplicative, OpAdd, OpSub) }
func (p *parser) multiplicative() (Expr, error) {
	return p.binaryLeft(p.unary, OpMul, OpDiv, OpMod)
}

func (p *parser) unary() (Expr, error) {
	if op, ok := p.peekOp(OpSub, OpAdd); ok {
		p.pos++
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if op == OpAdd {
			return x, nil
		}
		return Unary{Op: OpNeg, X: x}, nil
	}
	return p.power()
}

// power is right-associative and binds tighter than a unary minus on its
// left, so -2 ** 2 is -(2 ** 2).
func (p *parser) power() (Expr, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	if _, ok := p.peekOp(OpPow); !ok {
		return base, nil
	}
	p.pos++
	exp, err := p.unary()
	if err != nil {
		return nil, err
	}
	return Binary{Op: OpPow, L: base, R: exp}, nil
}

func (p *parser) primary() (Expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of formula")
	}
	switch t.kind {
	case tokNumber:
		p.pos++
		return t.num, nil
	case tokString:
		p.pos++
		s := strings.TrimSpace(t.text)
		return String{Value: s[1 : len(s)-1]}, nil
	case tokColumn:
		p.pos++
		return Column{Name: t.text}, nil
	case tokLParen:
		p.pos++
		e, err := p.or()
		if err != nil {
			return nil, err
		}
		if t, ok := p.peek(); !ok || t.kind != tokRParen {
			return nil, p.errorf("unbalanced parenthesis")
		}
		p.pos++
		return e, nil
	case tokRParen:
		return nil, p.errorf("unbalanced parenthesis")
	}
	return nil, p.errorf("expected a value")
}
