package formula

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"

	"github.com/KaramelBytes/dataloom/internal/frame"
)

// ErrType is returned when an operator is applied to unsupported operands.
var ErrType = errors.New("formula: unsupported operand types")

// Tokens converts decoded JSON tokens (strings and numbers) to strings.
func Tokens(raw []any) ([]string, error) {
	out := make([]string, len(raw))
	for i, t := range raw {
		switch v := t.(type) {
		case string:
			out[i] = v
		case float64:
			out[i] = strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			out[i] = strconv.Itoa(v)
		case int64:
			out[i] = strconv.FormatInt(v, 10)
		default:
			return nil, &SyntaxError{Index: i, Token: fmt.Sprint(t), Msg: "token must be a string or number"}
		}
	}
	return out, nil
}

// Eval evaluates e for every row of f.
func Eval(e Expr, f *frame.Frame) ([]frame.Value, error) {
	out := make([]frame.Value, f.Len())
	cols := make(map[string]*frame.Column, len(f.Columns))
	for _, c := range f.Columns {
		cols[c.Name] = c
	}
	for r := range out {
		v, err := eval(e, cols, r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r+1, err)
		}
		out[r] = v
	}
	return out, nil
}

// Apply parses tokens against f's columns and stores the result as
// newName, replacing an existing column of that name.
func Apply(f *frame.Frame, tokens []string, newName string) error {
	if newName == "" {
		return errors.New("formula: new column name is empty")
	}
	e, err := Parse(tokens, f.Names())
	if err != nil {
		return err
	}
	vals, err := Eval(e, f)
	if err != nil {
		return err
	}
	c := &frame.Column{Name: newName, Values: vals}
	c.Normalize()
	if c.DType == frame.DTypeObject {
		if err := c.Convert(frame.DTypeObject); err != nil {
			return err
		}
	}
	return f.SetColumn(c)
}

func eval(e Expr, cols map[string]*frame.Column, r int) (frame.Value, error) {
	switch n := e.(type) {
	case Number:
		if n.IsInt {
			return frame.Int(n.Int), nil
		}
		return frame.Float(n.Float), nil
	case String:
		return frame.Str(n.Value), nil
	case Column:
		c, ok := cols[n.Name]
		if !ok {
			return frame.Null(), fmt.Errorf("%w: %q", frame.ErrColumnNotFound, n.Name)
		}
		return c.Values[r], nil
	case Unary:
		x, err := eval(n.X, cols, r)
		if err != nil {
			return frame.Null(), err
		}
		return unary(n.Op, x)
	case Binary:
		l, err := eval(n.L, cols, r)
		if err != nil {
			return frame.Null(), err
		}
		rv, err := eval(n.R, cols, r)
		if err != nil {
			return frame.Null(), err
		}
		return binary(n.Op, l, rv)
	}
	return frame.Null(), fmt.Errorf("formula: unknown node %T", e)
}

func unary(op Op, x frame.Value) (frame.Value, error) {
	if x.IsNull() {
		return frame.Null(), nil
	}
	switch op {
	case OpNot:
		return frame.Bool(!truthy(x)), nil
	case OpNeg:
		switch x.Kind {
		case frame.KindInt:
			return frame.Int(-x.I), nil
		case frame.KindFloat:
			return frame.Float(-x.F), nil
		case frame.KindBool:
			return frame.Int(-boolInt(x.B)), nil
		}
	}
	return frame.Null(), fmt.Errorf("%w: %s %s", ErrType, op, kindName(x))
}

func binary(op Op, l, r frame.Value) (frame.Value, error) {
	if l.IsNull() || r.IsNull() {
		return frame.Null(), nil
	}
	switch op {
	case OpAnd:
		return frame.Bool(truthy(l) && truthy(r)), nil
	case OpOr:
		return frame.Bool(truthy(l) || truthy(r)), nil
	case OpEQ, OpNE, OpGT, OpLT, OpGE, OpLE:
		return compare(op, l, r)
	}

	if l.Kind == frame.KindString || r.Kind == frame.KindString {
		if op == OpAdd && l.Kind == frame.KindString && r.Kind == frame.KindString {
			return frame.Str(l.S + r.S), nil
		}
		return frame.Null(), fmt.Errorf("%w: %s %s %s", ErrType, kindName(l), op, kindName(r))
	}

	if li, lok := asInt(l); lok {
		if ri, rok := asInt(r); rok {
			return intOp(op, li, ri)
		}
	}
	a, _ := asFloat(l)
	b, _ := asFloat(r)
	return floatOp(op, a, b), nil
}

func intOp(op Op, a, b int64) (frame.Value, error) {
	switch op {
	case OpAdd:
		return frame.Int(a + b), nil
	case OpSub:
		return frame.Int(a - b), nil
	case OpMul:
		return frame.Int(a * b), nil
	case OpDiv:
		if b == 0 {
			return frame.Null(), nil
		}
		return frame.Float(float64(a) / float64(b)), nil
	case OpMod:
		if b == 0 {
			return frame.Null(), nil
		}
		m := a % b
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return frame.Int(m), nil
	case OpPow:
		if b >= 0 {
			if res, ok := powInt(a, b); ok {
				return frame.Int(res), nil
			}
		}
		return floatOp(op, float64(a), float64(b)), nil
	}
	return frame.Null(), fmt.Errorf("%w: int %s int", ErrType, op)
}

// powInt computes a**b for b >= 0, reporting false when the result does not
// fit in an int64.
func powInt(a, b int64) (int64, bool) {
	switch a {
	case 0:
		if b == 0 {
			return 1, true
		}
		return 0, true
	case 1:
		return 1, true
	case -1:
		if b%2 == 0 {
			return 1, true
		}
		return -1, true
	}
	res := int64(1)
	for i := int64(0); i < b; i++ {
		hi, lo := bits.Mul64(magnitude(res), magnitude(a))
		if hi != 0 || lo > math.MaxInt64 {
			return 0, false
		}
		res *= a
	}
	return res, true
}

func magnitude(n int64) uint64 {
	if n < 0 {
		return -uint64(n)
	}
	return uint64(n)
}

func floatOp(op Op, a, b float64) frame.Value {
	switch op {
	case OpAdd:
		return frame.Float(a + b)
	case OpSub:
		return frame.Float(a - b)
	case OpMul:
		return frame.Float(a * b)
	case OpDiv:
		if b == 0 {
			return frame.Null()
		}
		return frame.Float(a / b)
	case OpMod:
		if b == 0 {
			return frame.Null()
		}
		m := math.Mod(a, b)
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return frame.Float(m)
	case OpPow:
		return frame.Float(math.Pow(a, b))
	}
	return frame.Null()
}

func compare(op Op, l, r frame.Value) (frame.Value, error) {
	var c int
	switch {
	case l.Kind == frame.KindString && r.Kind == frame.KindString:
		switch {
		case l.S < r.S:
			c = -1
		case l.S > r.S:
			c = 1
		}
	case l.Kind != frame.KindString && r.Kind != frame.KindString:
		a, _ := asFloat(l)
		b, _ := asFloat(r)
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	default:
		switch op {
		case OpEQ:
			return frame.Bool(false), nil
		case OpNE:
			return frame.Bool(true), nil
		}
		return frame.Null(), fmt.Errorf("%w: %s %s %s", ErrType, kindName(l), op, kindName(r))
	}
	var b bool
	switch op {
	case OpEQ:
		b = c == 0
	case OpNE:
		b = c != 0
	case OpGT:
		b = c > 0
	case OpLT:
		b = c < 0
	case OpGE:
		b = c >= 0
	case OpLE:
		b = c <= 0
	}
	return frame.Bool(b), nil
}

func truthy(v frame.Value) bool {
	switch v.Kind {
	case frame.KindInt:
		return v.I != 0
	case frame.KindFloat:
		return v.F != 0
	case frame.KindBool:
		return v.B
	case frame.KindString:
		return v.S != ""
	}
	return false
}

func asInt(v frame.Value) (int64, bool) {
	switch v.Kind {
	case frame.KindInt:
		return v.I, true
	case frame.KindBool:
		return boolInt(v.B), true
	}
	return 0, false
}

func asFloat(v frame.Value) (float64, bool) {
	if f, ok := v.Number(); ok {
		return f, true
	}
	if v.Kind == frame.KindBool {
		return float64(boolInt(v.B)), true
	}
	return 0, false
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func kindName(v frame.Value) string {
	switch v.Kind {
	case frame.KindInt:
		return "int"
	case frame.KindFloat:
		return "float"
	case frame.KindBool:
		return "bool"
	case frame.KindString:
		return "str"
	}
	return "null"
}
