package frame

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the dynamic type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
)

// Value is a single cell. The zero Value is null.
type Value struct {
	Kind Kind
	I    int64
	F    float64
	B    bool
	S    string
}

func Null() Value            { return Value{} }
func Int(i int64) Value      { return Value{Kind: KindInt, I: i} }
func Bool(b bool) Value      { return Value{Kind: KindBool, B: b} }
func Str(s string) Value     { return Value{Kind: KindString, S: s} }
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Float returns a float Value; NaN becomes null.
func Float(f float64) Value {
	if math.IsNaN(f) {
		return Value{}
	}
	return Value{Kind: KindFloat, F: f}
}

// Number reports the numeric value of an int or float cell.
func (v Value) Number() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I), true
	case KindFloat:
		return v.F, true
	}
	return 0, false
}

// String formats the value the way it is written to CSV. Null formats as "".
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindFloat:
		return FormatFloat(v.F)
	case KindBool:
		if v.B {
			return "True"
		}
		return "False"
	case KindString:
		return v.S
	}
	return ""
}

// Interface returns the value as a plain Go value for JSON encoding.
func (v Value) Interface() any {
	switch v.Kind {
	case KindInt:
		return v.I
	case KindFloat:
		if math.IsInf(v.F, 0) {
			return nil
		}
		return v.F
	case KindBool:
		return v.B
	case KindString:
		return v.S
	}
	return nil
}

// Less orders two non-null values of the same kind. Mixed kinds order by Kind.
func (v Value) Less(o Value) bool {
	if v.Kind != o.Kind {
		a, aok := v.Number()
		b, bok := o.Number()
		if aok && bok {
			return a < b
		}
		return v.Kind < o.Kind
	}
	switch v.Kind {
	case KindInt:
		return v.I < o.I
	case KindFloat:
		return v.F < o.F
	case KindBool:
		return !v.B && o.B
	case KindString:
		return v.S < o.S
	}
	return false
}

// FormatFloat renders f in plain decimal where reasonable, always keeping a
// decimal point for integral values so the column reads back as float64.
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return ""
	}
	abs := math.Abs(f)
	var s string
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		s = strconv.FormatFloat(f, 'g', -1, 64)
	} else {
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

var naTokens = map[string]struct{}{
	"": {}, "null": {}, "NULL": {}, "NA": {}, "N/A": {}, "n/a": {}, "NaN": {}, "nan": {},
	"-NaN": {}, "-nan": {}, "None": {}, "<NA>": {}, "#N/A": {}, "#NA": {},
}

// IsNA reports whether a raw CSV field is treated as missing.
func IsNA(s string) bool {
	_, ok := naTokens[strings.TrimSpace(s)]
	return ok
}

func parseBool(s string) (bool, bool) {
	switch s {
	case "True", "TRUE", "true":
		return true, true
	case "False", "FALSE", "false":
		return false, true
	}
	return false, false
}

// parseFloat accepts out-of-range literals such as "1e400", which read as ±Inf.
func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return f, true
}
