// Package frame holds the typed, in-memory table every handler works on.
// Column dtypes use the pandas labels the storage service persists next to
// the CSV ("int64", "float64", "bool", "object").
package frame

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Column dtypes.
const (
	DTypeInt64   = "int64"
	DTypeFloat64 = "float64"
	DTypeBool    = "bool"
	DTypeObject  = "object"
)

var (
	ErrColumnNotFound = errors.New("column not found")
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrLengthMismatch = errors.New("column length mismatch")
)

// Column is a named, typed series of values.
type Column struct {
	Name   string
	DType  string
	Values []Value
}

// NewColumn infers the dtype from values.
func NewColumn(name string, values []Value) *Column {
	return &Column{Name: name, DType: inferDType(values), Values: values}
}

// Len returns the number of rows.
func (c *Column) Len() int { return len(c.Values) }

// IsNumeric reports whether the column is quantitative.
func (c *Column) IsNumeric() bool { return c.DType == DTypeInt64 || c.DType == DTypeFloat64 }

// NullCount returns the number of missing cells.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v.IsNull() {
			n++
		}
	}
	return n
}

// HasNulls reports whether any cell is missing.
func (c *Column) HasNulls() bool {
	for _, v := range c.Values {
		if v.IsNull() {
			return true
		}
	}
	return false
}

// Floats returns numeric cells as float64 with NaN for missing values.
func (c *Column) Floats() []float64 {
	out := make([]float64, len(c.Values))
	for i, v := range c.Values {
		if f, ok := v.Number(); ok {
			out[i] = f
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// NonNullFloats returns only the present numeric cells.
func (c *Column) NonNullFloats() []float64 {
	out := make([]float64, 0, len(c.Values))
	for _, v := range c.Values {
		if f, ok := v.Number(); ok {
			out = append(out, f)
		}
	}
	return out
}

// Distinct returns the distinct non-null values in order of first appearance.
func (c *Column) Distinct() []Value {
	seen := make(map[Value]struct{})
	var out []Value
	for _, v := range c.Values {
		if v.IsNull() {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Unique returns the number of distinct non-null values.
func (c *Column) Unique() int { return len(c.Distinct()) }

// ValueCount pairs a value with its frequency.
type ValueCount struct {
	Value Value
	Count int
}

// ValueCounts returns non-null frequencies sorted by count descending; ties
// keep first-appearance order.
func (c *Column) ValueCounts() []ValueCount {
	idx := make(map[Value]int)
	var out []ValueCount
	for _, v := range c.Values {
		if v.IsNull() {
			continue
		}
		if i, ok := idx[v]; ok {
			out[i].Count++
			continue
		}
		idx[v] = len(out)
		out = append(out, ValueCount{Value: v, Count: 1})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// Clone returns a deep copy.
func (c *Column) Clone() *Column {
	vals := make([]Value, len(c.Values))
	copy(vals, c.Values)
	return &Column{Name: c.Name, DType: c.DType, Values: vals}
}

// Frame is an ordered set of equal-length columns.
type Frame struct {
	Columns []*Column
}

// New builds a frame and validates column lengths.
func New(cols ...*Column) (*Frame, error) {
	f := &Frame{}
	for _, c := range cols {
		if len(f.Columns) > 0 && c.Len() != f.Len() {
			return nil, fmt.Errorf("%w: %q has %d rows, want %d", ErrLengthMismatch, c.Name, c.Len(), f.Len())
		}
		f.Columns = append(f.Columns, c)
	}
	return f, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if len(f.Columns) == 0 {
		return 0
	}
	return f.Columns[0].Len()
}

// Names returns column names in order.
func (f *Frame) Names() []string {
	out := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		out[i] = c.Name
	}
	return out
}

// Column looks up a column by exact name.
func (f *Frame) Column(name string) (*Column, error) {
	for _, c := range f.Columns {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}

// Has reports whether a column exists.
func (f *Frame) Has(name string) bool {
	_, err := f.Column(name)
	return err == nil
}

// SetColumn replaces the column with the same name or appends it.
func (f *Frame) SetColumn(c *Column) error {
	if len(f.Columns) > 0 && c.Len() != f.Len() {
		return fmt.Errorf("%w: %q has %d rows, want %d", ErrLengthMismatch, c.Name, c.Len(), f.Len())
	}
	for i, existing := range f.Columns {
		if existing.Name == c.Name {
			f.Columns[i] = c
			return nil
		}
	}
	f.Columns = append(f.Columns, c)
	return nil
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := &Frame{Columns: make([]*Column, len(f.Columns))}
	for i, c := range f.Columns {
		out.Columns[i] = c.Clone()
	}
	return out
}

// Without returns a frame sharing columns except the named ones.
func (f *Frame) Without(names ...string) *Frame {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	out := &Frame{}
	for _, c := range f.Columns {
		if _, ok := drop[c.Name]; !ok {
			out.Columns = append(out.Columns, c)
		}
	}
	return out
}

// FilterRows returns a copy keeping rows where keep[i] is true.
func (f *Frame) FilterRows(keep []bool) *Frame {
	out := &Frame{Columns: make([]*Column, len(f.Columns))}
	for i, c := range f.Columns {
		vals := make([]Value, 0, len(c.Values))
		for r, v := range c.Values {
			if keep[r] {
				vals = append(vals, v)
			}
		}
		out.Columns[i] = &Column{Name: c.Name, DType: c.DType, Values: vals}
	}
	return out
}

// DTypes returns the dtype label per column.
func (f *Frame) DTypes() map[string]string {
	out := make(map[string]string, len(f.Columns))
	for _, c := range f.Columns {
		out[c.Name] = c.DType
	}
	return out
}

// inferDType picks a dtype for already-typed values, mirroring how a CSV
// reader would type them: ints with nulls widen to float64, bools with
// nulls fall back to object.
func inferDType(values []Value) string {
	var ints, floats, bools, strs, nulls int
	for _, v := range values {
		switch v.Kind {
		case KindNull:
			nulls++
		case KindInt:
			ints++
		case KindFloat:
			floats++
		case KindBool:
			bools++
		case KindString:
			strs++
		}
	}
	present := len(values) - nulls
	switch {
	case present == 0:
		return DTypeFloat64
	case ints == present && nulls == 0:
		return DTypeInt64
	case ints+floats == present:
		return DTypeFloat64
	case bools == present && nulls == 0:
		return DTypeBool
	}
	return DTypeObject
}

// Normalize rewrites cells to match the column dtype after inference, e.g.
// ints in a float64 column become floats.
func (c *Column) Normalize() {
	c.DType = inferDType(c.Values)
	if c.DType != DTypeFloat64 {
		return
	}
	for i, v := range c.Values {
		if v.Kind == KindInt {
			c.Values[i] = Float(float64(v.I))
		}
	}
}

// DropNullRows returns a copy without the rows where col is missing.
func (f *Frame) DropNullRows(col string) (*Frame, error) {
	c, err := f.Column(col)
	if err != nil {
		return nil, err
	}
	keep := make([]bool, c.Len())
	for i, v := range c.Values {
		keep[i] = !v.IsNull()
	}
	return f.FilterRows(keep), nil
}

// Meta describes a stored dataset.
type Meta struct {
	UserID   string
	CSVID    string
	FileName string
	Size     int
	Columns  int
	Rows     int
}

// Meta summarizes the frame for the storage service. size is the byte
// length of the encoded CSV.
func (f *Frame) Meta(fileName, userID, csvID string, size int) Meta {
	return Meta{
		UserID:   userID,
		CSVID:    csvID,
		FileName: fileName,
		Size:     size,
		Columns:  len(f.Columns),
		Rows:     f.Len(),
	}
}
