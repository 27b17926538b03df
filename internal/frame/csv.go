package frame

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrNoHeader is returned when the input has no header row.
var ErrNoHeader = errors.New("csv has no header row")

// ReadCSV parses a comma-separated table with a header row and infers a
// dtype per column.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoHeader
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = append([]string(nil), header...)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	names := dedupeNames(header)
	ncol := len(names)

	raw := make([][]string, ncol)
	row := 0
	for {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", row+1, err)
		}
		row++
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" && ncol > 1 {
			continue
		}
		if len(rec) > ncol {
			return nil, fmt.Errorf("read row %d: %d fields, header has %d", row, len(rec), ncol)
		}
		for j := 0; j < ncol; j++ {
			v := ""
			if j < len(rec) {
				v = rec[j]
			}
			raw[j] = append(raw[j], v)
		}
	}

	f := &Frame{Columns: make([]*Column, ncol)}
	for j, name := range names {
		f.Columns[j] = parseColumn(name, raw[j])
	}
	return f, nil
}

// ReadCSVBytes is ReadCSV over an in-memory buffer.
func ReadCSVBytes(b []byte) (*Frame, error) { return ReadCSV(bytes.NewReader(b)) }

func dedupeNames(header []string) []string {
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		name := h
		if n, ok := seen[h]; ok {
			name = fmt.Sprintf("%s.%d", h, n)
		}
		seen[h]++
		out[i] = name
	}
	return out
}

// parseColumn types raw fields: int64 when every present field is an
// integer (float64 if any are missing), float64 when every present field is
// numeric, bool when every field is a boolean literal, else object.
func parseColumn(name string, fields []string) *Column {
	allInt, allNum, allBool := true, true, true
	present := 0
	nulls := 0
	for _, s := range fields {
		if IsNA(s) {
			nulls++
			continue
		}
		present++
		t := strings.TrimSpace(s)
		if allInt {
			if _, err := strconv.ParseInt(t, 10, 64); err != nil {
				allInt = false
			}
		}
		if allNum && !allInt {
			if _, ok := parseFloat(t); !ok {
				allNum = false
			}
		}
		if allBool {
			if _, ok := parseBool(t); !ok {
				allBool = false
			}
		}
	}

	vals := make([]Value, len(fields))
	dtype := DTypeObject
	switch {
	case present == 0:
		dtype = DTypeFloat64
	case allInt && nulls == 0:
		dtype = DTypeInt64
	case allInt || allNum:
		dtype = DTypeFloat64
	case allBool && nulls == 0:
		dtype = DTypeBool
	}
	for i, s := range fields {
		if IsNA(s) {
			continue
		}
		t := strings.TrimSpace(s)
		switch dtype {
		case DTypeInt64:
			n, _ := strconv.ParseInt(t, 10, 64)
			vals[i] = Int(n)
		case DTypeFloat64:
			x, _ := parseFloat(t)
			vals[i] = Float(x)
		case DTypeBool:
			b, _ := parseBool(t)
			vals[i] = Bool(b)
		default:
			vals[i] = Str(s)
		}
	}
	return &Column{Name: name, DType: dtype, Values: vals}
}

// WriteCSV writes the frame with a header row. Missing cells are empty.
func (f *Frame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Names()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rec := make([]string, len(f.Columns))
	for r := 0; r < f.Len(); r++ {
		for j, c := range f.Columns {
			rec[j] = c.Values[r].String()
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", r+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVBytes renders the frame as CSV.
func (f *Frame) CSVBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := f.WriteCSV(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ApplyDTypes coerces columns to the dtypes recorded alongside the CSV.
// Columns absent from the frame are ignored. An int64 column holding nulls
// stays float64 since int64 cannot represent a missing cell.
func (f *Frame) ApplyDTypes(dtypes map[string]string) error {
	for name, dtype := range dtypes {
		c, err := f.Column(name)
		if err != nil {
			continue
		}
		if err := c.Convert(dtype); err != nil {
			return err
		}
	}
	return nil
}

// Convert coerces every cell in place to dtype.
func (c *Column) Convert(dtype string) error {
	switch dtype {
	case DTypeObject, "category", "string", "str":
		for i, v := range c.Values {
			if !v.IsNull() && v.Kind != KindString {
				c.Values[i] = Str(v.String())
			}
		}
		c.DType = DTypeObject
	case DTypeInt64, "int32", "int":
		if c.HasNulls() {
			return c.Convert(DTypeFloat64)
		}
		for i, v := range c.Values {
			n, err := toInt(v)
			if err != nil {
				return fmt.Errorf("%w: column %q row %d: %v", ErrTypeMismatch, c.Name, i+1, err)
			}
			c.Values[i] = Int(n)
		}
		c.DType = DTypeInt64
	case DTypeFloat64, "float32", "float":
		for i, v := range c.Values {
			if v.IsNull() {
				continue
			}
			x, err := toFloat(v)
			if err != nil {
				return fmt.Errorf("%w: column %q row %d: %v", ErrTypeMismatch, c.Name, i+1, err)
			}
			c.Values[i] = Float(x)
		}
		c.DType = DTypeFloat64
	case DTypeBool:
		for i, v := range c.Values {
			if v.IsNull() || v.Kind == KindBool {
				continue
			}
			switch v.Kind {
			case KindString:
				b, ok := parseBool(strings.TrimSpace(v.S))
				if !ok {
					return fmt.Errorf("%w: column %q row %d: %q is not a bool", ErrTypeMismatch, c.Name, i+1, v.S)
				}
				c.Values[i] = Bool(b)
			default:
				x, _ := v.Number()
				c.Values[i] = Bool(x != 0)
			}
		}
		if c.HasNulls() {
			c.DType = DTypeObject
		} else {
			c.DType = DTypeBool
		}
	default:
		return fmt.Errorf("%w: unsupported dtype %q for column %q", ErrTypeMismatch, dtype, c.Name)
	}
	return nil
}

func toInt(v Value) (int64, error) {
	switch v.Kind {
	case KindInt:
		return v.I, nil
	case KindFloat:
		if v.F != math.Trunc(v.F) || math.IsInf(v.F, 0) {
			return 0, fmt.Errorf("%v is not integral", v.F)
		}
		return int64(v.F), nil
	case KindBool:
		if v.B {
			return 1, nil
		}
		return 0, nil
	case KindString:
		t := strings.TrimSpace(v.S)
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, nil
		}
		if x, ok := parseFloat(t); ok && x == math.Trunc(x) {
			return int64(x), nil
		}
		return 0, fmt.Errorf("%q is not an integer", v.S)
	}
	return 0, errors.New("missing value")
}

func toFloat(v Value) (float64, error) {
	switch v.Kind {
	case KindInt:
		return float64(v.I), nil
	case KindFloat:
		return v.F, nil
	case KindBool:
		if v.B {
			return 1, nil
		}
		return 0, nil
	case KindString:
		if x, ok := parseFloat(strings.TrimSpace(v.S)); ok {
			return x, nil
		}
		return 0, fmt.Errorf("%q is not a number", v.S)
	}
	return 0, errors.New("missing value")
}
