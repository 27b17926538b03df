package frame

import (
	"errors"
	"math"
	"strings"
	"testing"
)

const sampleCSV = `id,age,name,member,score
1,34,alice,True,1.5
2,,bob,False,2
3,51,carol,True,NA
4,28,,False,4.25
`

func TestReadCSV_InfersDTypes(t *testing.T) {
	f, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if f.Len() != 4 {
		t.Fatalf("rows=%d want 4", f.Len())
	}
	want := map[string]string{
		"id":     DTypeInt64,
		"age":    DTypeFloat64,
		"name":   DTypeObject,
		"member": DTypeBool,
		"score":  DTypeFloat64,
	}
	for name, dt := range want {
		c, err := f.Column(name)
		if err != nil {
			t.Fatalf("column %s: %v", name, err)
		}
		if c.DType != dt {
			t.Errorf("%s dtype=%s want %s", name, c.DType, dt)
		}
	}
	age, _ := f.Column("age")
	if age.NullCount() != 1 {
		t.Errorf("age nulls=%d want 1", age.NullCount())
	}
	name, _ := f.Column("name")
	if !name.Values[3].IsNull() {
		t.Errorf("empty name should be null, got %#v", name.Values[3])
	}
}

func TestReadCSV_OutOfRangeFloats(t *testing.T) {
	f, err := ReadCSV(strings.NewReader("x,y\n1,a\n1e400,b\n-inf,c\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	x, _ := f.Column("x")
	if x.DType != DTypeFloat64 {
		t.Fatalf("x dtype=%s want float64", x.DType)
	}
	if !math.IsInf(x.Values[1].F, 1) || !math.IsInf(x.Values[2].F, -1) {
		t.Fatalf("x values=%v", x.Values)
	}
	if got := FormatFloat(x.Values[1].F); got != "inf" {
		t.Fatalf("FormatFloat(+Inf)=%q", got)
	}
}

func TestReadCSV_DuplicateHeadersAndShortRows(t *testing.T) {
	f, err := ReadCSV(strings.NewReader("a,a,b\n1,2\n3,4,5\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if got := strings.Join(f.Names(), ","); got != "a,a.1,b" {
		t.Fatalf("names=%s", got)
	}
	b, _ := f.Column("b")
	if !b.Values[0].IsNull() {
		t.Errorf("padded cell should be null")
	}
}

func TestReadCSV_Errors(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("")); !errors.Is(err, ErrNoHeader) {
		t.Fatalf("want ErrNoHeader, got %v", err)
	}
	if _, err := ReadCSV(strings.NewReader("a,b\n1,2,3\n")); err == nil {
		t.Fatalf("expected error for long row")
	}
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	f, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	out, err := f.CSVBytes()
	if err != nil {
		t.Fatalf("CSVBytes: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if lines[0] != "id,age,name,member,score" {
		t.Fatalf("header=%q", lines[0])
	}
	if lines[1] != "1,34.0,alice,True,1.5" {
		t.Errorf("row1=%q", lines[1])
	}
	if lines[2] != "2,,bob,False,2.0" {
		t.Errorf("row2=%q", lines[2])
	}
	back, err := ReadCSVBytes(out)
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	for name, dt := range f.DTypes() {
		c, _ := back.Column(name)
		if c.DType != dt {
			t.Errorf("%s dtype changed %s -> %s", name, dt, c.DType)
		}
	}
}

func TestApplyDTypes(t *testing.T) {
	f, err := ReadCSV(strings.NewReader("zip,flag,n\n01234,1,3\n98765,0,4\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if err := f.ApplyDTypes(map[string]string{"zip": "object", "n": "float64", "missing": "int64"}); err != nil {
		t.Fatalf("ApplyDTypes: %v", err)
	}
	zip, _ := f.Column("zip")
	if zip.DType != DTypeObject || zip.Values[0].S != "1234" {
		t.Errorf("zip=%s %#v", zip.DType, zip.Values[0])
	}
	n, _ := f.Column("n")
	if n.DType != DTypeFloat64 || n.Values[1].Kind != KindFloat {
		t.Errorf("n=%s %#v", n.DType, n.Values[1])
	}
	if err := f.ApplyDTypes(map[string]string{"zip": "complex128"}); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("want ErrTypeMismatch, got %v", err)
	}
}

func TestConvert_IntWithNullsWidens(t *testing.T) {
	c := &Column{Name: "x", DType: DTypeObject, Values: []Value{Str("1"), Null(), Str("3")}}
	if err := c.Convert(DTypeInt64); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if c.DType != DTypeFloat64 {
		t.Fatalf("dtype=%s want float64", c.DType)
	}
}

func TestValueCountsAndDistinct(t *testing.T) {
	c := NewColumn("c", []Value{Str("b"), Str("a"), Null(), Str("a"), Str("c"), Str("b"), Str("a")})
	vc := c.ValueCounts()
	if len(vc) != 3 || vc[0].Value.S != "a" || vc[0].Count != 3 || vc[1].Value.S != "b" {
		t.Fatalf("value counts=%v", vc)
	}
	d := c.Distinct()
	if len(d) != 3 || d[0].S != "b" || d[1].S != "a" || d[2].S != "c" {
		t.Fatalf("distinct=%v", d)
	}
	if c.Unique() != 3 || c.NullCount() != 1 {
		t.Fatalf("unique=%d nulls=%d", c.Unique(), c.NullCount())
	}
}

func TestFormatFloat(t *testing.T) {
	cases := map[float64]string{
		2:      "2.0",
		1.5:    "1.5",
		-0.25:  "-0.25",
		1e-7:   "1e-07",
		123456: "123456.0",
		0:      "0.0",
	}
	for in, want := range cases {
		if got := FormatFloat(in); got != want {
			t.Errorf("FormatFloat(%v)=%q want %q", in, got, want)
		}
	}
}

func TestSetColumnLengthMismatch(t *testing.T) {
	f, _ := New(NewColumn("a", []Value{Int(1), Int(2)}))
	err := f.SetColumn(NewColumn("b", []Value{Int(1)}))
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("want ErrLengthMismatch, got %v", err)
	}
}

func TestDropNullRows(t *testing.T) {
	f, _ := New(
		NewColumn("a", []Value{Int(1), Null(), Int(3)}),
		NewColumn("b", []Value{Str("x"), Str("y"), Str("z")}),
	)
	out, err := f.DropNullRows("a")
	if err != nil {
		t.Fatalf("DropNullRows: %v", err)
	}
	b, _ := out.Column("b")
	if out.Len() != 2 || b.Values[1].S != "z" {
		t.Fatalf("unexpected result len=%d", out.Len())
	}
	if _, err := f.DropNullRows("nope"); !errors.Is(err, ErrColumnNotFound) {
		t.Fatalf("want ErrColumnNotFound, got %v", err)
	}
}
