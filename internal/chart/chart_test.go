package chart

import (
	"bytes"
	"encoding/base64"
	"errors"
	"math"
	"strconv"
	"strings"
	"testing"

	"gonum.org/v1/plot/plotter"

	"github.com/KaramelBytes/dataloom/internal/frame"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func sample(t *testing.T) *frame.Frame {
	t.Helper()
	var b strings.Builder
	b.WriteString("x,y,kind,flag\n")
	for i := 0; i < 30; i++ {
		kind := "a"
		if i%2 == 1 {
			kind = "b"
		}
		b.WriteString(strings.Join([]string{
			strconv.Itoa(i), strconv.Itoa(i*i - 3*i), kind, []string{"True", "False", ""}[i%3],
		}, ","))
		b.WriteByte('\n')
	}
	b.WriteString(",4,a,True\n")
	f, err := frame.ReadCSV(strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	return f
}

func assertPNG(t *testing.T, name string, b []byte, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if !bytes.HasPrefix(b, pngMagic) {
		t.Fatalf("%s: output is not a png (%d bytes)", name, len(b))
	}
}

func TestRenderers(t *testing.T) {
	f := sample(t)
	b, err := Scatter(f, "x", "y", NoHue, ScatterOptions{})
	assertPNG(t, "scatter", b, err)
	b, err = Scatter(f, "x", "y", "kind", ScatterOptions{FitReg: true, Order: 2})
	assertPNG(t, "scatter hue fit", b, err)
	b, err = Histogram(f, "y", "")
	assertPNG(t, "hist", b, err)
	b, err = Histogram(f, "y", "kind")
	assertPNG(t, "hist hue", b, err)
	b, err = Histogram(f, "kind", "flag")
	assertPNG(t, "hist categorical", b, err)
	b, err = Box(f, "kind", "y")
	assertPNG(t, "box", b, err)
	b, err = Box(f, "", "y")
	assertPNG(t, "box single", b, err)
	b, err = Pie(f, "kind")
	assertPNG(t, "pie", b, err)
	b, err = Importance([]Bar{{"x", 0.7}, {"kind", 0.2}, {"flag", 0.1}}, 20)
	assertPNG(t, "importance", b, err)

	if _, err := base64.StdEncoding.DecodeString(Base64(b)); err != nil {
		t.Fatalf("Base64 round trip: %v", err)
	}
}

func TestRendererErrors(t *testing.T) {
	f := sample(t)
	if _, err := Scatter(f, "kind", "y", "", ScatterOptions{}); !errors.Is(err, ErrNotNumeric) {
		t.Fatalf("scatter on object: %v", err)
	}
	if _, err := Scatter(f, "x", "missing", "", ScatterOptions{}); !errors.Is(err, frame.ErrColumnNotFound) {
		t.Fatalf("scatter on missing column: %v", err)
	}
	if _, err := Box(f, "kind", "flag"); !errors.Is(err, ErrNotNumeric) {
		t.Fatalf("box on bool: %v", err)
	}
	if _, err := Importance(nil, 20); !errors.Is(err, ErrEmpty) {
		t.Fatalf("empty importance: %v", err)
	}
	empty, _ := frame.New(frame.NewColumn("c", []frame.Value{frame.Null(), frame.Null()}))
	if _, err := Pie(empty, "c"); !errors.Is(err, ErrEmpty) {
		t.Fatalf("pie on empty column: %v", err)
	}
}

func TestSlices(t *testing.T) {
	f, _ := frame.New(frame.NewColumn("c", []frame.Value{
		frame.Str("a"), frame.Str("b"), frame.Str("a"), frame.Null(),
	}))
	got, err := Slices(f, "c")
	if err != nil {
		t.Fatalf("Slices: %v", err)
	}
	if len(got) != 2 || got[0].Label != "a" || got[0].Count != 2 || got[0].Percent != 50 || got[1].Percent != 25 {
		t.Fatalf("slices=%+v", got)
	}
}

func TestPolyFit(t *testing.T) {
	var pts plotter.XYs
	for x := -3.0; x <= 3; x++ {
		pts = append(pts, plotter.XY{X: x, Y: 2*x*x - x + 1})
	}
	pts = append(pts, plotter.XY{X: math.Inf(1), Y: 3}, plotter.XY{X: 5, Y: math.Inf(-1)})
	coef, err := PolyFit(pts, 2)
	if err != nil {
		t.Fatalf("PolyFit: %v", err)
	}
	want := []float64{1, -1, 2}
	for i := range want {
		if math.Abs(coef[i]-want[i]) > 1e-9 {
			t.Fatalf("coef=%v want %v", coef, want)
		}
	}
	if y := PolyEval(coef, 4); math.Abs(y-29) > 1e-9 {
		t.Fatalf("PolyEval(4)=%v", y)
	}
	if _, err := PolyFit(plotter.XYs{{X: 1, Y: 1}, {X: 1, Y: 2}}, 1); err == nil {
		t.Fatalf("expected error for a single distinct x")
	}
}

func TestBinEdges(t *testing.T) {
	edges := BinEdges([]float64{0, 1, 2, 3, 4, 5, 6, 8})
	// 8 values: ceil(log2 8)+1 = 4 bins
	if len(edges) != 5 || edges[0] != 0 || edges[4] != 8 || edges[1] != 2 {
		t.Fatalf("edges=%v", edges)
	}
	if e := BinEdges([]float64{3, 3}); len(e) != 2 || e[0] != 2.5 || e[1] != 3.5 {
		t.Fatalf("constant edges=%v", e)
	}
	if e := BinEdges([]float64{0, math.Inf(1), 8, math.NaN(), math.Inf(-1)}); len(e) != 3 || e[0] != 0 || e[2] != 8 {
		t.Fatalf("edges ignoring non-finite=%v", e)
	}
	if e := BinEdges([]float64{math.Inf(1), math.NaN()}); e != nil {
		t.Fatalf("edges of non-finite sample=%v want nil", e)
	}
}

func TestRenderersSkipInfinities(t *testing.T) {
	f, err := frame.ReadCSV(strings.NewReader("x,y,g\n1,2,a\n2,inf,b\ninf,3,a\n3,5,b\n-inf,-inf,a\n4,4,b\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	b, err := Histogram(f, "x", "")
	assertPNG(t, "hist", b, err)
	b, err = Histogram(f, "y", "g")
	assertPNG(t, "hist hue", b, err)
	b, err = Scatter(f, "x", "y", "g", ScatterOptions{FitReg: true, Order: 1})
	assertPNG(t, "scatter fit", b, err)
	b, err = Box(f, "g", "y")
	assertPNG(t, "box", b, err)

	inf, err := frame.ReadCSV(strings.NewReader("x\ninf\n-inf\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if _, err := Histogram(inf, "x", ""); !errors.Is(err, ErrEmpty) {
		t.Fatalf("hist of infinities err=%v want ErrEmpty", err)
	}
	if _, err := Box(inf, "", "x"); !errors.Is(err, ErrEmpty) {
		t.Fatalf("box of infinities err=%v want ErrEmpty", err)
	}
}
