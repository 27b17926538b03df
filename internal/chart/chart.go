// Package chart renders dataframe columns as PNG images.
package chart

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/KaramelBytes/dataloom/internal/frame"
)

var (
	ErrNotNumeric = errors.New("column is not numeric")
	ErrEmpty      = errors.New("nothing to plot")
)

// Default canvas size in points (640x480 px at 100 dpi).
const (
	Width  = 6.4 * vg.Inch
	Height = 4.8 * vg.Inch
)

// NoHue is the sentinel the frontend sends when no grouping column is chosen.
const NoHue = "None"

// Base64 encodes a PNG for JSON transport.
func Base64(png []byte) string { return base64.StdEncoding.EncodeToString(png) }

func render(p *plot.Plot, w, h vg.Length) ([]byte, error) {
	wt, err := p.WriterTo(w, h, "png")
	if err != nil {
		return nil, fmt.Errorf("render png: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render png: %w", err)
	}
	return buf.Bytes(), nil
}

func palette(i int) color.Color { return plotutil.Color(i) }

func translucent(c color.Color) color.Color {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = 128
	return n
}

func numericColumn(f *frame.Frame, name string) (*frame.Column, error) {
	c, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	if !c.IsNumeric() {
		return nil, fmt.Errorf("%w: %q is %s", ErrNotNumeric, name, c.DType)
	}
	return c, nil
}

// finite reports whether v can be placed on an axis. Nulls read as NaN and
// CSV "inf" cells as ±Inf; both are skipped by every renderer.
func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func hasHue(hue string) bool { return hue != "" && hue != NoHue }

// group is the set of row indices sharing one hue value.
type group struct {
	label string
	rows  []int
}

// groups partitions rows by the string form of col. Numeric columns are
// ordered by value; others keep first-appearance order. Null cells are left
// out.
func groups(col *frame.Column) []group {
	levels := col.Distinct()
	if col.IsNumeric() {
		sort.SliceStable(levels, func(i, j int) bool { return levels[i].Less(levels[j]) })
	}
	index := make(map[string]int, len(levels))
	out := make([]group, len(levels))
	for i, v := range levels {
		out[i].label = v.String()
		index[out[i].label] = i
	}
	for r, v := range col.Values {
		if v.IsNull() {
			continue
		}
		k := index[v.String()]
		out[k].rows = append(out[k].rows, r)
	}
	return out
}

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}
