package chart

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/KaramelBytes/dataloom/internal/frame"
)

// Histogram plots the distribution of column. Numeric columns are binned on
// shared edges, one translucent layer per hue level; other columns are drawn
// as count bars per category.
func Histogram(f *frame.Frame, column, hue string) ([]byte, error) {
	c, err := f.Column(column)
	if err != nil {
		return nil, err
	}
	gs := []group{{label: "", rows: allRows(f.Len())}}
	if hasHue(hue) {
		hc, err := f.Column(hue)
		if err != nil {
			return nil, err
		}
		gs = groups(hc)
	}
	p := plot.New()
	p.X.Label.Text = column
	p.Y.Label.Text = "Count"
	if c.IsNumeric() {
		err = numericHist(p, c, gs)
	} else {
		err = categoryCounts(p, c, gs)
	}
	if err != nil {
		return nil, err
	}
	if hasHue(hue) {
		p.Legend.Top = true
		p.Title.Text = hue
	}
	return render(p, Width, Height)
}

func numericHist(p *plot.Plot, c *frame.Column, gs []group) error {
	vals := c.Floats()
	edges := BinEdges(vals)
	if edges == nil {
		return fmt.Errorf("%w: %q has no finite values", ErrEmpty, c.Name)
	}
	width := edges[1] - edges[0]
	for i, g := range gs {
		bins := make([]plotter.HistogramBin, len(edges)-1)
		for k := range bins {
			bins[k].Min, bins[k].Max = edges[k], edges[k+1]
		}
		n := 0
		for _, r := range g.rows {
			v := vals[r]
			if !finite(v) {
				continue
			}
			k := int((v - edges[0]) / width)
			if k >= len(bins) {
				k = len(bins) - 1
			}
			if k < 0 {
				k = 0
			}
			bins[k].Weight++
			n++
		}
		if n == 0 {
			continue
		}
		h := &plotter.Histogram{Bins: bins, Width: width, LineStyle: plotter.DefaultLineStyle}
		h.FillColor = palette(i)
		if len(gs) > 1 {
			h.FillColor = translucent(palette(i))
		}
		p.Add(h)
		if g.label != "" {
			p.Legend.Add(g.label, h)
		}
	}
	return nil
}

// BinEdges returns Sturges bin edges spanning the finite values of vals, or
// nil when there are none. A constant sample gets a single unit-wide bin
// around its value.
func BinEdges(vals []float64) []float64 {
	n := 0
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		if !finite(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		n++
	}
	if n == 0 {
		return nil
	}
	if lo == hi {
		return []float64{lo - 0.5, hi + 0.5}
	}
	bins := int(math.Ceil(math.Log2(float64(n)))) + 1
	edges := make([]float64, bins+1)
	step := (hi - lo) / float64(bins)
	for i := range edges {
		edges[i] = lo + float64(i)*step
	}
	edges[bins] = hi
	return edges
}

func categoryCounts(p *plot.Plot, c *frame.Column, gs []group) error {
	levels := c.Distinct()
	if len(levels) == 0 {
		return fmt.Errorf("%w: %q has no values", ErrEmpty, c.Name)
	}
	index := make(map[frame.Value]int, len(levels))
	names := make([]string, len(levels))
	for i, v := range levels {
		index[v] = i
		names[i] = v.String()
	}
	barWidth := vg.Points(40 / float64(len(gs)))
	for i, g := range gs {
		counts := make(plotter.Values, len(levels))
		for _, r := range g.rows {
			v := c.Values[r]
			if v.IsNull() {
				continue
			}
			counts[index[v]]++
		}
		b, err := plotter.NewBarChart(counts, barWidth)
		if err != nil {
			return fmt.Errorf("bars %q: %w", g.label, err)
		}
		b.Color = palette(i)
		b.Offset = barWidth * vg.Length(float64(i)-float64(len(gs)-1)/2)
		p.Add(b)
		if g.label != "" {
			p.Legend.Add(g.label, b)
		}
	}
	p.NominalX(names...)
	return nil
}
