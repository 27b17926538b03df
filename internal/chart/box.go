package chart

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/KaramelBytes/dataloom/internal/frame"
)

// Box draws one box of y per level of x. An empty x draws a single box.
func Box(f *frame.Frame, x, y string) ([]byte, error) {
	yc, err := numericColumn(f, y)
	if err != nil {
		return nil, err
	}
	gs := []group{{label: y, rows: allRows(f.Len())}}
	if x != "" {
		xc, err := f.Column(x)
		if err != nil {
			return nil, err
		}
		gs = groups(xc)
	}
	ys := yc.Floats()
	p := plot.New()
	p.X.Label.Text = x
	p.Y.Label.Text = y
	var names []string
	for _, g := range gs {
		vals := make(plotter.Values, 0, len(g.rows))
		for _, r := range g.rows {
			if finite(ys[r]) {
				vals = append(vals, ys[r])
			}
		}
		if len(vals) == 0 {
			continue
		}
		b, err := plotter.NewBoxPlot(vg.Points(30), float64(len(names)), vals)
		if err != nil {
			return nil, fmt.Errorf("box %q: %w", g.label, err)
		}
		b.FillColor = translucent(palette(len(names)))
		p.Add(b)
		names = append(names, g.label)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %q has no values", ErrEmpty, y)
	}
	p.NominalX(names...)
	return render(p, Width, Height)
}
