package chart

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Bar is one labelled horizontal bar.
type Bar struct {
	Label string
	Value float64
}

// Importance draws the first topN bars (all when topN <= 0) top to bottom,
// titled "Top N Feature Importance".
func Importance(bars []Bar, topN int) ([]byte, error) {
	if topN <= 0 || topN > len(bars) {
		topN = len(bars)
	}
	if topN == 0 {
		return nil, fmt.Errorf("%w: no features", ErrEmpty)
	}
	bars = bars[:topN]
	// NominalY places the first label at the bottom.
	vals := make(plotter.Values, topN)
	names := make([]string, topN)
	for i, b := range bars {
		vals[topN-1-i] = b.Value
		names[topN-1-i] = b.Label
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Top %d Feature Importance", topN)
	p.X.Label.Text = "Importance"
	p.Y.Label.Text = "Feature"
	bc, err := plotter.NewBarChart(vals, vg.Points(14))
	if err != nil {
		return nil, fmt.Errorf("importance bars: %w", err)
	}
	bc.Horizontal = true
	bc.Color = palette(0)
	p.Add(bc)
	p.NominalY(names...)
	h := Height
	if rows := vg.Length(topN) * vg.Points(20); rows > h {
		h = rows
	}
	return render(p, 12*vg.Inch, h)
}
