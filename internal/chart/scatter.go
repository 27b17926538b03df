package chart

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/KaramelBytes/dataloom/internal/frame"
)

// ScatterOptions control the regression overlay.
type ScatterOptions struct {
	FitReg bool
	// Order is the polynomial degree of the fitted curve; values below 1 mean 1.
	Order int
}

// fitPoints is the resolution of a fitted curve.
const fitPoints = 100

// Scatter plots y against x, one colour per hue level, optionally overlaying
// a least squares polynomial per group.
func Scatter(f *frame.Frame, x, y, hue string, opt ScatterOptions) ([]byte, error) {
	xc, err := numericColumn(f, x)
	if err != nil {
		return nil, err
	}
	yc, err := numericColumn(f, y)
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
	order := opt.Order
	if order < 1 {
		order = 1
	}

	p := plot.New()
	p.X.Label.Text = x
	p.Y.Label.Text = y
	xs, ys := xc.Floats(), yc.Floats()
	drawn := 0
	for i, g := range gs {
		pts := make(plotter.XYs, 0, len(g.rows))
		for _, r := range g.rows {
			if !finite(xs[r]) || !finite(ys[r]) {
				continue
			}
			pts = append(pts, plotter.XY{X: xs[r], Y: ys[r]})
		}
		if len(pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("scatter %q: %w", g.label, err)
		}
		s.GlyphStyle.Color = palette(i)
		s.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(s)
		if g.label != "" {
			p.Legend.Add(g.label, s)
		}
		drawn++

		if !opt.FitReg {
			continue
		}
		line, err := fitLine(pts, order)
		if err != nil {
			continue
		}
		l, err := plotter.NewLine(line)
		if err != nil {
			return nil, fmt.Errorf("fit line %q: %w", g.label, err)
		}
		l.LineStyle.Color = palette(i)
		l.LineStyle.Width = vg.Points(2)
		p.Add(l)
	}
	if drawn == 0 {
		return nil, fmt.Errorf("%w: no rows with both %q and %q", ErrEmpty, x, y)
	}
	if hasHue(hue) {
		p.Legend.Top = true
		p.Title.Text = hue
	}
	return render(p, Width, Height)
}

// fitLine samples the least squares polynomial of the given degree through
// pts across their x range.
func fitLine(pts plotter.XYs, degree int) (plotter.XYs, error) {
	coef, err := PolyFit(pts, degree)
	if err != nil {
		return nil, err
	}
	lo, hi := pts[0].X, pts[0].X
	for _, p := range pts {
		lo = math.Min(lo, p.X)
		hi = math.Max(hi, p.X)
	}
	out := make(plotter.XYs, fitPoints)
	step := (hi - lo) / float64(fitPoints-1)
	for i := range out {
		x := lo + float64(i)*step
		out[i] = plotter.XY{X: x, Y: PolyEval(coef, x)}
	}
	return out, nil
}

var errUnderdetermined = errors.New("not enough distinct x values for the requested degree")

// PolyFit returns coefficients c0..cd of the least squares polynomial
// c0 + c1*x + ... + cd*x^d.
func PolyFit(pts plotter.XYs, degree int) ([]float64, error) {
	clean := make(plotter.XYs, 0, len(pts))
	for _, p := range pts {
		if finite(p.X) && finite(p.Y) {
			clean = append(clean, p)
		}
	}
	pts = clean
	distinct := make(map[float64]struct{}, len(pts))
	for _, p := range pts {
		distinct[p.X] = struct{}{}
	}
	if len(distinct) <= degree {
		return nil, errUnderdetermined
	}
	a := mat.NewDense(len(pts), degree+1, nil)
	b := mat.NewVecDense(len(pts), nil)
	for i, p := range pts {
		v := 1.0
		for j := 0; j <= degree; j++ {
			a.Set(i, j, v)
			v *= p.X
		}
		b.SetVec(i, p.Y)
	}
	var c mat.VecDense
	if err := c.SolveVec(a, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, err
		}
	}
	return c.RawVector().Data, nil
}

// PolyEval evaluates coefficients from PolyFit at x.
func PolyEval(coef []float64, x float64) float64 {
	y := 0.0
	for i := len(coef) - 1; i >= 0; i-- {
		y = y*x + coef[i]
	}
	return y
}
