// Package impute fills missing cells of a single dataframe column.
package impute

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/KaramelBytes/dataloom/internal/analysis"
	"github.com/KaramelBytes/dataloom/internal/forest"
	"github.com/KaramelBytes/dataloom/internal/frame"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"
)

// Method names an imputation strategy.
type Method string

const (
	Mean         Method = "mean"
	Median       Method = "median"
	Constant     Method = "constant"
	Linear       Method = "linear"
	Spline       Method = "spline"
	KNN          Method = "knn"
	RandomForest Method = "random_forest"
	Mode         Method = "mode"
	HotDeck      Method = "hot_deck"
)

// Fill constants used by the constant method.
const (
	NumericConstant     = 0.0
	CategoricalConstant = "Unknown"
)

var (
	ErrUnknownMethod = errors.New("unknown imputation method")
	ErrWrongKind     = errors.New("column kind does not match imputation method")
	ErrNoObserved    = errors.New("column has no observed values")
)

// labels accepted from the frontend in addition to the English ids.
var labels = map[string]Method{
	"平均値補完":       Mean,
	"中央値補完":       Median,
	"定数値補完":       Constant,
	"線形補完":        Linear,
	"スプライン補完":     Spline,
	"KNN補完":       KNN,
	"ランダムフォレスト補完": RandomForest,
	"最頻値補完":       Mode,
	"ホットデッキ法":     HotDeck,
}

var numericMethods = map[Method]bool{Mean: true, Median: true, Constant: true, Linear: true, Spline: true, KNN: true, RandomForest: true}
var categoricalMethods = map[Method]bool{Mode: true, Constant: true, HotDeck: true}

// ParseMethod resolves a frontend label or English id.
func ParseMethod(s string) (Method, error) {
	s = strings.TrimSpace(s)
	if m, ok := labels[s]; ok {
		return m, nil
	}
	m := Method(strings.ToLower(s))
	if numericMethods[m] || categoricalMethods[m] {
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Options tune the model-based methods.
type Options struct {
	// Neighbors used by KNN.
	Neighbors int
	// Trees used by the random forest.
	Trees int
	// Seed for hot deck draws and forest bootstraps.
	Seed int64
}

// DefaultOptions mirror the usual library defaults.
func DefaultOptions() Options {
	return Options{Neighbors: 5, Trees: 100, Seed: 42}
}

// Numeric fills missing cells of a quantitative column.
func Numeric(ctx context.Context, f *frame.Frame, column string, method Method, opt Options) error {
	c, err := f.Column(column)
	if err != nil {
		return err
	}
	if !numericMethods[method] {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if !c.IsNumeric() {
		return fmt.Errorf("%w: %q is %s, want a numeric column", ErrWrongKind, column, c.DType)
	}
	if !c.HasNulls() {
		return nil
	}
	vals := c.Floats()
	observed := c.NonNullFloats()
	if len(observed) == 0 {
		if method == Constant {
			fill(vals, NumericConstant)
			setFloats(c, vals)
		}
		return nil
	}

	switch method {
	case Mean:
		fill(vals, stat.Mean(observed, nil))
	case Median:
		fill(vals, analysis.DescribeNumeric(observed).Median)
	case Constant:
		fill(vals, NumericConstant)
	case Linear:
		linear(vals)
	case Spline:
		if err := spline(vals); err != nil {
			return err
		}
	case KNN:
		knn(vals, otherNumeric(f, column), opt.Neighbors)
	case RandomForest:
		if err := randomForest(ctx, vals, otherNumeric(f, column), opt); err != nil {
			return err
		}
	}
	setFloats(c, vals)
	return nil
}

// Categorical fills missing cells of a qualitative column.
func Categorical(f *frame.Frame, column string, method Method, opt Options) error {
	c, err := f.Column(column)
	if err != nil {
		return err
	}
	if !categoricalMethods[method] {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if c.IsNumeric() {
		return fmt.Errorf("%w: %q is %s, want a categorical column", ErrWrongKind, column, c.DType)
	}
	if !c.HasNulls() {
		return nil
	}
	switch method {
	case Mode:
		vc := c.ValueCounts()
		if len(vc) == 0 {
			return fmt.Errorf("%w: %q", ErrNoObserved, column)
		}
		m, _ := analysis.Mode(vc)
		for i, v := range c.Values {
			if v.IsNull() {
				c.Values[i] = m
			}
		}
	case Constant:
		for i, v := range c.Values {
			if v.IsNull() {
				c.Values[i] = frame.Str(CategoricalConstant)
			}
		}
	case HotDeck:
		var donors []frame.Value
		for _, v := range c.Values {
			if !v.IsNull() {
				donors = append(donors, v)
			}
		}
		if len(donors) == 0 {
			return fmt.Errorf("%w: %q", ErrNoObserved, column)
		}
		rnd := rand.New(rand.NewSource(opt.Seed))
		for i, v := range c.Values {
			if v.IsNull() {
				c.Values[i] = donors[rnd.Intn(len(donors))]
			}
		}
	}
	return nil
}

func fill(vals []float64, x float64) {
	for i, v := range vals {
		if math.IsNaN(v) {
			vals[i] = x
		}
	}
}

func setFloats(c *frame.Column, vals []float64) {
	for i, v := range vals {
		if c.Values[i].IsNull() {
			c.Values[i] = frame.Float(v)
		}
	}
	c.DType = frame.DTypeFloat64
	c.Normalize()
}

// linear interpolates interior gaps by position. Leading gaps stay missing
// and trailing gaps repeat the last observed value.
func linear(vals []float64) {
	prev := -1
	for i, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			step := (v - vals[prev]) / float64(i-prev)
			for k := prev + 1; k < i; k++ {
				vals[k] = vals[prev] + step*float64(k-prev)
			}
		}
		prev = i
	}
	if prev >= 0 {
		for k := prev + 1; k < len(vals); k++ {
			vals[k] = vals[prev]
		}
	}
}

// spline fits a not-a-knot cubic spline through the observed points (by row
// position) and evaluates it at the gaps, extrapolating with the end
// polynomials. Fewer than four observed points leave the column unchanged.
func spline(vals []float64) error {
	var xs, ys []float64
	for i, v := range vals {
		if !math.IsNaN(v) {
			xs = append(xs, float64(i))
			ys = append(ys, v)
		}
	}
	if len(xs) <= 3 {
		return nil
	}
	var s interp.NotAKnotCubic
	if err := s.Fit(xs, ys); err != nil {
		return fmt.Errorf("fit spline: %w", err)
	}
	first, last := xs[0], xs[len(xs)-1]
	head := hermite(xs[0], xs[1], ys[0], ys[1], s.PredictDerivative(xs[0]), s.PredictDerivative(xs[1]))
	n := len(xs)
	tail := hermite(xs[n-2], xs[n-1], ys[n-2], ys[n-1], s.PredictDerivative(xs[n-2]), s.PredictDerivative(xs[n-1]))
	for i, v := range vals {
		if !math.IsNaN(v) {
			continue
		}
		x := float64(i)
		switch {
		case x < first:
			vals[i] = head(x)
		case x > last:
			vals[i] = tail(x)
		default:
			vals[i] = s.Predict(x)
		}
	}
	return nil
}

// hermite returns the cubic through (x0,y0) and (x1,y1) with slopes d0, d1.
func hermite(x0, x1, y0, y1, d0, d1 float64) func(float64) float64 {
	h := x1 - x0
	return func(x float64) float64 {
		t := (x - x0) / h
		t2, t3 := t*t, t*t*t
		return (2*t3-3*t2+1)*y0 + (t3-2*t2+t)*h*d0 + (-2*t3+3*t2)*y1 + (t3-t2)*h*d1
	}
}

func otherNumeric(f *frame.Frame, column string) [][]float64 {
	var out [][]float64
	for _, c := range f.Columns {
		if c.Name != column && c.IsNumeric() {
			out = append(out, c.Floats())
		}
	}
	return out
}

// knn replaces each gap with the mean target of the k nearest donor rows,
// using the nan-euclidean distance over the other numeric columns. Rows
// sharing no observed feature with any donor fall back to the mean.
func knn(vals []float64, features [][]float64, k int) {
	if k <= 0 {
		k = 5
	}
	var donors []int
	for i, v := range vals {
		if !math.IsNaN(v) {
			donors = append(donors, i)
		}
	}
	mean := 0.0
	for _, d := range donors {
		mean += vals[d]
	}
	mean /= float64(len(donors))

	type cand struct {
		dist float64
		row  int
	}
	src := append([]float64(nil), vals...)
	for i, v := range src {
		if !math.IsNaN(v) {
			continue
		}
		var cands []cand
		for _, d := range donors {
			if dist, ok := nanEuclidean(features, i, d); ok {
				cands = append(cands, cand{dist, d})
			}
		}
		if len(cands) == 0 {
			vals[i] = mean
			continue
		}
		sort.SliceStable(cands, func(a, b int) bool { return cands[a].dist < cands[b].dist })
		n := min(k, len(cands))
		s := 0.0
		for _, c := range cands[:n] {
			s += src[c.row]
		}
		vals[i] = s / float64(n)
	}
}

func nanEuclidean(features [][]float64, a, b int) (float64, bool) {
	if len(features) == 0 {
		return 0, false
	}
	var sum float64
	present := 0
	for _, col := range features {
		x, y := col[a], col[b]
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		sum += (x - y) * (x - y)
		present++
	}
	if present == 0 {
		return 0, false
	}
	return math.Sqrt(float64(len(features)) / float64(present) * sum), true
}

// randomForest regresses the column on the other numeric columns (gaps in
// those filled with their means) and predicts the missing cells.
func randomForest(ctx context.Context, vals []float64, features [][]float64, opt Options) error {
	var observed []float64
	for _, v := range vals {
		if !math.IsNaN(v) {
			observed = append(observed, v)
		}
	}
	mean := stat.Mean(observed, nil)
	if len(features) == 0 || len(observed) < 2 {
		fill(vals, mean)
		return nil
	}

	for _, col := range features {
		var s float64
		n := 0
		for _, x := range col {
			if !math.IsNaN(x) {
				s += x
				n++
			}
		}
		m := 0.0
		if n > 0 {
			m = s / float64(n)
		}
		fill(col, m)
	}
	row := func(i int) []float64 {
		r := make([]float64, len(features))
		for j, col := range features {
			r[j] = col[i]
		}
		return r
	}
	var X, Xmiss [][]float64
	var y []float64
	var missing []int
	for i, v := range vals {
		if math.IsNaN(v) {
			Xmiss = append(Xmiss, row(i))
			missing = append(missing, i)
			continue
		}
		X = append(X, row(i))
		y = append(y, v)
	}

	model := forest.New(forest.Regression, 0)
	if opt.Trees > 0 {
		model.NEstimators = opt.Trees
	}
	model.Seed = opt.Seed
	if err := model.Fit(ctx, X, y); err != nil {
		return fmt.Errorf("fit forest: %w", err)
	}
	pred, err := model.Predict(Xmiss)
	if err != nil {
		return err
	}
	for k, i := range missing {
		vals[i] = pred[k]
	}
	return nil
}
