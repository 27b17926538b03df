// Package importance trains a random forest to predict one column from the
// others and reports hold-out metrics and per-feature importances.
package importance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/KaramelBytes/dataloom/internal/forest"
	"github.com/KaramelBytes/dataloom/internal/frame"
)

var (
	ErrNoFeatures   = errors.New("no feature columns left after excluding the target")
	ErrTooFewRows   = errors.New("not enough rows with a target value to train and evaluate")
	ErrSingleTarget = errors.New("target has a single distinct value")
)

// Dataset is the numeric design matrix for one target.
type Dataset struct {
	Features []string
	X        [][]float64
	// Y holds regression targets or class indices into Classes.
	Y       []float64
	Task    forest.Task
	Classes []string
}

// Prepare drops rows missing the target, removes the target and excluded
// columns, label-encodes qualitative features in sorted label order (missing
// cells encode as "nan") and fills missing numeric cells with the column
// mean.
func Prepare(f *frame.Frame, target string, exclude []string) (*Dataset, error) {
	tc, err := f.Column(target)
	if err != nil {
		return nil, err
	}
	for _, name := range exclude {
		if _, err := f.Column(name); err != nil {
			return nil, err
		}
	}
	df, err := f.DropNullRows(target)
	if err != nil {
		return nil, err
	}
	feats := df.Without(append([]string{target}, exclude...)...)
	if len(feats.Columns) == 0 {
		return nil, ErrNoFeatures
	}
	n := df.Len()
	ds := &Dataset{X: make([][]float64, n), Y: make([]float64, n)}
	for i := range ds.X {
		ds.X[i] = make([]float64, len(feats.Columns))
	}
	for j, c := range feats.Columns {
		ds.Features = append(ds.Features, c.Name)
		col := encode(c)
		for i := range ds.X {
			ds.X[i][j] = col[i]
		}
	}

	y, _ := df.Column(target)
	if tc.IsNumeric() {
		ds.Task = forest.Regression
		copy(ds.Y, y.Floats())
		return ds, nil
	}
	ds.Task = forest.Classification
	labels := make([]string, n)
	for i, v := range y.Values {
		labels[i] = v.String()
	}
	ds.Classes = sortedUnique(labels)
	index := make(map[string]int, len(ds.Classes))
	for k, c := range ds.Classes {
		index[c] = k
	}
	for i, l := range labels {
		ds.Y[i] = float64(index[l])
	}
	return ds, nil
}

func encode(c *frame.Column) []float64 {
	if c.IsNumeric() {
		vals := c.Floats()
		obs := c.NonNullFloats()
		mean := 0.0
		for _, v := range obs {
			mean += v
		}
		if len(obs) > 0 {
			mean /= float64(len(obs))
		}
		for i, v := range vals {
			if math.IsNaN(v) {
				vals[i] = mean
			}
		}
		return vals
	}
	labels := make([]string, c.Len())
	for i, v := range c.Values {
		if v.IsNull() {
			labels[i] = "nan"
		} else {
			labels[i] = v.String()
		}
	}
	classes := sortedUnique(labels)
	index := make(map[string]int, len(classes))
	for k, l := range classes {
		index[l] = k
	}
	out := make([]float64, len(labels))
	for i, l := range labels {
		out[i] = float64(index[l])
	}
	return out
}

func sortedUnique(vals []string) []string {
	seen := make(map[string]struct{}, len(vals))
	var out []string
	for _, v := range vals {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// Split shuffles row indices with seed and holds out ceil(testSize*n) rows.
func Split(n int, testSize float64, seed int64) (train, test []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	nTest := int(math.Ceil(testSize * float64(n)))
	return perm[nTest:], perm[:nTest]
}

// Feature pairs a column with its importance.
type Feature struct {
	Name       string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// Result bundles the evaluation of one target.
type Result struct {
	Target         string          `json:"target"`
	Task           string          `json:"task"`
	TrainRows      int             `json:"train_rows"`
	TestRows       int             `json:"test_rows"`
	Classification *Classification `json:"classification,omitempty"`
	Regression     *Regression     `json:"regression,omitempty"`
	Importances    []Feature       `json:"importances"`
}

// Options configure Analyze.
type Options struct {
	TestSize float64
	Seed     int64
	Trees    int
	Workers  int
}

// DefaultOptions hold out 20% of rows and grow 100 trees seeded with 42.
func DefaultOptions() Options {
	return Options{TestSize: 0.2, Seed: 42, Trees: 100}
}

// Analyze fits a forest on a shuffled train split and scores the held-out
// rows. Importances are sorted descending.
func Analyze(ctx context.Context, f *frame.Frame, target string, exclude []string, opt Options) (*Result, error) {
	ds, err := Prepare(f, target, exclude)
	if err != nil {
		return nil, err
	}
	n := len(ds.Y)
	train, test := Split(n, opt.TestSize, opt.Seed)
	if len(train) < 2 || len(test) < 1 {
		return nil, fmt.Errorf("%w: %d rows", ErrTooFewRows, n)
	}
	if ds.Task == forest.Classification && len(ds.Classes) < 2 {
		return nil, ErrSingleTarget
	}
	pick := func(idx []int) ([][]float64, []float64) {
		X := make([][]float64, len(idx))
		y := make([]float64, len(idx))
		for k, i := range idx {
			X[k] = ds.X[i]
			y[k] = ds.Y[i]
		}
		return X, y
	}
	Xtr, ytr := pick(train)
	Xte, yte := pick(test)

	model := forest.New(ds.Task, len(ds.Classes))
	model.Seed = opt.Seed
	model.Workers = opt.Workers
	if opt.Trees > 0 {
		model.NEstimators = opt.Trees
	}
	if err := model.Fit(ctx, Xtr, ytr); err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}
	pred, err := model.Predict(Xte)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Target:    target,
		Task:      ds.Task.String(),
		TrainRows: len(train),
		TestRows:  len(test),
	}
	if ds.Task == forest.Regression {
		res.Regression = scoreRegression(yte, pred)
	} else {
		res.Classification = scoreClassification(yte, pred, ds.Classes)
	}
	for j, v := range model.Importances() {
		res.Importances = append(res.Importances, Feature{Name: ds.Features[j], Importance: v})
	}
	sort.SliceStable(res.Importances, func(a, b int) bool {
		return res.Importances[a].Importance > res.Importances[b].Importance
	})
	return res, nil
}

// Top returns at most n features.
func (r *Result) Top(n int) []Feature {
	if n <= 0 || n >= len(r.Importances) {
		return r.Importances
	}
	return r.Importances[:n]
}
