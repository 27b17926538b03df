package forest

import (
	"context"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Forest is a bagged ensemble of CART trees.
type Forest struct {
	Task            Task
	NClasses        int // classification only
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures per split; 0 picks sqrt(p) for classification and p for
	// regression.
	MaxFeatures int
	Bootstrap   bool
	Seed        int64
	// Workers bounds concurrent tree fits; 0 => GOMAXPROCS.
	Workers int

	trees     []*Tree
	nFeatures int
}

// New returns a forest with 100 bootstrapped trees seeded with 42.
func New(task Task, nClasses int) *Forest {
	return &Forest{
		Task:            task,
		NClasses:        nClasses,
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
		Seed:            42,
	}
}

// Fit trains NEstimators trees in parallel. Each tree draws its bootstrap
// sample and feature subsets from its own seed so results do not depend on
// scheduling.
func (f *Forest) Fit(ctx context.Context, X [][]float64, y []float64) error {
	if len(X) == 0 {
		return ErrEmpty
	}
	if len(X) != len(y) {
		return ErrLengthMismatch
	}
	p := len(X[0])
	n := len(X)
	nTrees := f.NEstimators
	if nTrees <= 0 {
		nTrees = 100
	}
	maxFeatures := f.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = p
		if f.Task == Classification {
			maxFeatures = max(1, int(math.Sqrt(float64(p))))
		}
	}
	workers := f.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]*Tree, nTrees)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < nTrees; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			seed := f.Seed + int64(i)
			rnd := rand.New(rand.NewSource(seed))
			idx := make([]int, n)
			for j := range idx {
				if f.Bootstrap {
					idx[j] = rnd.Intn(n)
				} else {
					idx[j] = j
				}
			}
			t, err := FitTree(f.Task, f.NClasses, X, y, idx, TreeOptions{
				MaxDepth:        f.MaxDepth,
				MinSamplesSplit: f.MinSamplesSplit,
				MinSamplesLeaf:  f.MinSamplesLeaf,
				MaxFeatures:     maxFeatures,
				Seed:            seed,
			})
			if err != nil {
				return err
			}
			trees[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.trees = trees
	f.nFeatures = p
	return nil
}

// Trees returns the fitted trees.
func (f *Forest) Trees() []*Tree { return f.trees }

// PredictProba averages the class distributions of every tree.
func (f *Forest) PredictProba(x []float64) ([]float64, error) {
	if len(f.trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, f.NClasses)
	for _, t := range f.trees {
		for k, p := range t.PredictProba(x) {
			out[k] += p
		}
	}
	for k := range out {
		out[k] /= float64(len(f.trees))
	}
	return out, nil
}

// Predict returns one estimate per row: the mean tree output for regression
// or the class index with the highest averaged probability (lowest index on
// ties) for classification.
func (f *Forest) Predict(X [][]float64) ([]float64, error) {
	if len(f.trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(X))
	for i, x := range X {
		if f.Task == Regression {
			s := 0.0
			for _, t := range f.trees {
				s += t.PredictValue(x)
			}
			out[i] = s / float64(len(f.trees))
			continue
		}
		probs, _ := f.PredictProba(x)
		best := 0
		for k := 1; k < len(probs); k++ {
			if probs[k] > probs[best] {
				best = k
			}
		}
		out[i] = float64(best)
	}
	return out, nil
}

// Importances averages per-tree importances and renormalizes them to sum 1.
func (f *Forest) Importances() []float64 {
	out := make([]float64, f.nFeatures)
	if len(f.trees) == 0 {
		return out
	}
	for _, t := range f.trees {
		for j, v := range t.importances {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(len(f.trees))
	}
	normalize(out)
	return out
}
