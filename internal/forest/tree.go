// Package forest implements CART decision trees and bagged random forests
// for classification and regression, with mean-decrease-impurity feature
// importances.
package forest

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// Task selects the split criterion and the prediction rule.
type Task int

const (
	// Classification splits on Gini impurity; labels are class indices 0..K-1.
	Classification Task = iota
	// Regression splits on variance reduction.
	Regression
)

func (t Task) String() string {
	if t == Regression {
		return "regression"
	}
	return "classification"
}

var (
	ErrEmpty          = errors.New("forest: empty training set")
	ErrLengthMismatch = errors.New("forest: X and y length mismatch")
	ErrRagged         = errors.New("forest: inconsistent number of features in X rows")
	ErrNotFitted      = errors.New("forest: model not fitted")
)

// TreeOptions are CART hyperparameters.
type TreeOptions struct {
	MaxDepth        int // 0 => unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // features sampled per split; 0 => all
	Seed            int64
}

// Tree is a fitted CART tree stored as a flat node slice.
type Tree struct {
	task        Task
	nClasses    int
	nFeatures   int
	nodes       []node
	importances []float64
}

type node struct {
	leaf      bool
	feature   int
	threshold float64 // x <= threshold goes left
	left      int
	right     int
	value     float64   // regression mean
	probs     []float64 // class distribution
}

type builder struct {
	opt      TreeOptions
	task     Task
	nClasses int
	X        [][]float64
	y        []float64
	rnd      *rand.Rand
	tree     *Tree
	total    float64
}

// FitTree grows a tree on the rows of X listed in idx. Duplicated indices act
// as sample weights, which is how bootstrap samples are passed in.
func FitTree(task Task, nClasses int, X [][]float64, y []float64, idx []int, opt TreeOptions) (*Tree, error) {
	if len(X) == 0 || len(idx) == 0 {
		return nil, ErrEmpty
	}
	if len(X) != len(y) {
		return nil, ErrLengthMismatch
	}
	p := len(X[0])
	for _, row := range X {
		if len(row) != p {
			return nil, ErrRagged
		}
	}
	if opt.MinSamplesSplit < 2 {
		opt.MinSamplesSplit = 2
	}
	if opt.MinSamplesLeaf < 1 {
		opt.MinSamplesLeaf = 1
	}
	b := &builder{
		opt:      opt,
		task:     task,
		nClasses: nClasses,
		X:        X,
		y:        y,
		rnd:      rand.New(rand.NewSource(opt.Seed)),
		tree: &Tree{
			task:        task,
			nClasses:    nClasses,
			nFeatures:   p,
			importances: make([]float64, p),
		},
		total: float64(len(idx)),
	}
	work := append([]int(nil), idx...)
	b.grow(work, 0)
	normalize(b.tree.importances)
	return b.tree, nil
}

func (b *builder) grow(idx []int, depth int) int {
	id := len(b.tree.nodes)
	b.tree.nodes = append(b.tree.nodes, b.leaf(idx))
	imp := b.impurity(idx)

	if imp <= 1e-12 || len(idx) < b.opt.MinSamplesSplit || (b.opt.MaxDepth > 0 && depth >= b.opt.MaxDepth) {
		return id
	}
	feat, thr, nLeft, ok := b.bestSplit(idx, imp)
	if !ok {
		return id
	}
	// partition idx in place by the chosen split
	sort.SliceStable(idx, func(i, j int) bool {
		return b.X[idx[i]][feat] <= thr && !(b.X[idx[j]][feat] <= thr)
	})
	left, right := idx[:nLeft], idx[nLeft:]

	nt := float64(len(idx))
	decrease := nt*imp - float64(len(left))*b.impurity(left) - float64(len(right))*b.impurity(right)
	b.tree.importances[feat] += decrease / b.total

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	n := &b.tree.nodes[id]
	n.leaf = false
	n.feature = feat
	n.threshold = thr
	n.left = l
	n.right = r
	return id
}

func (b *builder) leaf(idx []int) node {
	n := node{leaf: true}
	if b.task == Regression {
		s := 0.0
		for _, i := range idx {
			s += b.y[i]
		}
		n.value = s / float64(len(idx))
		return n
	}
	n.probs = make([]float64, b.nClasses)
	for _, i := range idx {
		n.probs[int(b.y[i])]++
	}
	for k := range n.probs {
		n.probs[k] /= float64(len(idx))
	}
	return n
}

func (b *builder) impurity(idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	if b.task == Regression {
		var s, ss float64
		for _, i := range idx {
			s += b.y[i]
			ss += b.y[i] * b.y[i]
		}
		n := float64(len(idx))
		v := ss/n - (s/n)*(s/n)
		if v < 0 {
			return 0
		}
		return v
	}
	counts := make([]float64, b.nClasses)
	for _, i := range idx {
		counts[int(b.y[i])]++
	}
	return gini(counts, float64(len(idx)))
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return g
}

func (b *builder) features() []int {
	p := b.tree.nFeatures
	if b.opt.MaxFeatures <= 0 || b.opt.MaxFeatures >= p {
		out := make([]int, p)
		for i := range out {
			out[i] = i
		}
		return out
	}
	return b.rnd.Perm(p)[:b.opt.MaxFeatures]
}

type sample struct {
	v float64
	y float64
}

// bestSplit scans sorted feature values, keeping running class counts or
// sums so every candidate threshold costs O(1).
func (b *builder) bestSplit(idx []int, parent float64) (feature int, threshold float64, nLeft int, ok bool) {
	n := len(idx)
	nf := float64(n)
	best := 0.0
	minLeaf := b.opt.MinSamplesLeaf
	buf := make([]sample, n)

	for _, f := range b.features() {
		for k, i := range idx {
			buf[k] = sample{v: b.X[i][f], y: b.y[i]}
		}
		sort.Slice(buf, func(i, j int) bool { return less(buf[i].v, buf[j].v) })

		if b.task == Regression {
			var totS, totSS float64
			for _, s := range buf {
				totS += s.y
				totSS += s.y * s.y
			}
			var lS, lSS float64
			for k := 0; k < n-1; k++ {
				lS += buf[k].y
				lSS += buf[k].y * buf[k].y
				if buf[k].v == buf[k+1].v || math.IsNaN(buf[k+1].v) {
					continue
				}
				nl := float64(k + 1)
				nr := nf - nl
				if k+1 < minLeaf || n-k-1 < minLeaf {
					continue
				}
				rS, rSS := totS-lS, totSS-lSS
				vl := lSS/nl - (lS/nl)*(lS/nl)
				vr := rSS/nr - (rS/nr)*(rS/nr)
				gain := parent - (nl*vl+nr*vr)/nf
				if gain > best+1e-12 {
					best, feature, threshold, nLeft, ok = gain, f, midpoint(buf[k].v, buf[k+1].v), k+1, true
				}
			}
			continue
		}

		total := make([]float64, b.nClasses)
		for _, s := range buf {
			total[int(s.y)]++
		}
		left := make([]float64, b.nClasses)
		right := make([]float64, b.nClasses)
		for k := 0; k < n-1; k++ {
			left[int(buf[k].y)]++
			if buf[k].v == buf[k+1].v || math.IsNaN(buf[k+1].v) {
				continue
			}
			if k+1 < minLeaf || n-k-1 < minLeaf {
				continue
			}
			for c := range right {
				right[c] = total[c] - left[c]
			}
			nl := float64(k + 1)
			nr := nf - nl
			gain := parent - (nl*gini(left, nl)+nr*gini(right, nr))/nf
			if gain > best+1e-12 {
				best, feature, threshold, nLeft, ok = gain, f, midpoint(buf[k].v, buf[k+1].v), k+1, true
			}
		}
	}
	return
}

// less sorts NaN last so missing values always fall to the right.
func less(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a < b
}

func midpoint(a, b float64) float64 {
	m := a + (b-a)/2
	if m >= b {
		return a
	}
	return m
}

func (t *Tree) walk(x []float64) *node {
	n := &t.nodes[0]
	for !n.leaf {
		if x[n.feature] <= n.threshold {
			n = &t.nodes[n.left]
		} else {
			n = &t.nodes[n.right]
		}
	}
	return n
}

// PredictValue returns the regression estimate for one row.
func (t *Tree) PredictValue(x []float64) float64 { return t.walk(x).value }

// PredictProba returns the class distribution for one row.
func (t *Tree) PredictProba(x []float64) []float64 { return t.walk(x).probs }

// Importances returns the normalized impurity decrease per feature.
func (t *Tree) Importances() []float64 { return append([]float64(nil), t.importances...) }

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) Depth() int { return t.depth(0) }

func (t *Tree) depth(i int) int {
	n := t.nodes[i]
	if n.leaf {
		return 0
	}
	return 1 + max(t.depth(n.left), t.depth(n.right))
}

func normalize(v []float64) {
	s := 0.0
	for _, x := range v {
		s += x
	}
	if s <= 0 {
		return
	}
	for i := range v {
		v[i] /= s
	}
}
