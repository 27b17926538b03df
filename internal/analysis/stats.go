package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// NumericStats are the descriptive statistics of a quantitative column. NaN
// marks a statistic that is undefined for the sample.
type NumericStats struct {
	Count    int
	Mean     float64
	Median   float64
	Std      float64
	Min      float64
	Max      float64
	Q1       float64
	Q3       float64
	Skew     float64
	Kurtosis float64
	CV       float64
}

// DescribeNumeric computes NumericStats over the non-missing values.
func DescribeNumeric(vals []float64) NumericStats {
	nan := math.NaN()
	s := NumericStats{Count: len(vals), Mean: nan, Median: nan, Std: nan, Min: nan, Max: nan,
		Q1: nan, Q3: nan, Skew: nan, Kurtosis: nan, CV: nan}
	n := len(vals)
	if n == 0 {
		return s
	}
	sorted := make([]float64, n)
	copy(sorted, vals)
	sort.Float64s(sorted)

	s.Mean = stat.Mean(sorted, nil)
	s.Median = quantile(sorted, 0.5)
	s.Q1 = quantile(sorted, 0.25)
	s.Q3 = quantile(sorted, 0.75)
	s.Min = sorted[0]
	s.Max = sorted[n-1]
	if n >= 2 {
		s.Std = stat.StdDev(sorted, nil)
	}
	switch {
	case n < 3:
	case s.Std == 0:
		s.Skew = 0
	default:
		s.Skew = stat.Skew(sorted, nil)
	}
	switch {
	case n < 4:
	case s.Std == 0:
		s.Kurtosis = 0
	default:
		s.Kurtosis = stat.ExKurtosis(sorted, nil)
	}
	if s.Mean != 0 {
		s.CV = s.Std / s.Mean
	}
	return s
}

// Entropy returns the Shannon entropy in bits of a frequency table.
func Entropy(counts []int) float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	p := make([]float64, len(counts))
	for i, c := range counts {
		p[i] = float64(c) / float64(total)
	}
	h := stat.Entropy(p) / math.Ln2
	if h == 0 {
		return 0
	}
	return h
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

// medianMAD computes median and MAD (median absolute deviation) of values.
func medianMAD(vals []float64) (median, mad float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	cp := make([]float64, len(vals))
	copy(cp, vals)
	sort.Float64s(cp)
	median = quantile(cp, 0.5)
	dev := make([]float64, len(cp))
	for i, v := range cp {
		dev[i] = math.Abs(v - median)
	}
	sort.Float64s(dev)
	mad = quantile(dev, 0.5)
	return
}

// pearson computes the correlation over rows where both values are present.
func pearson(a, b []float64) (float64, int) {
	var xs, ys []float64
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		xs = append(xs, a[i])
		ys = append(ys, b[i])
	}
	if len(xs) < 3 {
		return math.NaN(), len(xs)
	}
	return stat.Correlation(xs, ys, nil), len(xs)
}

// FormatValue rounds a statistic for display: magnitudes of 10 or more are
// truncated to an integer, smaller values keep three decimals. NaN and
// infinities become nil.
func FormatValue(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	if math.Abs(v) >= 10 {
		return int64(v)
	}
	r := math.Round(v*1000) / 1000
	if r == 0 {
		return 0.0
	}
	return r
}
