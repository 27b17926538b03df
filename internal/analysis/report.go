package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/KaramelBytes/dataloom/internal/frame"
)

// Options controls report building.
type Options struct {
	// SampleRows determines how many example rows to include in the report.
	SampleRows int
	// TopValues caps the categories listed per qualitative column.
	TopValues int
	// Correlations computes Pearson correlations among numeric columns.
	Correlations bool
	// OutlierThreshold counts |z|>threshold using a robust Z-score (MAD).
	// Zero disables outlier detection.
	OutlierThreshold float64
}

// DefaultOptions returns reasonable defaults for dataset reports.
func DefaultOptions() Options {
	return Options{
		SampleRows:       5,
		TopValues:        5,
		Correlations:     true,
		OutlierThreshold: 3.5,
	}
}

// Report is a markdown-friendly summary of a dataframe.
type Report struct {
	Name     string
	Rows     int
	Cols     []ColumnSummary
	Samples  [][]string
	Warnings []string
	Corr     *CorrMatrix
}

// ColumnSummary captures dtype and statistics per column.
type ColumnSummary struct {
	Name    string
	DType   string
	NonNull int
	Missing int
	Unique  int
	// Numeric stats
	Stats NumericStats
	// Outliers (robust Z via MAD)
	OutliersCount    int
	OutliersMaxAbsZ  float64
	OutlierThreshold float64
	// Categorical top values
	TopValues []CategoryCount
}

type CategoryCount struct {
	Value string
	Count int
}

// CorrMatrix holds a symmetric Pearson correlation matrix across numeric columns.
type CorrMatrix struct {
	Columns []string
	Values  [][]float64 // row-major, Values[i][j]
}

// Build summarizes f.
func Build(name string, f *frame.Frame, opt Options) *Report {
	r := &Report{Name: name, Rows: f.Len()}
	var numeric []*frame.Column
	for _, c := range f.Columns {
		cs := ColumnSummary{
			Name:    c.Name,
			DType:   c.DType,
			Missing: c.NullCount(),
			Unique:  c.Unique(),
		}
		cs.NonNull = c.Len() - cs.Missing
		if c.IsNumeric() {
			vals := c.NonNullFloats()
			cs.Stats = DescribeNumeric(vals)
			if opt.OutlierThreshold > 0 && len(vals) > 0 {
				cs.OutlierThreshold = opt.OutlierThreshold
				median, mad := medianMAD(vals)
				if mad > 0 {
					for _, v := range vals {
						z := 0.6745 * (v - median) / mad
						if az := math.Abs(z); az > opt.OutlierThreshold {
							cs.OutliersCount++
							if az > cs.OutliersMaxAbsZ {
								cs.OutliersMaxAbsZ = az
							}
						}
					}
				}
			}
			numeric = append(numeric, c)
		} else {
			vc := c.ValueCounts()
			lim := min(opt.TopValues, len(vc))
			for i := 0; i < lim; i++ {
				cs.TopValues = append(cs.TopValues, CategoryCount{Value: vc[i].Value.String(), Count: vc[i].Count})
			}
		}
		if cs.NonNull == 0 && c.Len() > 0 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("column %q has no values", c.Name))
		}
		r.Cols = append(r.Cols, cs)
	}

	if opt.Correlations && len(numeric) >= 2 {
		m := &CorrMatrix{}
		series := make([][]float64, len(numeric))
		for i, c := range numeric {
			m.Columns = append(m.Columns, c.Name)
			series[i] = c.Floats()
		}
		m.Values = make([][]float64, len(numeric))
		for i := range numeric {
			m.Values[i] = make([]float64, len(numeric))
			m.Values[i][i] = 1
		}
		for i := 0; i < len(numeric); i++ {
			for j := i + 1; j < len(numeric); j++ {
				rv, _ := pearson(series[i], series[j])
				m.Values[i][j], m.Values[j][i] = rv, rv
			}
		}
		r.Corr = m
	}

	rows := min(opt.SampleRows, f.Len())
	for i := 0; i < rows; i++ {
		row := make([]string, len(f.Columns))
		for j, c := range f.Columns {
			row[j] = c.Values[i].String()
		}
		r.Samples = append(r.Samples, row)
	}
	return r
}

// Markdown renders the report as prompt-friendly sections.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("[DATASET SUMMARY]\n")
	if r.Name != "" {
		b.WriteString(fmt.Sprintf("File: %s\n", r.Name))
	}
	b.WriteString(fmt.Sprintf("Rows: %d\n", r.Rows))
	b.WriteString(fmt.Sprintf("Columns: %d\n\n", len(r.Cols)))

	b.WriteString("[SCHEMA]\n")
	for _, c := range r.Cols {
		total := c.NonNull + c.Missing
		missPct := 0.0
		if total > 0 {
			missPct = float64(c.Missing) * 100.0 / float64(total)
		}
		b.WriteString(fmt.Sprintf("- %s: %s (non-null %d, missing %.1f%%)", safeName(c.Name), c.DType, c.NonNull, missPct))
		switch c.DType {
		case frame.DTypeInt64, frame.DTypeFloat64:
			s := c.Stats
			if s.Count > 0 {
				b.WriteString(fmt.Sprintf(": min %.4g, max %.4g, mean %.4g, median %.4g", s.Min, s.Max, s.Mean, s.Median))
				if !math.IsNaN(s.Std) {
					b.WriteString(fmt.Sprintf(", std %.4g", s.Std))
				}
			}
			if c.OutliersCount > 0 {
				b.WriteString(fmt.Sprintf("; outliers: %d above |z|>%.1f (max |z|≈%.2f)", c.OutliersCount, c.OutlierThreshold, c.OutliersMaxAbsZ))
			}
		default:
			if len(c.TopValues) > 0 {
				b.WriteString(": top ")
				for i, kv := range c.TopValues {
					if i > 0 {
						b.WriteString(", ")
					}
					b.WriteString(fmt.Sprintf("%s(%d)", safeVal(kv.Value), kv.Count))
				}
				if c.Unique > len(c.TopValues) {
					b.WriteString(fmt.Sprintf("; unique=%d", c.Unique))
				}
			}
		}
		b.WriteString("\n")
	}
	if r.Corr != nil && len(r.Corr.Columns) >= 2 {
		type pr struct {
			A, B string
			R    float64
		}
		var pairs []pr
		n := len(r.Corr.Columns)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if v := r.Corr.Values[i][j]; !math.IsNaN(v) {
					pairs = append(pairs, pr{A: r.Corr.Columns[i], B: r.Corr.Columns[j], R: v})
				}
			}
		}
		sort.Slice(pairs, func(i, j int) bool {
			ai := math.Abs(pairs[i].R)
			aj := math.Abs(pairs[j].R)
			if ai == aj {
				return pairs[i].A+pairs[i].B < pairs[j].A+pairs[j].B
			}
			return ai > aj
		})
		if len(pairs) > 0 {
			b.WriteString("\n[CORRELATIONS]\n")
		}
		for i := 0; i < min(10, len(pairs)); i++ {
			b.WriteString(fmt.Sprintf("- %s ~ %s: r=%.3f\n", pairs[i].A, pairs[i].B, pairs[i].R))
		}
	}
	if len(r.Samples) > 0 {
		b.WriteString("\n[HEAD ROWS]\n")
		b.WriteString("| ")
		for i, c := range r.Cols {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(safeVal(safeName(c.Name)))
		}
		b.WriteString(" |\n|")
		for range r.Cols {
			b.WriteString(" --- |")
		}
		b.WriteString("\n")
		for _, row := range r.Samples {
			b.WriteString("| ")
			for i := range r.Cols {
				if i > 0 {
					b.WriteString(" | ")
				}
				val := ""
				if i < len(row) {
					val = row[i]
				}
				if len(val) > 80 {
					val = val[:77] + "..."
				}
				b.WriteString(safeVal(val))
			}
			b.WriteString(" |\n")
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\n[NOTES]\n")
		for _, w := range r.Warnings {
			b.WriteString("- ")
			b.WriteString(w)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return s
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
