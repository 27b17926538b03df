// Package analysis classifies dataframe columns and computes the
// descriptive statistics shown on the data-info screen.
package analysis

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/KaramelBytes/dataloom/internal/frame"
)

// Keys of the data-info payload, as rendered by the frontend.
const (
	KeyDType       = "データ型"
	KeyUnique      = "ユニークな値の数"
	KeyMissing     = "欠損値の数"
	KeyMissingRate = "欠損値の割合"

	KeyMean     = "平均値"
	KeyMedian   = "中央値"
	KeyStd      = "標準偏差"
	KeyMin      = "最小値"
	KeyMax      = "最大値"
	KeyQ1       = "第1四分位数"
	KeyQ3       = "第3四分位数"
	KeySkew     = "歪度"
	KeyKurtosis = "尖度"
	KeyCV       = "変動係数"

	KeyMode       = "最頻値"
	KeyModeCount  = "最頻値の出現回数"
	KeyModeRatio  = "最頻値の割合"
	KeyCategories = "カテゴリ数"
	KeyEntropy    = "エントロピー"
)

// Field is one key/value pair of an ordered JSON object.
type Field struct {
	Key   string
	Value any
}

// Fields marshals as a JSON object that keeps insertion order.
type Fields []Field

// Get returns the value stored under key.
func (fs Fields) Get(key string) (any, bool) {
	for _, f := range fs {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func (fs Fields) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// ColumnInfo is one entry of the data-info payload.
type ColumnInfo struct {
	ColumnName string `json:"column_name"`
	Common     Fields `json:"common"`
	Data       Fields `json:"data"`
}

// Info groups column entries by kind.
type Info struct {
	Qualitative  []ColumnInfo `json:"qualitative"`
	Quantitative []ColumnInfo `json:"quantitative"`
}

// Quantitative returns the names of int64 and float64 columns.
func Quantitative(f *frame.Frame) []string {
	out := []string{}
	for _, c := range f.Columns {
		if c.IsNumeric() {
			out = append(out, c.Name)
		}
	}
	return out
}

// Qualitative returns the names of every non-numeric column.
func Qualitative(f *frame.Frame) []string {
	out := []string{}
	for _, c := range f.Columns {
		if !c.IsNumeric() {
			out = append(out, c.Name)
		}
	}
	return out
}

// QualitativeValues maps each qualitative column to its distinct values in
// order of first appearance.
func QualitativeValues(f *frame.Frame) map[string][]any {
	out := make(map[string][]any)
	for _, c := range f.Columns {
		if c.IsNumeric() {
			continue
		}
		vals := []any{}
		for _, v := range c.Distinct() {
			vals = append(vals, v.Interface())
		}
		out[c.Name] = vals
	}
	return out
}

// MissingColumns lists the columns holding at least one missing cell.
type MissingColumns struct {
	Quantitative []string `json:"quantitative_miss_list"`
	Qualitative  []string `json:"qualitative_miss_list"`
}

// Missing splits the columns with missing cells by kind.
func Missing(f *frame.Frame) MissingColumns {
	out := MissingColumns{Quantitative: []string{}, Qualitative: []string{}}
	for _, c := range f.Columns {
		if !c.HasNulls() {
			continue
		}
		if c.IsNumeric() {
			out.Quantitative = append(out.Quantitative, c.Name)
		} else {
			out.Qualitative = append(out.Qualitative, c.Name)
		}
	}
	return out
}

// ToCategorical turns column into an object column of its string forms.
// Missing cells stay missing.
func ToCategorical(f *frame.Frame, column string) error {
	c, err := f.Column(column)
	if err != nil {
		return err
	}
	return c.Convert(frame.DTypeObject)
}

// DataInfo computes the per-column summary.
func DataInfo(f *frame.Frame) Info {
	info := Info{Qualitative: []ColumnInfo{}, Quantitative: []ColumnInfo{}}
	rows := f.Len()
	for _, c := range f.Columns {
		nulls := c.NullCount()
		ratio := 0.0
		if rows > 0 {
			ratio = float64(nulls) / float64(rows)
		}
		common := Fields{
			{KeyDType, c.DType},
			{KeyUnique, c.Unique()},
			{KeyMissing, nulls},
			{KeyMissingRate, FormatValue(ratio)},
		}
		if c.IsNumeric() {
			info.Quantitative = append(info.Quantitative, ColumnInfo{
				ColumnName: c.Name,
				Common:     common,
				Data:       quantitativeData(c),
			})
			continue
		}
		info.Qualitative = append(info.Qualitative, ColumnInfo{
			ColumnName: c.Name,
			Common:     common,
			Data:       qualitativeData(c, rows),
		})
	}
	return info
}

func quantitativeData(c *frame.Column) Fields {
	s := DescribeNumeric(c.NonNullFloats())
	minV, maxV := FormatValue(s.Min), FormatValue(s.Max)
	if c.DType == frame.DTypeInt64 && s.Count > 0 {
		minV, maxV = int64(s.Min), int64(s.Max)
	}
	return Fields{
		{KeyMean, FormatValue(s.Mean)},
		{KeyMedian, FormatValue(s.Median)},
		{KeyStd, FormatValue(s.Std)},
		{KeyMin, minV},
		{KeyMax, maxV},
		{KeyQ1, FormatValue(s.Q1)},
		{KeyQ3, FormatValue(s.Q3)},
		{KeySkew, FormatValue(s.Skew)},
		{KeyKurtosis, FormatValue(s.Kurtosis)},
		{KeyCV, FormatValue(s.CV)},
	}
}

func qualitativeData(c *frame.Column, rows int) Fields {
	vc := c.ValueCounts()
	var mode, modeCount, modeRatio any
	if len(vc) > 0 {
		m, n := Mode(vc)
		mode = m.Interface()
		modeCount = n
		modeRatio = FormatValue(float64(n) / float64(rows))
	}
	counts := make([]int, len(vc))
	for i, v := range vc {
		counts[i] = v.Count
	}
	return Fields{
		{KeyMode, mode},
		{KeyModeCount, modeCount},
		{KeyModeRatio, modeRatio},
		{KeyCategories, len(vc)},
		{KeyEntropy, FormatValue(Entropy(counts))},
	}
}

// Mode returns the most frequent value; ties resolve to the smallest value.
func Mode(vc []frame.ValueCount) (frame.Value, int) {
	if len(vc) == 0 {
		return frame.Null(), 0
	}
	best := vc[0].Count
	var tied []frame.Value
	for _, v := range vc {
		if v.Count == best {
			tied = append(tied, v.Value)
		}
	}
	sort.SliceStable(tied, func(i, j int) bool { return tied[i].Less(tied[j]) })
	return tied[0], best
}
