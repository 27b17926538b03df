package chart

import (
	"bytes"
	"fmt"

	gochart "github.com/wcharczuk/go-chart/v2"

	"github.com/KaramelBytes/dataloom/internal/frame"
)

// Slice is one pie wedge. Percent is relative to all rows, missing ones
// included, so wedges of a column with gaps sum below 100.
type Slice struct {
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Slices returns the value counts of column, most frequent first.
func Slices(f *frame.Frame, column string) ([]Slice, error) {
	c, err := f.Column(column)
	if err != nil {
		return nil, err
	}
	rows := f.Len()
	var out []Slice
	for _, vc := range c.ValueCounts() {
		out = append(out, Slice{
			Label:   vc.Value.String(),
			Count:   vc.Count,
			Percent: float64(vc.Count) / float64(rows) * 100,
		})
	}
	return out, nil
}

// Pie renders the value counts of column with "label: pct%" wedge labels.
func Pie(f *frame.Frame, column string) ([]byte, error) {
	slices, err := Slices(f, column)
	if err != nil {
		return nil, err
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("%w: %q has no values", ErrEmpty, column)
	}
	values := make([]gochart.Value, len(slices))
	for i, s := range slices {
		values[i] = gochart.Value{
			Value: float64(s.Count),
			Label: fmt.Sprintf("%s: %.1f%%", s.Label, s.Percent),
		}
	}
	pie := gochart.PieChart{
		Title:  "Distribution of " + column,
		Width:  640,
		Height: 480,
		Values: values,
	}
	var buf bytes.Buffer
	if err := pie.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render pie: %w", err)
	}
	return buf.Bytes(), nil
}
