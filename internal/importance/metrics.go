package importance

import (
	"math"
	"sort"
)

// Classification holds hold-out scores of a classifier. Precision, recall
// and F1 are support-weighted averages over the labels present in either
// the truth or the predictions; undefined ratios count as 0.
type Classification struct {
	Accuracy  float64  `json:"accuracy"`
	Precision float64  `json:"precision"`
	Recall    float64  `json:"recall"`
	F1        float64  `json:"f1"`
	Labels    []string `json:"labels"`
	Confusion [][]int  `json:"confusion_matrix"`
}

// Regression holds hold-out scores of a regressor.
type Regression struct {
	MSE  float64 `json:"mse"`
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	R2   float64 `json:"r2"`
}

func scoreClassification(truth, pred []float64, classes []string) *Classification {
	present := map[int]struct{}{}
	for i := range truth {
		present[int(truth[i])] = struct{}{}
		present[int(pred[i])] = struct{}{}
	}
	var ids []int
	for k := range present {
		ids = append(ids, k)
	}
	sort.Ints(ids)
	pos := make(map[int]int, len(ids))
	out := &Classification{}
	for i, k := range ids {
		pos[k] = i
		out.Labels = append(out.Labels, classes[k])
	}
	out.Confusion = make([][]int, len(ids))
	for i := range out.Confusion {
		out.Confusion[i] = make([]int, len(ids))
	}
	correct := 0
	for i := range truth {
		t, p := pos[int(truth[i])], pos[int(pred[i])]
		out.Confusion[t][p]++
		if t == p {
			correct++
		}
	}
	n := float64(len(truth))
	out.Accuracy = float64(correct) / n

	for i := range ids {
		tp := float64(out.Confusion[i][i])
		var support, predicted float64
		for j := range ids {
			support += float64(out.Confusion[i][j])
			predicted += float64(out.Confusion[j][i])
		}
		var precision, recall, f1 float64
		if predicted > 0 {
			precision = tp / predicted
		}
		if support > 0 {
			recall = tp / support
		}
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		w := support / n
		out.Precision += w * precision
		out.Recall += w * recall
		out.F1 += w * f1
	}
	return out
}

func scoreRegression(truth, pred []float64) *Regression {
	n := float64(len(truth))
	var mean float64
	for _, v := range truth {
		mean += v
	}
	mean /= n
	var sse, sae, sst float64
	for i := range truth {
		d := truth[i] - pred[i]
		sse += d * d
		sae += math.Abs(d)
		sst += (truth[i] - mean) * (truth[i] - mean)
	}
	r := &Regression{MSE: sse / n, MAE: sae / n}
	r.RMSE = math.Sqrt(r.MSE)
	switch {
	case sst > 0:
		r.R2 = 1 - sse/sst
	case sse == 0:
		r.R2 = 1
	default:
		r.R2 = 0
	}
	return r
}
