// Package l6eval owns Layer 6 (Evaluation) of the impact pipeline:
// hold-out metrics, ROC-AUC, decision-threshold calibration, cross
// validation and the charts that go with them.
//
// Dependency rule: L6 may depend on L1-L5.
package l6eval

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ErrSingleClass is returned when ROC-AUC is requested for labels that are
// all one class.
var ErrSingleClass = errors.New("roc auc is undefined when only one class is present")

// ConfusionMatrix counts predictions at one cutoff.
type ConfusionMatrix struct {
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`
	TP int `json:"tp"`
}

// Confusion classifies scores >= threshold as positive.
func Confusion(y []int, scores []float64, threshold float64) ConfusionMatrix {
	var c ConfusionMatrix
	for i, s := range scores {
		pred := s >= threshold
		switch {
		case y[i] != 0 && pred:
			c.TP++
		case y[i] != 0:
			c.FN++
		case pred:
			c.FP++
		default:
			c.TN++
		}
	}
	return c
}

// Matrix returns [[TN, FP], [FN, TP]].
func (c ConfusionMatrix) Matrix() [2][2]int {
	return [2][2]int{{c.TN, c.FP}, {c.FN, c.TP}}
}

// Total returns the number of scored rows.
func (c ConfusionMatrix) Total() int { return c.TN + c.FP + c.FN + c.TP }

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Accuracy is the fraction of correct predictions.
func (c ConfusionMatrix) Accuracy() float64 { return ratio(c.TP+c.TN, c.Total()) }

// Precision is TP/(TP+FP), 0 when nothing is predicted positive.
func (c ConfusionMatrix) Precision() float64 { return ratio(c.TP, c.TP+c.FP) }

// Recall is TP/(TP+FN), 0 when there are no positives.
func (c ConfusionMatrix) Recall() float64 { return ratio(c.TP, c.TP+c.FN) }

// F1 is the harmonic mean of precision and recall.
func (c ConfusionMatrix) F1() float64 {
	return f1(c.Precision(), c.Recall())
}

func f1(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// ROCCurve is a receiver operating characteristic with FPR ascending.
type ROCCurve struct {
	FPR       []float64 `json:"fpr"`
	TPR       []float64 `json:"tpr"`
	Threshold []float64 `json:"threshold"`
}

// ROC computes the curve over every distinct score.
func ROC(y []int, scores []float64) (ROCCurve, error) {
	if len(y) != len(scores) {
		return ROCCurve{}, fmt.Errorf("roc: %d labels for %d scores", len(y), len(scores))
	}
	pos := 0
	for _, v := range y {
		if v != 0 {
			pos++
		}
	}
	if pos == 0 || pos == len(y) {
		return ROCCurve{}, ErrSingleClass
	}

	sorted := append([]float64(nil), scores...)
	classes := make([]bool, len(y))
	for i, v := range y {
		classes[i] = v != 0
	}
	stat.SortWeightedLabeled(sorted, classes, nil)
	tpr, fpr, thresh := stat.ROC(nil, sorted, classes, nil)
	return ROCCurve{FPR: fpr, TPR: tpr, Threshold: thresh}, nil
}

// AUC integrates the curve with the trapezoidal rule.
func (c ROCCurve) AUC() float64 {
	if len(c.FPR) < 2 {
		return 0
	}
	return integrate.Trapezoidal(c.FPR, c.TPR)
}

// ROCAUC is ROC followed by AUC.
func ROCAUC(y []int, scores []float64) (float64, error) {
	c, err := ROC(y, scores)
	if err != nil {
		return 0, err
	}
	return c.AUC(), nil
}
