package l6eval

import (
	"sort"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
)

// OperatingPoint is the classifier behaviour at one cutoff.
type OperatingPoint struct {
	Threshold float64 `json:"threshold"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	TP        int     `json:"tp"`
	FP        int     `json:"fp"`
	FN        int     `json:"fn"`
	TN        int     `json:"tn"`
}

// Sweep evaluates every candidate cutoff in [0,1]: 0, 1 and each distinct
// score. Points come back in ascending threshold order. A cutoff that
// predicts nothing positive reports precision 1, the usual
// precision-recall curve convention.
func Sweep(y []int, scores []float64) []OperatingPoint {
	var pos, neg []float64
	for i, s := range scores {
		if y[i] != 0 {
			pos = append(pos, s)
		} else {
			neg = append(neg, s)
		}
	}
	sort.Float64s(pos)
	sort.Float64s(neg)

	cands := make([]float64, 0, len(scores)+2)
	cands = append(cands, 0, 1)
	for _, s := range scores {
		if s >= 0 && s <= 1 {
			cands = append(cands, s)
		}
	}
	sort.Float64s(cands)
	uniq := cands[:1]
	for _, c := range cands[1:] {
		if c != uniq[len(uniq)-1] {
			uniq = append(uniq, c)
		}
	}

	atLeast := func(sorted []float64, t float64) int {
		return len(sorted) - sort.SearchFloat64s(sorted, t)
	}

	points := make([]OperatingPoint, len(uniq))
	for i, t := range uniq {
		tp := atLeast(pos, t)
		fp := atLeast(neg, t)
		p := OperatingPoint{
			Threshold: t,
			TP:        tp,
			FP:        fp,
			FN:        len(pos) - tp,
			TN:        len(neg) - fp,
			Precision: 1,
		}
		if tp+fp > 0 {
			p.Precision = float64(tp) / float64(tp+fp)
		}
		if len(pos) > 0 {
			p.Recall = float64(tp) / float64(len(pos))
		}
		p.F1 = f1(p.Precision, p.Recall)
		if tp == 0 {
			p.F1 = 0
		}
		points[i] = p
	}
	return points
}

// BalancedPoint returns the point with the highest F1. Ties go to the
// larger cutoff, which raises fewer alarms for the same F1.
func BalancedPoint(points []OperatingPoint) OperatingPoint {
	best := OperatingPoint{Threshold: 0.5}
	for i, p := range points {
		if i == 0 || p.F1 >= best.F1 {
			best = p
		}
	}
	return best
}

// RecallTargetPoint returns the smallest cutoff whose recall meets target,
// the most permissive threshold that still guarantees the safety recall.
// points must be in ascending threshold order, as Sweep returns them. ok is
// false when no point reaches the target, which only happens when there are
// no positives.
func RecallTargetPoint(points []OperatingPoint, target float64) (OperatingPoint, bool) {
	for _, p := range points {
		if p.TP > 0 && p.Recall >= target {
			return p, true
		}
	}
	return OperatingPoint{}, false
}

// ValidateTargetRecall rejects targets outside (0,1].
func ValidateTargetRecall(target float64) error {
	if !(target > 0 && target <= 1) {
		return l1samples.NewConfigError("target_recall", "must be in (0,1], got %v", target)
	}
	return nil
}
