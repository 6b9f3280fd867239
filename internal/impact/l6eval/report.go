package l6eval

import (
	"errors"
	"fmt"

	"github.com/banshee-data/impact.report/internal/impact/l5model"
	"github.com/banshee-data/impact.report/internal/monitoring"
)

// DefaultTargetRecall is the recall the alert-biased threshold aims for.
const DefaultTargetRecall = 0.9

// Support counts the classes in an evaluated set.
type Support struct {
	Negatives int `json:"negatives"`
	Positives int `json:"positives"`
}

// Report summarises a model on held-out windows.
type Report struct {
	Accuracy        float64        `json:"accuracy"`
	Precision       float64        `json:"precision"`
	Recall          float64        `json:"recall"`
	F1              float64        `json:"f1"`
	ROCAUC          float64        `json:"roc_auc"`
	ROCAUCDefined   bool           `json:"roc_auc_defined"`
	ConfusionMatrix [2][2]int      `json:"confusion_matrix"`
	Support         Support        `json:"support"`
	TargetRecall    float64        `json:"target_recall"`
	Balanced        OperatingPoint `json:"balanced"`
	RecallTarget    OperatingPoint `json:"recall_target"`
	// RecallTargetFallback is set when the recall target could not be met
	// and the balanced threshold was reused.
	RecallTargetFallback bool `json:"recall_target_fallback,omitempty"`

	TopFeatures []l5model.FeatureImportance `json:"top_features,omitempty"`
	CV          *CVSummary                  `json:"cross_validation,omitempty"`

	Sweep []OperatingPoint `json:"-"`
	ROC   ROCCurve         `json:"-"`
}

// BalancedThreshold is the F1-maximising cutoff.
func (r *Report) BalancedThreshold() float64 { return r.Balanced.Threshold }

// RecallTargetThreshold is the alert-biased cutoff.
func (r *Report) RecallTargetThreshold() float64 { return r.RecallTarget.Threshold }

// Evaluate scores held-out predictions. Point metrics use a 0.5 cutoff; the
// sweep calibrates the balanced and recall-target thresholds.
func Evaluate(y []int, scores []float64, targetRecall float64) (*Report, error) {
	if len(y) == 0 {
		return nil, fmt.Errorf("%w: nothing to evaluate", l5model.ErrInsufficientData)
	}
	if len(y) != len(scores) {
		return nil, fmt.Errorf("evaluate: %d labels for %d scores", len(y), len(scores))
	}
	if err := ValidateTargetRecall(targetRecall); err != nil {
		return nil, err
	}

	c := Confusion(y, scores, 0.5)
	r := &Report{
		Accuracy:        c.Accuracy(),
		Precision:       c.Precision(),
		Recall:          c.Recall(),
		F1:              c.F1(),
		ConfusionMatrix: c.Matrix(),
		Support:         Support{Negatives: c.TN + c.FP, Positives: c.TP + c.FN},
		TargetRecall:    targetRecall,
	}

	curve, err := ROC(y, scores)
	switch {
	case errors.Is(err, ErrSingleClass):
		// Chance level; the flag tells readers the number is not measured.
		r.ROCAUC = 0.5
		monitoring.Logf("evaluate: warning: %v", err)
	case err != nil:
		return nil, err
	default:
		r.ROC = curve
		r.ROCAUC = curve.AUC()
		r.ROCAUCDefined = true
	}

	r.Sweep = Sweep(y, scores)
	r.Balanced = BalancedPoint(r.Sweep)
	if p, ok := RecallTargetPoint(r.Sweep, targetRecall); ok {
		r.RecallTarget = p
	} else {
		r.RecallTarget = r.Balanced
		r.RecallTargetFallback = true
		monitoring.Logf("evaluate: warning: recall %.2f unreachable, using balanced threshold %.4f",
			targetRecall, r.Balanced.Threshold)
	}
	return r, nil
}

// WithFeatures attaches the pipeline's top features to the report.
func (r *Report) WithFeatures(p *l5model.Pipeline, n int) *Report {
	r.TopFeatures = p.TopFeatures(n)
	return r
}
