package l6eval

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/impact.report/internal/impact/l5model"
	"github.com/banshee-data/impact.report/internal/monitoring"
)

// DefaultFolds is the cross-validation fold count.
const DefaultFolds = 5

// CVSummary aggregates per-fold hold-out AUC and recall at 0.5.
type CVSummary struct {
	Folds      int       `json:"folds"`
	AUCMean    float64   `json:"cv_auc_mean"`
	AUCStd     float64   `json:"cv_auc_std"`
	RecallMean float64   `json:"cv_recall_mean"`
	RecallStd  float64   `json:"cv_recall_std"`
	FoldAUC    []float64 `json:"fold_auc"`
	FoldRecall []float64 `json:"fold_recall"`
}

// CrossValidate fits one pipeline per stratified fold and scores it on the
// fold it did not see. Folds run concurrently, bounded by GOMAXPROCS.
func CrossValidate(ctx context.Context, X [][]float64, y []int, cfg l5model.TrainConfig, folds int) (*CVSummary, error) {
	if len(X) != len(y) {
		return nil, fmt.Errorf("cross-validate: %d rows, %d labels", len(X), len(y))
	}
	parts, err := l5model.StratifiedKFold(y, folds, cfg.SplitSeed)
	if err != nil {
		return nil, err
	}

	aucs := make([]float64, folds)
	recalls := make([]float64, folds)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for k, test := range parts {
		g.Go(func() error {
			train := l5model.Complement(len(y), test)
			trX, trY := l5model.Subset(X, y, train)
			teX, teY := l5model.Subset(X, y, test)

			pipe, _, err := l5model.Fit(gctx, trX, trY, cfg)
			if err != nil {
				return fmt.Errorf("fold %d: %w", k, err)
			}
			scores, err := pipe.PredictProbaAll(teX)
			if err != nil {
				return fmt.Errorf("fold %d: %w", k, err)
			}
			auc, err := ROCAUC(teY, scores)
			if errors.Is(err, ErrSingleClass) {
				auc = 0.5
			} else if err != nil {
				return fmt.Errorf("fold %d: %w", k, err)
			}
			aucs[k] = auc
			recalls[k] = Confusion(teY, scores, 0.5).Recall()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &CVSummary{Folds: folds, FoldAUC: aucs, FoldRecall: recalls}
	s.AUCMean, s.AUCStd = stat.PopMeanStdDev(aucs, nil)
	s.RecallMean, s.RecallStd = stat.PopMeanStdDev(recalls, nil)
	monitoring.Logf("cross-validate: %d folds, auc %.4f ± %.4f, recall %.4f ± %.4f",
		folds, s.AUCMean, s.AUCStd, s.RecallMean, s.RecallStd)
	return s, nil
}
