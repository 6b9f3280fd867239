package l5model

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/impact.report/internal/monitoring"
)

// TrainConfig controls a training run.
type TrainConfig struct {
	Params         Params
	TestFraction   float64
	SplitSeed      uint64
	FeatureColumns []string
}

// DefaultTrainConfig uses DefaultParams and an 80/20 split.
func DefaultTrainConfig(columns []string) TrainConfig {
	return TrainConfig{
		Params:         DefaultParams(),
		TestFraction:   0.2,
		SplitSeed:      42,
		FeatureColumns: columns,
	}
}

// TrainResult is a fitted pipeline with its hold-out predictions.
type TrainResult struct {
	Pipeline       *Pipeline
	Params         Params
	TrainIndex     []int
	TestIndex      []int
	TestLabels     []int
	TestScores     []float64
	TrainNegatives int
	TrainPositives int
	Duration       time.Duration
}

// PositiveWeight is negatives/positives floored at 1, or 1 when there are
// no positives.
func PositiveWeight(negatives, positives int) float64 {
	if positives == 0 {
		return 1
	}
	return max(1, float64(negatives)/float64(positives))
}

// Fit trains the scaler and booster on all of X. The positive weight is
// derived from y, overriding cfg.Params.ScalePosWeight.
func Fit(ctx context.Context, X [][]float64, y []int, cfg TrainConfig) (*Pipeline, Params, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, Params{}, fmt.Errorf("%w: %d rows, %d labels", ErrInsufficientData, len(X), len(y))
	}
	if len(cfg.FeatureColumns) != len(X[0]) {
		return nil, Params{}, fmt.Errorf("trainer: %d feature columns for %d-wide rows", len(cfg.FeatureColumns), len(X[0]))
	}

	neg, pos := 0, 0
	for _, v := range y {
		if v != 0 {
			pos++
		} else {
			neg++
		}
	}
	params := cfg.Params
	params.ScalePosWeight = PositiveWeight(neg, pos)

	scaler, err := FitScaler(X)
	if err != nil {
		return nil, params, err
	}
	booster, err := FitBooster(ctx, scaler.TransformAll(X), y, params)
	if err != nil {
		return nil, params, err
	}
	return &Pipeline{
		FeatureColumns: append([]string(nil), cfg.FeatureColumns...),
		Scaler:         scaler,
		Booster:        booster,
	}, params, nil
}

// Train splits X/y stratified, fits on the training rows only and scores
// the held-out rows.
func Train(ctx context.Context, X [][]float64, y []int, cfg TrainConfig) (*TrainResult, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	trainIdx, testIdx, err := StratifiedSplit(y, cfg.TestFraction, cfg.SplitSeed)
	if err != nil {
		return nil, err
	}
	trX, trY := Subset(X, y, trainIdx)
	teX, teY := Subset(X, y, testIdx)

	pipe, params, err := Fit(ctx, trX, trY, cfg)
	if err != nil {
		return nil, err
	}
	scores, err := pipe.PredictProbaAll(teX)
	if err != nil {
		return nil, err
	}

	res := &TrainResult{
		Pipeline:   pipe,
		Params:     params,
		TrainIndex: trainIdx,
		TestIndex:  testIdx,
		TestLabels: teY,
		TestScores: scores,
		Duration:   time.Since(start),
	}
	for _, v := range trY {
		if v != 0 {
			res.TrainPositives++
		} else {
			res.TrainNegatives++
		}
	}
	monitoring.Logf("trainer: fitted %d trees on %d windows (%d positive, weight %.2f) in %v",
		len(pipe.Booster.Trees), len(trY), res.TrainPositives, params.ScalePosWeight, res.Duration.Round(time.Millisecond))
	return res, nil
}
