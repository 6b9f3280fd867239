package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
	"github.com/banshee-data/impact.report/internal/impact/l2windows"
	"github.com/banshee-data/impact.report/internal/impact/l3features"
	"github.com/banshee-data/impact.report/internal/impact/l4labels"
	"github.com/banshee-data/impact.report/internal/impact/l5model"
	"github.com/banshee-data/impact.report/internal/impact/l6eval"
	"github.com/banshee-data/impact.report/internal/impact/l7serving"
	"github.com/banshee-data/impact.report/internal/monitoring"
)

// TrainOptions configures one training run.
type TrainOptions struct {
	DataPath     string // recorded in the artifact only
	SamplingRate float64
	Segmenter    l2windows.Config
	Train        l5model.TrainConfig
	TargetRecall float64
	CVFolds      int // 0 or 1 disables cross validation
	TopFeatures  int
	Workers      int // feature extraction goroutines; 0 uses GOMAXPROCS
}

// DefaultTrainOptions matches the documented CLI defaults.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		SamplingRate: 50,
		Segmenter:    l2windows.DefaultConfig(),
		Train:        l5model.DefaultTrainConfig(l3features.Names()),
		TargetRecall: l6eval.DefaultTargetRecall,
		TopFeatures:  15,
	}
}

// TrainOutcome is everything a training run produces.
type TrainOutcome struct {
	Artifact *l7serving.Artifact
	Report   *l6eval.Report
	Vectors  []l3features.Vector
	Labels   []int
	Skipped  []*l2windows.DataInsufficientError
	Started  time.Time
	Finished time.Time
}

// Train segments samples, extracts features, fits and evaluates a model and
// freezes it into an artifact.
func Train(ctx context.Context, samples []l1samples.Sample, opts TrainOptions) (*TrainOutcome, error) {
	started := time.Now()
	seg, err := l2windows.NewSegmenter(opts.Segmenter)
	if err != nil {
		return nil, err
	}
	fcfg := l3features.Config{SamplingRate: opts.SamplingRate, WindowSize: opts.Segmenter.WindowSize}
	if err := fcfg.Validate(); err != nil {
		return nil, err
	}
	if err := l6eval.ValidateTargetRecall(opts.TargetRecall); err != nil {
		return nil, err
	}

	groups := l1samples.GroupByVehicle(samples)
	windows, skipped := seg.SegmentVehicles(groups)
	if len(windows) < 2 {
		return nil, fmt.Errorf("%w: %d windows from %d vehicles", l5model.ErrInsufficientData, len(windows), len(groups))
	}

	vectors, err := l3features.ExtractAll(ctx, fcfg, windows, opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("feature extraction: %w", err)
	}
	_, y := l4labels.AggregateAll(windows)
	neg, pos := l4labels.Counts(y)
	monitoring.Logf("pipeline: %d windows from %d vehicles (%d positive, %d negative, %d vehicles skipped)",
		len(windows), len(groups)-len(skipped), pos, neg, len(skipped))

	X := l3features.Matrix(vectors)
	tcfg := opts.Train
	tcfg.FeatureColumns = l3features.Names()
	res, err := l5model.Train(ctx, X, y, tcfg)
	if err != nil {
		return nil, err
	}

	report, err := l6eval.Evaluate(res.TestLabels, res.TestScores, opts.TargetRecall)
	if err != nil {
		return nil, err
	}
	report.WithFeatures(res.Pipeline, opts.TopFeatures)

	if opts.CVFolds > 1 {
		cv, err := l6eval.CrossValidate(ctx, X, y, tcfg, opts.CVFolds)
		if err != nil {
			return nil, fmt.Errorf("cross validation: %w", err)
		}
		report.CV = cv
	}

	meta := l7serving.TrainingMetadata{
		DataPath:     opts.DataPath,
		Samples:      len(samples),
		Vehicles:     len(groups),
		Windows:      len(windows),
		Positives:    pos,
		TrainWindows: len(res.TrainIndex),
		TestWindows:  len(res.TestIndex),
		Params:       res.Params,
		DurationMS:   time.Since(started).Milliseconds(),
	}
	for _, s := range skipped {
		meta.SkippedVehicles = append(meta.SkippedVehicles, s.VehicleID)
	}
	artifact, err := l7serving.NewArtifact(res.Pipeline, report, opts.Segmenter, opts.SamplingRate, meta)
	if err != nil {
		return nil, err
	}

	monitoring.Logf("pipeline: model %s: auc %.4f, f1 %.4f, balanced %.4f, recall@%.2f %.4f",
		artifact.ModelVersion, report.ROCAUC, report.F1, report.BalancedThreshold(),
		report.TargetRecall, report.RecallTargetThreshold())
	return &TrainOutcome{
		Artifact: artifact,
		Report:   report,
		Vectors:  vectors,
		Labels:   y,
		Skipped:  skipped,
		Started:  started,
		Finished: time.Now(),
	}, nil
}
