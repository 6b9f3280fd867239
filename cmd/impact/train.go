package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/impact.report/internal/config"
	"github.com/banshee-data/impact.report/internal/db"
	"github.com/banshee-data/impact.report/internal/fsutil"
	"github.com/banshee-data/impact.report/internal/impact/l1samples"
	"github.com/banshee-data/impact.report/internal/impact/l3features"
	"github.com/banshee-data/impact.report/internal/impact/l6eval"
	"github.com/banshee-data/impact.report/internal/impact/l7serving"
	"github.com/banshee-data/impact.report/internal/impact/pipeline"
	"github.com/banshee-data/impact.report/internal/monitoring"
	"github.com/banshee-data/impact.report/internal/security"
)

// trainFlags are the command-line overrides for a training run. Only flags
// the user actually set replace values from -config.
type trainFlags struct {
	fs *flag.FlagSet

	data        string
	configPath  string
	outDir      string
	dbPath      string
	featuresOut string
	plots       bool
	allowDir    string
}

func newTrainFlags(stdout io.Writer) *trainFlags {
	tf := &trainFlags{fs: flag.NewFlagSet("train", flag.ContinueOnError)}
	fs := tf.fs
	fs.SetOutput(stdout)
	fs.StringVar(&tf.data, "data", "", "Labelled accelerometer CSV (required)")
	fs.StringVar(&tf.configPath, "config", "", "Pipeline config file (.json or .yaml)")
	fs.StringVar(&tf.outDir, "out", "artifacts", "Directory for the model artifact and report")
	fs.StringVar(&tf.dbPath, "db", "", "Record the run in this ledger database")
	fs.StringVar(&tf.featuresOut, "features-out", "", "Also write the window feature matrix to this CSV")
	fs.BoolVar(&tf.plots, "plots", false, "Render ROC and precision-recall PNGs into <out>/plots")
	fs.StringVar(&tf.allowDir, "allow-dir", "", "Extra directory outputs may be written to")

	// config overrides; defaults only document the built-in values
	def := pipeline.DefaultTrainOptions()
	schema := l1samples.DefaultSchema()
	params := def.Train.Params
	fs.Float64("sampling-rate", def.SamplingRate, "Samples per second")
	fs.Int("window-size", def.Segmenter.WindowSize, "Samples per window")
	fs.Int("step-size", def.Segmenter.StepSize, "Samples between window starts")
	fs.String("label-col", schema.Label, "Label column")
	fs.String("timestamp-col", schema.Timestamp, "Timestamp column")
	fs.String("vehicle-id-col", schema.VehicleID, "Vehicle ID column")
	fs.String("event-id-col", schema.EventID, "Event ID column")
	fs.String("severity-col", schema.Severity, "Severity column")
	fs.Float64("target-recall", def.TargetRecall, "Recall the recall-target threshold must reach")
	fs.Float64("test-size", def.Train.TestFraction, "Held-out fraction")
	fs.Int("cv-folds", def.CVFolds, "Stratified cross-validation folds (0 disables)")
	fs.Int("n-estimators", params.NEstimators, "Boosting rounds")
	fs.Int("max-depth", params.MaxDepth, "Maximum tree depth")
	fs.Float64("learning-rate", params.LearningRate, "Shrinkage per round")
	fs.Uint64("seed", params.Seed, "Seed for the split and the booster")
	return tf
}

// applyOverrides copies every explicitly set flag into cfg.
func (tf *trainFlags) applyOverrides(cfg *config.PipelineConfig) error {
	var firstErr error
	tf.fs.Visit(func(f *flag.Flag) {
		if firstErr != nil {
			return
		}
		v := f.Value.String()
		str := func(dst **string) { *dst = &v }
		num := func(dst **float64) {
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				firstErr = fmt.Errorf("-%s: %w", f.Name, err)
				return
			}
			*dst = &x
		}
		integer := func(dst **int) {
			x, err := strconv.Atoi(v)
			if err != nil {
				firstErr = fmt.Errorf("-%s: %w", f.Name, err)
				return
			}
			*dst = &x
		}
		switch f.Name {
		case "sampling-rate":
			num(&cfg.SamplingRate)
		case "window-size":
			integer(&cfg.WindowSize)
		case "step-size":
			integer(&cfg.StepSize)
		case "label-col":
			str(&cfg.LabelCol)
		case "timestamp-col":
			str(&cfg.TimestampCol)
		case "vehicle-id-col":
			str(&cfg.VehicleIDCol)
		case "event-id-col":
			str(&cfg.EventIDCol)
		case "severity-col":
			str(&cfg.SeverityCol)
		case "target-recall":
			num(&cfg.TargetRecall)
		case "test-size":
			num(&cfg.TestSize)
		case "cv-folds":
			integer(&cfg.CVFolds)
		case "n-estimators":
			integer(&cfg.NEstimators)
		case "max-depth":
			integer(&cfg.MaxDepth)
		case "learning-rate":
			num(&cfg.LearningRate)
		case "seed":
			seed, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				firstErr = fmt.Errorf("-seed: %w", err)
				return
			}
			cfg.Seed = &seed
			cfg.SplitSeed = &seed
		}
	})
	return firstErr
}

func loadConfig(path string) (*config.PipelineConfig, error) {
	if path == "" {
		return config.EmptyPipelineConfig(), nil
	}
	return config.LoadPipelineConfig(path)
}

func runTrain(ctx context.Context, args []string, stdout io.Writer) (err error) {
	tf := newTrainFlags(stdout)
	if err := tf.fs.Parse(args); err != nil {
		return err
	}
	if tf.data == "" {
		return usageError{"train: -data is required"}
	}

	cfg, err := loadConfig(tf.configPath)
	if err != nil {
		return err
	}
	if err := tf.applyOverrides(cfg); err != nil {
		return usageError{fmt.Sprintf("train: %v", err)}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var allowed []string
	if tf.allowDir != "" {
		allowed = append(allowed, tf.allowDir)
	}
	for _, p := range []string{tf.outDir, tf.featuresOut} {
		if p == "" {
			continue
		}
		if err := security.ValidateOutputPath(p, allowed...); err != nil {
			return err
		}
	}

	defer func() { monitoring.ObserveTrainingRun(err) }()

	samples, err := l1samples.ReadCSVFile(tf.data, cfg.Schema())
	if err != nil {
		return err
	}
	log.Printf("train: read %d samples from %s", len(samples), tf.data)

	opts := cfg.TrainOptions()
	opts.DataPath = tf.data
	outcome, err := pipeline.Train(ctx, samples, opts)
	if err != nil {
		return err
	}

	fsys := fsutil.OSFileSystem{}
	paths, err := writeTrainOutputs(fsys, tf.outDir, outcome, tf.plots)
	if err != nil {
		return err
	}
	if tf.featuresOut != "" {
		if err := writeFeatures(fsys, tf.featuresOut, outcome); err != nil {
			return err
		}
		paths = append(paths, tf.featuresOut)
	}

	if tf.dbPath != "" {
		ledger, err := db.NewDB(tf.dbPath)
		if err != nil {
			return err
		}
		defer ledger.Close()
		if err := ledger.RecordTrainingRun(ctx, outcome.Artifact, outcome.Report, paths[0]); err != nil {
			return err
		}
		log.Printf("train: recorded run %s in %s", outcome.Artifact.ModelVersion, tf.dbPath)
	}

	printSummary(stdout, outcome, paths)
	return nil
}

// writeTrainOutputs writes model.json (the latest artifact), a copy named
// after the model version, report.json, dashboard.html and optionally the
// plots. The first returned path is the artifact.
func writeTrainOutputs(fsys fsutil.FileSystem, dir string, o *pipeline.TrainOutcome, plots bool) ([]string, error) {
	a := o.Artifact
	modelPath := filepath.Join(dir, "model.json")
	if err := l7serving.SaveArtifact(fsys, modelPath, a); err != nil {
		return nil, err
	}
	versioned := filepath.Join(dir, "models", security.SanitizeFilename(a.ModelVersion)+".json")
	if err := l7serving.SaveArtifact(fsys, versioned, a); err != nil {
		return nil, err
	}
	paths := []string{modelPath, versioned}

	report, err := json.MarshalIndent(o.Report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	reportPath := filepath.Join(dir, "report.json")
	if err := fsutil.WriteFileAtomic(fsys, reportPath, report, 0644); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	paths = append(paths, reportPath)

	var dash bytes.Buffer
	if err := l6eval.RenderDashboard(&dash, o.Report); err != nil {
		return nil, fmt.Errorf("failed to render dashboard: %w", err)
	}
	dashPath := filepath.Join(dir, "dashboard.html")
	if err := fsutil.WriteFileAtomic(fsys, dashPath, dash.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("failed to write dashboard: %w", err)
	}
	paths = append(paths, dashPath)

	if plots {
		written, err := l6eval.WritePlots(filepath.Join(dir, "plots"), o.Report)
		if err != nil {
			return nil, err
		}
		paths = append(paths, written...)
	}
	return paths, nil
}

func writeFeatures(fsys fsutil.FileSystem, path string, o *pipeline.TrainOutcome) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	w, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create features file: %w", err)
	}
	if err := l3features.WriteCSV(w, o.Vectors, o.Labels); err != nil {
		w.Close()
		return fmt.Errorf("failed to write features: %w", err)
	}
	return w.Close()
}

func printSummary(w io.Writer, o *pipeline.TrainOutcome, paths []string) {
	a, r := o.Artifact, o.Report
	fmt.Fprintf(w, "model %s\n", a.ModelVersion)
	fmt.Fprintf(w, "  windows     %d (%d positive), %d vehicles\n", a.Training.Windows, a.Training.Positives, a.Training.Vehicles)
	if r.ROCAUCDefined {
		fmt.Fprintf(w, "  roc auc     %.4f\n", r.ROCAUC)
	} else {
		fmt.Fprintf(w, "  roc auc     undefined (single-class hold-out)\n")
	}
	fmt.Fprintf(w, "  accuracy    %.4f  precision %.4f  recall %.4f  f1 %.4f\n", r.Accuracy, r.Precision, r.Recall, r.F1)
	fmt.Fprintf(w, "  thresholds  balanced %.4f  recall@%.2f %.4f\n", a.BalancedThreshold, a.TargetRecall, a.RecallTargetThreshold)
	for _, f := range a.Pipeline.TopFeatures(5) {
		fmt.Fprintf(w, "  feature     %-24s %.4f\n", f.Feature, f.Gain)
	}
	for _, p := range paths {
		fmt.Fprintf(w, "  wrote       %s\n", p)
	}
	for _, s := range o.Skipped {
		fmt.Fprintf(w, "  skipped     %v\n", s)
	}
}
