package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/impact.report/internal/fsutil"
	"github.com/banshee-data/impact.report/internal/impact/l1samples"
	"github.com/banshee-data/impact.report/internal/impact/l7serving"
	"github.com/banshee-data/impact.report/internal/impact/pipeline"
)

func runPredict(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	fs.SetOutput(stdout)
	modelPath := fs.String("model", "artifacts/model.json", "Model artifact to load")
	dataPath := fs.String("data", "", "Accelerometer CSV to classify (required)")
	threshold := fs.String("threshold", "", "balanced, recall or a probability in [0,1] (default from config, else balanced)")
	outPath := fs.String("out", "", "Predictions CSV (default stdout)")
	configPath := fs.String("config", "", "Pipeline config file for column names")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataPath == "" {
		return usageError{"predict: -data is required"}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	policyText := *threshold
	if policyText == "" {
		policyText = cfg.GetThresholdPolicy()
	}
	policy, err := l7serving.ParsePolicy(policyText)
	if err != nil {
		return usageError{fmt.Sprintf("predict: %v", err)}
	}

	a, err := l7serving.LoadArtifact(fsutil.OSFileSystem{}, *modelPath)
	if err != nil {
		return err
	}
	m, err := l7serving.NewModel(a)
	if err != nil {
		return err
	}

	// windows must be cut at the rate the model was trained for
	schema := cfg.Schema()
	schema.SamplingRate = a.SamplingRate
	samples, err := l1samples.ReadCSVFile(*dataPath, schema)
	if err != nil {
		return err
	}

	preds, skipped, err := pipeline.Predict(ctx, m, samples, policy)
	if err != nil {
		return err
	}
	for _, s := range skipped {
		log.Printf("predict: skipped %v", s)
	}

	out := stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *outPath, err)
		}
		defer f.Close()
		out = f
	}
	if err := pipeline.WritePredictionsCSV(out, preds); err != nil {
		return fmt.Errorf("failed to write predictions: %w", err)
	}

	alerts := 0
	for _, p := range preds {
		if p.IsAccident {
			alerts++
		}
	}
	log.Printf("predict: model %s, %s threshold, %d windows, %d flagged", m.Version(), policy, len(preds), alerts)
	return nil
}
