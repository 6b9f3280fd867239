package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/impact.report/internal/config"
	"github.com/banshee-data/impact.report/internal/db"
	"github.com/banshee-data/impact.report/internal/fsutil"
	"github.com/banshee-data/impact.report/internal/impact/l7serving"
	"github.com/banshee-data/impact.report/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"version"}, &out))
	assert.True(t, strings.HasPrefix(out.String(), "impact "), out.String())
}

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"help"}, &out))
	assert.Contains(t, out.String(), "Usage: impact <command>")
}

func TestRun_UsageErrors(t *testing.T) {
	tests := [][]string{
		nil,
		{"bogus"},
		{"train"},
		{"predict"},
		{"predict", "-data", "x.csv", "-threshold", "often"},
		{"generate", "-vehicles", "0"},
	}
	for _, args := range tests {
		err := run(context.Background(), args, &bytes.Buffer{})
		var usage usageError
		assert.True(t, errors.As(err, &usage), "args %q: got %v", args, err)
	}
}

func TestRun_SubcommandHelp(t *testing.T) {
	for _, cmd := range []string{"train", "predict", "serve", "generate", "migrate"} {
		var out bytes.Buffer
		err := run(context.Background(), []string{cmd, "-h"}, &out)
		assert.ErrorIs(t, err, flag.ErrHelp, cmd)
		assert.Contains(t, out.String(), "Usage of "+cmd, cmd)
	}
}

func TestTrainFlags_DefaultsMatchDefaultsFile(t *testing.T) {
	cfg := config.MustLoadDefaultConfig()
	opts := cfg.TrainOptions()
	schema := cfg.Schema()
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

	want := map[string]string{
		"sampling-rate":  f(opts.SamplingRate),
		"window-size":    strconv.Itoa(opts.Segmenter.WindowSize),
		"step-size":      strconv.Itoa(opts.Segmenter.StepSize),
		"label-col":      schema.Label,
		"timestamp-col":  schema.Timestamp,
		"vehicle-id-col": schema.VehicleID,
		"event-id-col":   schema.EventID,
		"severity-col":   schema.Severity,
		"target-recall":  f(opts.TargetRecall),
		"test-size":      f(opts.Train.TestFraction),
		"cv-folds":       strconv.Itoa(opts.CVFolds),
		"n-estimators":   strconv.Itoa(opts.Train.Params.NEstimators),
		"max-depth":      strconv.Itoa(opts.Train.Params.MaxDepth),
		"learning-rate":  f(opts.Train.Params.LearningRate),
		"seed":           strconv.FormatUint(opts.Train.Params.Seed, 10),
	}
	fs := newTrainFlags(&bytes.Buffer{}).fs
	for name, v := range want {
		fl := fs.Lookup(name)
		require.NotNil(t, fl, name)
		assert.Equal(t, v, fl.DefValue, "-%s", name)
	}
	assert.Equal(t, "600", fs.Lookup("n-estimators").DefValue)
	assert.Equal(t, "0.05", fs.Lookup("learning-rate").DefValue)
}

func TestParseInterleaved(t *testing.T) {
	fs := flag.NewFlagSet("t", flag.ContinueOnError)
	dbPath := fs.String("db", "default.db", "")
	pos, err := parseInterleaved(fs, []string{"up", "-db", "x.db", "extra"})
	require.NoError(t, err)
	assert.Equal(t, []string{"up", "extra"}, pos)
	assert.Equal(t, "x.db", *dbPath)
}

func TestRunMigrate_Status(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"migrate", "up", "-db", dbPath}, &out))

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"migrate", "status", "-db", dbPath}, &out))
	assert.Contains(t, out.String(), "Migration Status")
	assert.Contains(t, out.String(), "Dirty: false")
}

func TestGenerate_Stdout(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(),
		[]string{"generate", "-vehicles", "1", "-events", "2", "-seed", "7"}, &out))

	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1+2*100)
	assert.Contains(t, rows[0], "accident")
	assert.Contains(t, rows[0], "vehicle_id")
}

func TestTrainPredict_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("trains a model")
	}
	ctx := context.Background()
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "synthetic.csv")
	cfgPath := filepath.Join(dir, "pipeline.yaml")
	outDir := filepath.Join(dir, "artifacts")
	dbPath := filepath.Join(dir, "impact.db")
	featuresPath := filepath.Join(dir, "features", "windows.csv")
	predPath := filepath.Join(dir, "predictions.csv")

	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"n_estimators: 25\nlearning_rate: 0.3\nmax_depth: 3\nmin_child_weight: 1\n"), 0644))

	require.NoError(t, run(ctx, []string{"generate", "-out", dataPath,
		"-vehicles", "2", "-events", "60", "-accident-rate", "0.3"}, &bytes.Buffer{}))

	var summary bytes.Buffer
	require.NoError(t, run(ctx, []string{"train",
		"-data", dataPath, "-config", cfgPath, "-out", outDir,
		"-db", dbPath, "-features-out", featuresPath, "-target-recall", "0.8",
	}, &summary))
	assert.Contains(t, summary.String(), "roc auc")
	assert.Contains(t, summary.String(), "recall@0.80")

	for _, name := range []string{"model.json", "report.json", "dashboard.html"} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}
	assert.FileExists(t, featuresPath)

	a, err := l7serving.LoadArtifact(fsutil.OSFileSystem{}, filepath.Join(outDir, "model.json"))
	require.NoError(t, err)
	assert.Equal(t, 0.8, a.TargetRecall)
	assert.Equal(t, 25, a.Training.Params.NEstimators)
	assert.FileExists(t, filepath.Join(outDir, "models", a.ModelVersion+".json"))

	ledger, err := db.NewDB(dbPath)
	require.NoError(t, err)
	rec, err := ledger.GetRun(ctx, a.ModelVersion)
	require.NoError(t, err)
	assert.Equal(t, a.ModelVersion, rec.ModelVersion)
	require.NoError(t, ledger.Close())

	require.NoError(t, runPredict(ctx, []string{
		"-model", filepath.Join(outDir, "model.json"),
		"-data", dataPath, "-threshold", "recall", "-out", predPath,
	}, &bytes.Buffer{}))

	f, err := os.Open(predPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1+a.Training.Windows)
	assert.Equal(t, "model_version", rows[0][len(rows[0])-1])
	assert.Equal(t, a.ModelVersion, rows[1][len(rows[1])-1])
}

func TestTrain_RejectsOutputOutsideAllowedDirs(t *testing.T) {
	err := run(context.Background(), []string{"train", "-data", "x.csv", "-out", "/etc/impact"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be within")
}
