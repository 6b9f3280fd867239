package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/impact.report/internal/impact/l5model"
)

func TestEmptyPipelineConfig_Defaults(t *testing.T) {
	cfg := EmptyPipelineConfig()

	if cfg.GetSamplingRate() != 50 {
		t.Errorf("GetSamplingRate() = %v, want 50", cfg.GetSamplingRate())
	}
	if cfg.GetWindowSize() != 100 || cfg.GetStepSize() != 50 {
		t.Errorf("window = %d/%d, want 100/50", cfg.GetWindowSize(), cfg.GetStepSize())
	}
	if cfg.GetTestSize() != 0.2 {
		t.Errorf("GetTestSize() = %v, want 0.2", cfg.GetTestSize())
	}
	if cfg.GetTargetRecall() != 0.9 {
		t.Errorf("GetTargetRecall() = %v, want 0.9", cfg.GetTargetRecall())
	}
	if cfg.GetThresholdPolicy() != "balanced" {
		t.Errorf("GetThresholdPolicy() = %q, want balanced", cfg.GetThresholdPolicy())
	}
	if cfg.GetIdleTimeout() != 30*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 30s", cfg.GetIdleTimeout())
	}
	if cfg.GetInboxSize() != 256 {
		t.Errorf("GetInboxSize() = %d, want 256", cfg.GetInboxSize())
	}
	if cfg.Params() != l5model.DefaultParams() {
		t.Errorf("Params() = %+v, want defaults", cfg.Params())
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	if cfg.SamplingRate == nil || *cfg.SamplingRate != 50 {
		t.Errorf("Expected SamplingRate 50, got %v", cfg.SamplingRate)
	}
	if cfg.NEstimators == nil || *cfg.NEstimators != 600 {
		t.Errorf("Expected NEstimators 600, got %v", cfg.NEstimators)
	}
	// The defaults file must agree with the compiled-in defaults.
	if cfg.Params() != l5model.DefaultParams() {
		t.Errorf("Params() = %+v, want %+v", cfg.Params(), l5model.DefaultParams())
	}
	if cfg.Schema() != EmptyPipelineConfig().Schema() {
		t.Errorf("Schema() = %+v differs from defaults", cfg.Schema())
	}
	opts := cfg.TrainOptions()
	if opts.Train.SplitSeed != 42 || opts.CVFolds != 0 || opts.TopFeatures != 15 {
		t.Errorf("unexpected train options %+v", opts)
	}
}

func TestLoadPipelineConfig_PartialJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.json")
	content := `{"window_size": 200, "step_size": 100, "n_estimators": 50, "threshold_policy": "recall"}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	cfg, err := LoadPipelineConfig(path)
	if err != nil {
		t.Fatalf("LoadPipelineConfig failed: %v", err)
	}
	if got := cfg.Segmenter(); got.WindowSize != 200 || got.StepSize != 100 {
		t.Errorf("Segmenter() = %+v, want 200/100", got)
	}
	if cfg.Params().NEstimators != 50 {
		t.Errorf("NEstimators = %d, want 50", cfg.Params().NEstimators)
	}
	// Untouched fields fall back to defaults.
	if cfg.Params().LearningRate != 0.05 {
		t.Errorf("LearningRate = %v, want 0.05", cfg.Params().LearningRate)
	}
	if cfg.GetThresholdPolicy() != "recall" {
		t.Errorf("GetThresholdPolicy() = %q, want recall", cfg.GetThresholdPolicy())
	}
}

func TestLoadPipelineConfig_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	content := `
sampling_rate: 100
label_col: crash
vehicle_id_col: unit
target_recall: 0.95
cv_folds: 5
idle_timeout: 2m
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	cfg, err := LoadPipelineConfig(path)
	if err != nil {
		t.Fatalf("LoadPipelineConfig failed: %v", err)
	}
	s := cfg.Schema()
	if s.Label != "crash" || s.VehicleID != "unit" || s.SamplingRate != 100 {
		t.Errorf("Schema() = %+v", s)
	}
	if s.AccelX != "accel_x" {
		t.Errorf("AccelX = %q, want accel_x", s.AccelX)
	}
	opts := cfg.TrainOptions()
	if opts.TargetRecall != 0.95 || opts.CVFolds != 5 || opts.SamplingRate != 100 {
		t.Errorf("TrainOptions() = %+v", opts)
	}
	if cfg.GetIdleTimeout() != 2*time.Minute {
		t.Errorf("GetIdleTimeout() = %v, want 2m", cfg.GetIdleTimeout())
	}
}

func TestLoadPipelineConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("wrong extension", func(t *testing.T) {
		path := filepath.Join(dir, "pipeline.toml")
		if err := os.WriteFile(path, []byte("x=1"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadPipelineConfig(path); err == nil {
			t.Error("expected error for .toml file")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadPipelineConfig(filepath.Join(dir, "nope.json")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadPipelineConfig(path); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("too large", func(t *testing.T) {
		path := filepath.Join(dir, "big.json")
		big := make([]byte, maxFileSize+1)
		for i := range big {
			big[i] = ' '
		}
		if err := os.WriteFile(path, big, 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadPipelineConfig(path); err == nil {
			t.Error("expected size error")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *PipelineConfig
		wantErr bool
	}{
		{"empty", EmptyPipelineConfig(), false},
		{"zero window", &PipelineConfig{WindowSize: ptrInt(0)}, true},
		{"negative rate", &PipelineConfig{SamplingRate: ptrFloat64(-1)}, true},
		{"test size one", &PipelineConfig{TestSize: ptrFloat64(1)}, true},
		{"recall zero", &PipelineConfig{TargetRecall: ptrFloat64(0)}, true},
		{"recall one", &PipelineConfig{TargetRecall: ptrFloat64(1)}, false},
		{"one fold", &PipelineConfig{CVFolds: ptrInt(1)}, true},
		{"bad duration", &PipelineConfig{IdleTimeout: ptrString("soon")}, true},
		{"bad booster", &PipelineConfig{MaxDepth: ptrInt(0)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
