package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
	"github.com/banshee-data/impact.report/internal/impact/l2windows"
	"github.com/banshee-data/impact.report/internal/impact/l5model"
	"github.com/banshee-data/impact.report/internal/impact/l6eval"
	"github.com/banshee-data/impact.report/internal/impact/pipeline"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// PipelineConfig holds every tunable of a training run and the serving
// path. Fields are pointers so a partial file only overrides what it sets;
// the Get* methods supply defaults for the rest. The same schema is
// accepted as JSON or YAML.
type PipelineConfig struct {
	// Input schema
	SamplingRate *float64 `json:"sampling_rate,omitempty" yaml:"sampling_rate,omitempty"`
	LabelCol     *string  `json:"label_col,omitempty" yaml:"label_col,omitempty"`
	TimestampCol *string  `json:"timestamp_col,omitempty" yaml:"timestamp_col,omitempty"`
	VehicleIDCol *string  `json:"vehicle_id_col,omitempty" yaml:"vehicle_id_col,omitempty"`
	EventIDCol   *string  `json:"event_id_col,omitempty" yaml:"event_id_col,omitempty"`
	SeverityCol  *string  `json:"severity_col,omitempty" yaml:"severity_col,omitempty"`

	// Segmentation
	WindowSize *int `json:"window_size,omitempty" yaml:"window_size,omitempty"`
	StepSize   *int `json:"step_size,omitempty" yaml:"step_size,omitempty"`

	// Training and evaluation
	TestSize     *float64 `json:"test_size,omitempty" yaml:"test_size,omitempty"`
	SplitSeed    *uint64  `json:"split_seed,omitempty" yaml:"split_seed,omitempty"`
	TargetRecall *float64 `json:"target_recall,omitempty" yaml:"target_recall,omitempty"`
	CVFolds      *int     `json:"cv_folds,omitempty" yaml:"cv_folds,omitempty"`
	TopFeatures  *int     `json:"top_features,omitempty" yaml:"top_features,omitempty"`

	// Booster hyperparameters
	NEstimators     *int     `json:"n_estimators,omitempty" yaml:"n_estimators,omitempty"`
	LearningRate    *float64 `json:"learning_rate,omitempty" yaml:"learning_rate,omitempty"`
	MaxDepth        *int     `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`
	MinChildWeight  *float64 `json:"min_child_weight,omitempty" yaml:"min_child_weight,omitempty"`
	Subsample       *float64 `json:"subsample,omitempty" yaml:"subsample,omitempty"`
	ColsampleByTree *float64 `json:"colsample_bytree,omitempty" yaml:"colsample_bytree,omitempty"`
	Gamma           *float64 `json:"gamma,omitempty" yaml:"gamma,omitempty"`
	RegLambda       *float64 `json:"reg_lambda,omitempty" yaml:"reg_lambda,omitempty"`
	RegAlpha        *float64 `json:"reg_alpha,omitempty" yaml:"reg_alpha,omitempty"`
	MaxBins         *int     `json:"max_bins,omitempty" yaml:"max_bins,omitempty"`
	Seed            *uint64  `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Serving
	ThresholdPolicy *string `json:"threshold_policy,omitempty" yaml:"threshold_policy,omitempty"` // balanced, recall or a number
	IdleTimeout     *string `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`         // duration string like "30s"
	InboxSize       *int    `json:"inbox_size,omitempty" yaml:"inbox_size,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig loads a PipelineConfig from a .json, .yaml or .yml
// file no larger than 1MB. Omitted fields keep their defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/impact/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set. Range checks for the model
// itself are repeated by the layer packages.
func (c *PipelineConfig) Validate() error {
	if c.SamplingRate != nil && !(*c.SamplingRate > 0) {
		return fmt.Errorf("sampling_rate must be positive, got %v", *c.SamplingRate)
	}
	if c.WindowSize != nil && *c.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive, got %d", *c.WindowSize)
	}
	if c.StepSize != nil && *c.StepSize <= 0 {
		return fmt.Errorf("step_size must be positive, got %d", *c.StepSize)
	}
	if c.TestSize != nil && !(*c.TestSize > 0 && *c.TestSize < 1) {
		return fmt.Errorf("test_size must be between 0 and 1, got %v", *c.TestSize)
	}
	if c.TargetRecall != nil && !(*c.TargetRecall > 0 && *c.TargetRecall <= 1) {
		return fmt.Errorf("target_recall must be in (0,1], got %v", *c.TargetRecall)
	}
	if c.CVFolds != nil && (*c.CVFolds < 0 || *c.CVFolds == 1) {
		return fmt.Errorf("cv_folds must be 0 or at least 2, got %d", *c.CVFolds)
	}
	if c.IdleTimeout != nil && *c.IdleTimeout != "" {
		if _, err := time.ParseDuration(*c.IdleTimeout); err != nil {
			return fmt.Errorf("invalid idle_timeout '%s': %w", *c.IdleTimeout, err)
		}
	}
	if err := c.Params().Validate(); err != nil {
		return err
	}
	return nil
}

// GetSamplingRate returns the sampling rate in Hz or the default.
func (c *PipelineConfig) GetSamplingRate() float64 {
	if c.SamplingRate == nil {
		return 50
	}
	return *c.SamplingRate
}

// GetWindowSize returns the window length in samples or the default.
func (c *PipelineConfig) GetWindowSize() int {
	if c.WindowSize == nil {
		return 100
	}
	return *c.WindowSize
}

// GetStepSize returns the window step in samples or the default.
func (c *PipelineConfig) GetStepSize() int {
	if c.StepSize == nil {
		return 50
	}
	return *c.StepSize
}

// GetTestSize returns the hold-out fraction or the default.
func (c *PipelineConfig) GetTestSize() float64 {
	if c.TestSize == nil {
		return 0.2
	}
	return *c.TestSize
}

// GetTargetRecall returns the recall-target threshold goal or the default.
func (c *PipelineConfig) GetTargetRecall() float64 {
	if c.TargetRecall == nil {
		return l6eval.DefaultTargetRecall
	}
	return *c.TargetRecall
}

// GetCVFolds returns the fold count; 0 disables cross validation.
func (c *PipelineConfig) GetCVFolds() int {
	if c.CVFolds == nil {
		return 0
	}
	return *c.CVFolds
}

// GetTopFeatures returns how many features the report lists.
func (c *PipelineConfig) GetTopFeatures() int {
	if c.TopFeatures == nil {
		return 15
	}
	return *c.TopFeatures
}

// GetThresholdPolicy returns the serving threshold policy.
func (c *PipelineConfig) GetThresholdPolicy() string {
	if c.ThresholdPolicy == nil || *c.ThresholdPolicy == "" {
		return "balanced"
	}
	return *c.ThresholdPolicy
}

// GetIdleTimeout parses IdleTimeout, defaulting to 30s.
func (c *PipelineConfig) GetIdleTimeout() time.Duration {
	if c.IdleTimeout == nil || *c.IdleTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(*c.IdleTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetInboxSize returns the per-vehicle inbox capacity.
func (c *PipelineConfig) GetInboxSize() int {
	if c.InboxSize == nil {
		return 256
	}
	return *c.InboxSize
}

// Schema returns the input column mapping.
func (c *PipelineConfig) Schema() l1samples.Schema {
	s := l1samples.DefaultSchema()
	s.SamplingRate = c.GetSamplingRate()
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&s.Label, c.LabelCol)
	set(&s.Timestamp, c.TimestampCol)
	set(&s.VehicleID, c.VehicleIDCol)
	set(&s.EventID, c.EventIDCol)
	set(&s.Severity, c.SeverityCol)
	return s
}

// Segmenter returns the windowing parameters.
func (c *PipelineConfig) Segmenter() l2windows.Config {
	return l2windows.Config{WindowSize: c.GetWindowSize(), StepSize: c.GetStepSize()}
}

// Params returns booster hyperparameters with unset fields defaulted.
func (c *PipelineConfig) Params() l5model.Params {
	p := l5model.DefaultParams()
	if c.NEstimators != nil {
		p.NEstimators = *c.NEstimators
	}
	if c.LearningRate != nil {
		p.LearningRate = *c.LearningRate
	}
	if c.MaxDepth != nil {
		p.MaxDepth = *c.MaxDepth
	}
	if c.MinChildWeight != nil {
		p.MinChildWeight = *c.MinChildWeight
	}
	if c.Subsample != nil {
		p.Subsample = *c.Subsample
	}
	if c.ColsampleByTree != nil {
		p.ColsampleByTree = *c.ColsampleByTree
	}
	if c.Gamma != nil {
		p.Gamma = *c.Gamma
	}
	if c.RegLambda != nil {
		p.RegLambda = *c.RegLambda
	}
	if c.RegAlpha != nil {
		p.RegAlpha = *c.RegAlpha
	}
	if c.MaxBins != nil {
		p.MaxBins = *c.MaxBins
	}
	if c.Seed != nil {
		p.Seed = *c.Seed
	}
	return p
}

// TrainOptions assembles a training run from the config.
func (c *PipelineConfig) TrainOptions() pipeline.TrainOptions {
	opts := pipeline.DefaultTrainOptions()
	opts.SamplingRate = c.GetSamplingRate()
	opts.Segmenter = c.Segmenter()
	opts.Train.Params = c.Params()
	opts.Train.TestFraction = c.GetTestSize()
	if c.SplitSeed != nil {
		opts.Train.SplitSeed = *c.SplitSeed
	}
	opts.TargetRecall = c.GetTargetRecall()
	opts.CVFolds = c.GetCVFolds()
	opts.TopFeatures = c.GetTopFeatures()
	return opts
}
