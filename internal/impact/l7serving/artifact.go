// Package l7serving owns Layer 7 (Serving) of the impact pipeline: the
// frozen model artifact, the hot-swappable model handle, per-window
// classification and the per-vehicle streaming arena.
//
// Dependency rule: L7 may depend on L1-L6. Nothing in the pipeline depends
// on L7.
package l7serving

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/impact.report/internal/fsutil"
	"github.com/banshee-data/impact.report/internal/impact/l2windows"
	"github.com/banshee-data/impact.report/internal/impact/l3features"
	"github.com/banshee-data/impact.report/internal/impact/l5model"
	"github.com/banshee-data/impact.report/internal/impact/l6eval"
	"github.com/banshee-data/impact.report/internal/version"
)

// SchemaVersion is bumped whenever the artifact layout changes.
const SchemaVersion = 1

// TrainingMetadata describes the data a model was trained on.
type TrainingMetadata struct {
	DataPath        string         `json:"data_path,omitempty"`
	Samples         int            `json:"samples"`
	Vehicles        int            `json:"vehicles"`
	SkippedVehicles []string       `json:"skipped_vehicles,omitempty"`
	Windows         int            `json:"windows"`
	Positives       int            `json:"positives"`
	TrainWindows    int            `json:"train_windows"`
	TestWindows     int            `json:"test_windows"`
	Params          l5model.Params `json:"params"`
	DurationMS      int64          `json:"duration_ms"`
}

// Artifact is the frozen output of one training run: scaler, booster,
// feature order, thresholds and the windowing it expects. An Artifact is
// never modified after NewArtifact or LoadArtifact returns it.
type Artifact struct {
	SchemaVersion int       `json:"schema_version"`
	ModelVersion  string    `json:"model_version"`
	CreatedAt     time.Time `json:"created_at"`
	BuildVersion  string    `json:"build_version"`
	BuildGitSHA   string    `json:"build_git_sha"`

	Pipeline              *l5model.Pipeline `json:"pipeline"`
	BalancedThreshold     float64           `json:"balanced_threshold"`
	RecallTargetThreshold float64           `json:"recall_target_threshold"`
	TargetRecall          float64           `json:"target_recall"`

	SamplingRate float64 `json:"sampling_rate"`
	WindowSize   int     `json:"window_size"`
	StepSize     int     `json:"step_size"`

	Training TrainingMetadata `json:"training"`
}

// NewArtifact freezes a fitted pipeline with the thresholds from report.
func NewArtifact(pipe *l5model.Pipeline, report *l6eval.Report, seg l2windows.Config, samplingRate float64, meta TrainingMetadata) (*Artifact, error) {
	a := &Artifact{
		SchemaVersion:         SchemaVersion,
		ModelVersion:          uuid.NewString(),
		CreatedAt:             time.Now().UTC(),
		BuildVersion:          version.Version,
		BuildGitSHA:           version.GitSHA,
		Pipeline:              pipe,
		BalancedThreshold:     report.BalancedThreshold(),
		RecallTargetThreshold: report.RecallTargetThreshold(),
		TargetRecall:          report.TargetRecall,
		SamplingRate:          samplingRate,
		WindowSize:            seg.WindowSize,
		StepSize:              seg.StepSize,
		Training:              meta,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Segmenter returns the windowing the model was trained with.
func (a *Artifact) Segmenter() l2windows.Config {
	return l2windows.Config{WindowSize: a.WindowSize, StepSize: a.StepSize}
}

// Features returns the extraction parameters the model was trained with.
func (a *Artifact) Features() l3features.Config {
	return l3features.Config{SamplingRate: a.SamplingRate, WindowSize: a.WindowSize}
}

// Validate checks that the artifact can be served by this build.
func (a *Artifact) Validate() error {
	if a.SchemaVersion != SchemaVersion {
		return fmt.Errorf("artifact: schema version %d, this build reads %d", a.SchemaVersion, SchemaVersion)
	}
	if _, err := uuid.Parse(a.ModelVersion); err != nil {
		return fmt.Errorf("artifact: model version %q: %w", a.ModelVersion, err)
	}
	if a.Pipeline == nil {
		return fmt.Errorf("artifact: missing pipeline")
	}
	if err := a.Pipeline.Validate(); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	if !slices.Equal(a.Pipeline.FeatureColumns, l3features.Names()) {
		return fmt.Errorf("artifact: feature columns do not match this build's extractor")
	}
	for name, t := range map[string]float64{
		"balanced_threshold":      a.BalancedThreshold,
		"recall_target_threshold": a.RecallTargetThreshold,
	} {
		if !(t >= 0 && t <= 1) {
			return fmt.Errorf("artifact: %s %v outside [0,1]", name, t)
		}
	}
	if err := a.Segmenter().Validate(); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	if err := a.Features().Validate(); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	return nil
}

// SaveArtifact writes a as indented JSON, creating parent directories. The
// file is replaced atomically so a concurrent Reload never sees half of it.
func SaveArtifact(fsys fsutil.FileSystem, path string, a *Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := fsutil.WriteFileAtomic(fsys, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	return nil
}

// LoadArtifact reads and validates an artifact written by SaveArtifact.
func LoadArtifact(fsys fsutil.FileSystem, path string) (*Artifact, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", path, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
