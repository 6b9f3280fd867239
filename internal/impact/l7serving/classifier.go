package l7serving

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/impact.report/internal/impact/l2windows"
	"github.com/banshee-data/impact.report/internal/impact/l3features"
	"github.com/banshee-data/impact.report/internal/monitoring"
)

// PolicyMode selects which artifact threshold turns a probability into a
// decision.
type PolicyMode string

const (
	PolicyBalanced PolicyMode = "balanced"
	PolicyRecall   PolicyMode = "recall"
	PolicyOverride PolicyMode = "override"
)

// Policy is the deploying system's risk choice.
type Policy struct {
	Mode     PolicyMode
	Override float64 // used when Mode is PolicyOverride
}

// ParsePolicy accepts "balanced", "recall" or a numeric cutoff in [0,1].
// The empty string means balanced.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PolicyBalanced):
		return Policy{Mode: PolicyBalanced}, nil
	case string(PolicyRecall):
		return Policy{Mode: PolicyRecall}, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || !(v >= 0 && v <= 1) {
		return Policy{}, fmt.Errorf("threshold policy %q: want balanced, recall or a number in [0,1]", s)
	}
	return Policy{Mode: PolicyOverride, Override: v}, nil
}

// String returns the form ParsePolicy accepts.
func (p Policy) String() string {
	if p.Mode == PolicyOverride {
		return strconv.FormatFloat(p.Override, 'g', -1, 64)
	}
	return string(p.Mode)
}

// Threshold resolves the cutoff against a.
func (p Policy) Threshold(a *Artifact) float64 {
	switch p.Mode {
	case PolicyRecall:
		return a.RecallTargetThreshold
	case PolicyOverride:
		return p.Override
	default:
		return a.BalancedThreshold
	}
}

// Result is one classified window.
type Result struct {
	VehicleID    string  `json:"vehicle_id"`
	WindowIndex  int     `json:"window_index"`
	StartTS      float64 `json:"start_ts"`
	EndTS        float64 `json:"end_ts"`
	Probability  float64 `json:"probability"`
	IsAccident   bool    `json:"is_accident"`
	Threshold    float64 `json:"threshold"`
	Policy       string  `json:"policy"`
	ModelVersion string  `json:"model_version"`
}

// Model is an artifact ready to score windows. It is safe for concurrent
// use; feature extractors are pooled per model so a reload never mixes
// extraction parameters.
type Model struct {
	artifact   *Artifact
	extractors sync.Pool
}

// NewModel validates a and prepares it for scoring.
func NewModel(a *Artifact) (*Model, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	cfg := a.Features()
	m := &Model{artifact: a}
	m.extractors.New = func() any {
		e, err := l3features.NewExtractor(cfg)
		if err != nil {
			// cfg was validated above
			panic(err)
		}
		return e
	}
	return m, nil
}

// Artifact returns the frozen artifact behind m.
func (m *Model) Artifact() *Artifact { return m.artifact }

// Version returns the artifact's model version.
func (m *Model) Version() string { return m.artifact.ModelVersion }

// Classify validates w against the window invariant, extracts its features
// and scores them with the frozen pipeline.
func (m *Model) Classify(w l2windows.Window, p Policy) (Result, error) {
	start := time.Now()
	if err := w.Validate(m.artifact.WindowSize); err != nil {
		return Result{}, err
	}

	e := m.extractors.Get().(*l3features.Extractor)
	vec, err := e.Extract(w)
	m.extractors.Put(e)
	if err != nil {
		return Result{}, err
	}

	prob, err := m.artifact.Pipeline.PredictProba(vec.Values)
	if err != nil {
		return Result{}, fmt.Errorf("classify %s: %w", w.VehicleID, err)
	}
	threshold := p.Threshold(m.artifact)
	res := Result{
		VehicleID:    w.VehicleID,
		WindowIndex:  w.Index,
		StartTS:      w.StartTS,
		EndTS:        w.EndTS,
		Probability:  prob,
		IsAccident:   prob >= threshold,
		Threshold:    threshold,
		Policy:       p.String(),
		ModelVersion: m.artifact.ModelVersion,
	}
	monitoring.ObserveClassification(time.Since(start), res.IsAccident)
	return res, nil
}
