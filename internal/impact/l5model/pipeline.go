package l5model

import (
	"fmt"
	"sort"
)

// Pipeline is the fitted scaler and booster plus the feature column order
// both were fitted on.
type Pipeline struct {
	FeatureColumns []string        `json:"feature_columns"`
	Scaler         *StandardScaler `json:"scaler"`
	Booster        *Booster        `json:"booster"`
}

// Validate checks that the parts agree on the column count.
func (p *Pipeline) Validate() error {
	if p.Scaler == nil || p.Booster == nil {
		return fmt.Errorf("pipeline: scaler and booster are required")
	}
	n := len(p.FeatureColumns)
	if p.Scaler.NumFeatures() != n || len(p.Scaler.Scale) != n || p.Booster.NumFeatures != n {
		return fmt.Errorf("pipeline: %d feature columns, scaler has %d, booster has %d",
			n, p.Scaler.NumFeatures(), p.Booster.NumFeatures)
	}
	for i, t := range p.Booster.Trees {
		for j, node := range t.Nodes {
			if node.Leaf {
				continue
			}
			if node.Feature < 0 || node.Feature >= n || node.Left <= j || node.Right <= j ||
				node.Left >= len(t.Nodes) || node.Right >= len(t.Nodes) {
				return fmt.Errorf("pipeline: tree %d node %d is malformed", i, j)
			}
		}
		if len(t.Nodes) == 0 {
			return fmt.Errorf("pipeline: tree %d is empty", i)
		}
	}
	return nil
}

// PredictProba scales row and returns the accident probability. row must
// follow FeatureColumns.
func (p *Pipeline) PredictProba(row []float64) (float64, error) {
	if len(row) != len(p.FeatureColumns) {
		return 0, fmt.Errorf("pipeline: row has %d values, want %d", len(row), len(p.FeatureColumns))
	}
	scaled := p.Scaler.Transform(row)
	return p.Booster.PredictProba(scaled), nil
}

// PredictProbaAll scores every row.
func (p *Pipeline) PredictProbaAll(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, r := range rows {
		v, err := p.PredictProba(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// FeatureImportance is one column's share of total split gain.
type FeatureImportance struct {
	Feature string  `json:"feature"`
	Gain    float64 `json:"gain"`
}

// TopFeatures returns up to n columns by descending gain share.
func (p *Pipeline) TopFeatures(n int) []FeatureImportance {
	total := 0.0
	for _, g := range p.Booster.Gain {
		total += g
	}
	out := make([]FeatureImportance, 0, len(p.Booster.Gain))
	for i, g := range p.Booster.Gain {
		if g <= 0 || i >= len(p.FeatureColumns) {
			continue
		}
		out = append(out, FeatureImportance{Feature: p.FeatureColumns[i], Gain: g / total})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Gain > out[j].Gain })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
