package l5model

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler centres each column on its training mean and divides by
// its population standard deviation. Zero-variance columns keep scale 1.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler learns column statistics from rows. All rows must have the same
// length.
func FitScaler(rows [][]float64) (*StandardScaler, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("scaler: no rows to fit")
	}
	nf := len(rows[0])
	col := make([]float64, len(rows))
	s := &StandardScaler{Mean: make([]float64, nf), Scale: make([]float64, nf)}
	for j := 0; j < nf; j++ {
		for i, r := range rows {
			if len(r) != nf {
				return nil, fmt.Errorf("scaler: row %d has %d columns, want %d", i, len(r), nf)
			}
			col[i] = r[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		s.Mean[j] = mean
		s.Scale[j] = 1
		if std > 0 {
			s.Scale[j] = std
		}
	}
	return s, nil
}

// NumFeatures returns the fitted column count.
func (s *StandardScaler) NumFeatures() int { return len(s.Mean) }

// Transform returns a scaled copy of row.
func (s *StandardScaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	s.TransformInto(out, row)
	return out
}

// TransformInto writes the scaled row into dst, which must be at least as
// long as row.
func (s *StandardScaler) TransformInto(dst, row []float64) {
	for j, v := range row {
		dst[j] = (v - s.Mean[j]) / s.Scale[j]
	}
}

// TransformAll scales every row.
func (s *StandardScaler) TransformAll(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = s.Transform(r)
	}
	return out
}
