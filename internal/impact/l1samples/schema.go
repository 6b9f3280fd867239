package l1samples

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Schema names the input columns. Only the three axes and the label are
// required; the rest are looked up when present.
type Schema struct {
	AccelX    string
	AccelY    string
	AccelZ    string
	Label     string
	Timestamp string
	VehicleID string
	EventID   string
	Severity  string

	// SamplingRate (Hz) synthesises timestamps when the timestamp column is
	// absent: row index / SamplingRate.
	SamplingRate float64
}

// DefaultSchema returns the column names produced by the data collectors.
func DefaultSchema() Schema {
	return Schema{
		AccelX:       "accel_x",
		AccelY:       "accel_y",
		AccelZ:       "accel_z",
		Label:        "accident",
		Timestamp:    "timestamp",
		VehicleID:    "vehicle_id",
		EventID:      "event_id",
		Severity:     "event_severity",
		SamplingRate: 50,
	}
}

// Validate checks the schema itself, not the data.
func (s Schema) Validate() error {
	for field, col := range map[string]string{
		"accel_x":   s.AccelX,
		"accel_y":   s.AccelY,
		"accel_z":   s.AccelZ,
		"label_col": s.Label,
	} {
		if strings.TrimSpace(col) == "" {
			return NewConfigError(field, "column name must not be empty")
		}
	}
	if s.SamplingRate <= 0 || math.IsNaN(s.SamplingRate) || math.IsInf(s.SamplingRate, 0) {
		return NewConfigError("sampling_rate", "must be positive, got %v", s.SamplingRate)
	}
	return nil
}

// ParseLabel interprets a label cell. Numbers are positive when non-zero;
// booleans accept true/t/yes/y and false/f/no/n. An empty cell is negative.
func ParseLabel(raw string) (int, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "":
		return 0, true
	case "true", "t", "yes", "y":
		return 1, true
	case "false", "f", "no", "n":
		return 0, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	if f != 0 {
		return 1, true
	}
	return 0, true
}

var severityLevels = map[string]float64{
	"low":      0,
	"medium":   1,
	"high":     2,
	"critical": 3,
}

// ParseSeverity maps a severity cell to a number. Numeric values pass
// through; Low/Medium/High/Critical map to 0..3. Unknown or empty values
// report ok=false and the sample carries no severity.
func ParseSeverity(raw string) (float64, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return 0, false
	}
	if lvl, ok := severityLevels[v]; ok {
		return lvl, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts numeric seconds or a datetime string, returning
// seconds since the Unix epoch for the latter.
func ParseTimestamp(raw string) (float64, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return float64(t.UnixNano()) / 1e9, true
		}
	}
	return 0, false
}
