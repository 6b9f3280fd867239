package serialmux

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
)

const (
	EventTypeSample  = "sample"
	EventTypeConfig  = "config"
	EventTypeComment = "comment"
	EventTypeUnknown = "unknown"
)

// ErrNotSample is returned by ParseSampleLine for lines that are not readings.
var ErrNotSample = errors.New("line is not a sample")

// ClassifyPayload inspects a line from the device and returns a simple event
// type token.
func ClassifyPayload(payload string) string {
	p := strings.TrimSpace(payload)
	switch {
	case p == "":
		return EventTypeUnknown
	case strings.HasPrefix(p, "{"):
		return EventTypeConfig
	case strings.HasPrefix(p, "#"):
		return EventTypeComment
	case strings.Count(p, ",") == 3 || strings.Count(p, ",") == 4:
		return EventTypeSample
	}
	return EventTypeUnknown
}

// ParseSampleLine parses "vehicle_id,timestamp,accel_x,accel_y,accel_z".
// The vehicle column may be omitted, in which case defaultVehicle is used.
// Timestamps are seconds, either numeric or a datetime string.
func ParseSampleLine(line, defaultVehicle string) (l1samples.Sample, error) {
	if ClassifyPayload(line) != EventTypeSample {
		return l1samples.Sample{}, ErrNotSample
	}
	fields := strings.Split(strings.TrimSpace(line), ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	s := l1samples.Sample{VehicleID: defaultVehicle}
	if len(fields) == 5 {
		if fields[0] != "" {
			s.VehicleID = fields[0]
		}
		fields = fields[1:]
	}
	if s.VehicleID == "" {
		s.VehicleID = l1samples.DefaultVehicleID
	}

	ts, ok := l1samples.ParseTimestamp(fields[0])
	if !ok {
		return l1samples.Sample{}, fmt.Errorf("invalid timestamp %q", fields[0])
	}
	s.Timestamp = ts

	axes := [3]*float64{&s.AccelX, &s.AccelY, &s.AccelZ}
	for i, dst := range axes {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return l1samples.Sample{}, fmt.Errorf("invalid acceleration %q", fields[i+1])
		}
		*dst = v
	}
	return s, nil
}
