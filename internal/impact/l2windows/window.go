package l2windows

import (
	"fmt"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
)

// Window is a contiguous, time-ordered run of exactly WindowSize samples
// from one vehicle.
type Window struct {
	VehicleID   string
	Index       int // ordinal of the window within its vehicle stream
	StartOffset int // offset of the first sample within the vehicle stream
	StartTS     float64
	EndTS       float64
	Samples     []l1samples.Sample
}

// NewWindow wraps samples received from outside the segmenter, e.g. an
// inference request. The vehicle and time span come from the samples.
func NewWindow(samples []l1samples.Sample) Window {
	w := Window{Samples: samples}
	if len(samples) > 0 {
		w.VehicleID = samples[0].VehicleID
		w.StartTS = samples[0].Timestamp
		w.EndTS = samples[len(samples)-1].Timestamp
	}
	return w
}

// Len returns the number of samples in the window.
func (w Window) Len() int { return len(w.Samples) }

// Validate checks the window shape: exact length, a single vehicle and
// non-decreasing timestamps.
func (w Window) Validate(windowSize int) error {
	if len(w.Samples) != windowSize {
		return &MalformedWindowError{
			VehicleID: w.VehicleID,
			Reason:    fmt.Sprintf("expected %d samples, got %d", windowSize, len(w.Samples)),
		}
	}
	for i, s := range w.Samples {
		if s.VehicleID != w.VehicleID {
			return &MalformedWindowError{
				VehicleID: w.VehicleID,
				Reason:    fmt.Sprintf("sample %d belongs to vehicle %q", i, s.VehicleID),
			}
		}
		if i > 0 && s.Timestamp < w.Samples[i-1].Timestamp {
			return &MalformedWindowError{
				VehicleID: w.VehicleID,
				Reason:    fmt.Sprintf("sample %d is out of time order", i),
			}
		}
	}
	return nil
}
