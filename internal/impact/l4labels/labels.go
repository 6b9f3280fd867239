// Package l4labels owns Layer 4 (Labels) of the impact data model.
//
// A window is an accident if any of its samples is: the rule is a logical
// OR, never a majority vote, so a short impact is never diluted by the
// normal driving around it. Severity takes the window maximum.
//
// Dependency rule: L4 may depend on L1-L2.
package l4labels

import "github.com/banshee-data/impact.report/internal/impact/l2windows"

// WindowLabel is the supervised target and summary for one window.
type WindowLabel struct {
	Label            int     `json:"label"`
	SeverityMax      float64 `json:"severity_max"`
	HasSeverity      bool    `json:"has_severity"`
	VehicleID        string  `json:"vehicle_id"`
	EventID          string  `json:"event_id,omitempty"`
	PositiveFraction float64 `json:"positive_fraction"`
}

// Aggregate derives the window label. Vehicle id is the most frequent value
// (first seen wins ties) and event id is the last non-empty value.
func Aggregate(w l2windows.Window) WindowLabel {
	out := WindowLabel{VehicleID: w.VehicleID}
	if len(w.Samples) == 0 {
		return out
	}

	positives := 0
	vehicles := make(map[string]int, 1)
	best := 0
	for _, s := range w.Samples {
		if s.Label != 0 {
			out.Label = 1
			positives++
		}
		if s.HasSeverity && (!out.HasSeverity || s.Severity > out.SeverityMax) {
			out.SeverityMax = s.Severity
			out.HasSeverity = true
		}
		if s.EventID != "" {
			out.EventID = s.EventID
		}
		vehicles[s.VehicleID]++
		if vehicles[s.VehicleID] > best {
			best = vehicles[s.VehicleID]
			out.VehicleID = s.VehicleID
		}
	}
	out.PositiveFraction = float64(positives) / float64(len(w.Samples))
	return out
}

// AggregateAll labels every window and returns the binary targets in the
// same order.
func AggregateAll(windows []l2windows.Window) ([]WindowLabel, []int) {
	labels := make([]WindowLabel, len(windows))
	y := make([]int, len(windows))
	for i, w := range windows {
		labels[i] = Aggregate(w)
		y[i] = labels[i].Label
	}
	return labels, y
}

// Counts returns the number of negative and positive targets.
func Counts(y []int) (negatives, positives int) {
	for _, v := range y {
		if v != 0 {
			positives++
		} else {
			negatives++
		}
	}
	return negatives, positives
}
