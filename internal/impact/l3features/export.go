package l3features

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

var metaColumns = []string{
	"vehicle_id", "window_index", "window_start_ts", "window_end_ts",
	"samples_in_window", "positive_ratio", "severity_max", "severity_mean",
	"event_id_last", "event_id_mode",
}

// WriteCSV dumps vectors with their metadata for offline inspection. When
// labels is non-nil it must match vectors in length and is written as the
// final "label" column.
func WriteCSV(w io.Writer, vectors []Vector, labels []int) error {
	if labels != nil && len(labels) != len(vectors) {
		return fmt.Errorf("have %d labels for %d vectors", len(labels), len(vectors))
	}

	cw := csv.NewWriter(w)
	header := append(append([]string{}, metaColumns...), featureNames...)
	if labels != nil {
		header = append(header, "label")
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	rec := make([]string, 0, len(header))
	for i, v := range vectors {
		m := v.Meta
		rec = append(rec[:0],
			m.VehicleID, strconv.Itoa(m.WindowIndex), f(m.StartTS), f(m.EndTS),
			strconv.Itoa(m.SamplesInWindow), f(m.PositiveFraction), f(m.SeverityMax), f(m.SeverityMean),
			m.EventIDLast, m.EventIDMode,
		)
		for _, x := range v.Values {
			rec = append(rec, f(x))
		}
		if labels != nil {
			rec = append(rec, strconv.Itoa(labels[i]))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
