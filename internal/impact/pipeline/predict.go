package pipeline

import (
	"context"
	"encoding/csv"
	"io"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
	"github.com/banshee-data/impact.report/internal/impact/l2windows"
	"github.com/banshee-data/impact.report/internal/impact/l4labels"
	"github.com/banshee-data/impact.report/internal/impact/l7serving"
)

// Prediction is a classified window with its ground-truth label when the
// input carried one.
type Prediction struct {
	l7serving.Result
	Label int `json:"label"`
}

// Predict windows samples the way m was trained and classifies every
// window. Results follow vehicle then window order.
func Predict(ctx context.Context, m *l7serving.Model, samples []l1samples.Sample, p l7serving.Policy) ([]Prediction, []*l2windows.DataInsufficientError, error) {
	seg, err := l2windows.NewSegmenter(m.Artifact().Segmenter())
	if err != nil {
		return nil, nil, err
	}
	windows, skipped := seg.SegmentVehicles(l1samples.GroupByVehicle(samples))

	out := make([]Prediction, len(windows))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, w := range windows {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := m.Classify(w, p)
			if err != nil {
				return err
			}
			out[i] = Prediction{Result: res, Label: l4labels.Aggregate(w).Label}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, skipped, err
	}
	return out, skipped, nil
}

var predictionColumns = []string{
	"vehicle_id", "window_index", "start_ts", "end_ts",
	"probability", "is_accident", "threshold", "label", "model_version",
}

// WritePredictionsCSV writes one row per prediction.
func WritePredictionsCSV(w io.Writer, preds []Prediction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(predictionColumns); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, p := range preds {
		rec := []string{
			p.VehicleID, strconv.Itoa(p.WindowIndex), f(p.StartTS), f(p.EndTS),
			f(p.Probability), strconv.FormatBool(p.IsAccident), f(p.Threshold),
			strconv.Itoa(p.Label), p.ModelVersion,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
