package l3features

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
	"github.com/banshee-data/impact.report/internal/impact/l2windows"
)

// Config holds extraction parameters.
type Config struct {
	SamplingRate float64 // Hz
	WindowSize   int
}

// Validate rejects non-positive sampling rates and window sizes.
func (c Config) Validate() error {
	if !(c.SamplingRate > 0) {
		return l1samples.NewConfigError("sampling_rate", "must be positive, got %v", c.SamplingRate)
	}
	if c.WindowSize <= 0 {
		return l1samples.NewConfigError("window_size", "must be positive, got %d", c.WindowSize)
	}
	return nil
}

// Metadata summarises a window alongside its features. None of it is a
// model input.
type Metadata struct {
	VehicleID        string  `json:"vehicle_id"`
	WindowIndex      int     `json:"window_index"`
	StartTS          float64 `json:"window_start_ts"`
	EndTS            float64 `json:"window_end_ts"`
	SamplesInWindow  int     `json:"samples_in_window"`
	PositiveFraction float64 `json:"positive_ratio"`
	SeverityMax      float64 `json:"severity_max"`
	SeverityMean     float64 `json:"severity_mean"`
	HasSeverity      bool    `json:"has_severity"`
	EventIDLast      string  `json:"event_id_last,omitempty"`
	EventIDMode      string  `json:"event_id_mode,omitempty"`
}

// Vector is one window's features in Names() order.
type Vector struct {
	Values []float64
	Meta   Metadata
}

// Extractor computes feature vectors. It is not safe for concurrent use.
type Extractor struct {
	cfg      Config
	spectrum *spectrum
	channels [4][]float64
	scratch  []float64
}

// NewExtractor validates cfg and allocates the FFT plan and scratch space.
func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Extractor{
		cfg:      cfg,
		spectrum: newSpectrum(cfg.WindowSize, cfg.SamplingRate),
		scratch:  make([]float64, cfg.WindowSize),
	}
	for i := range e.channels {
		e.channels[i] = make([]float64, cfg.WindowSize)
	}
	return e, nil
}

// Config returns the extraction parameters.
func (e *Extractor) Config() Config { return e.cfg }

// Extract computes the feature vector for w. The only error is a
// MalformedWindowError when w does not hold exactly WindowSize samples.
func (e *Extractor) Extract(w l2windows.Window) (Vector, error) {
	if w.Len() != e.cfg.WindowSize {
		return Vector{}, &l2windows.MalformedWindowError{
			VehicleID: w.VehicleID,
			Reason:    "feature extraction needs exactly window_size samples",
		}
	}

	x, y, z, m := e.channels[0], e.channels[1], e.channels[2], e.channels[3]
	for i, s := range w.Samples {
		x[i], y[i], z[i] = s.AccelX, s.AccelY, s.AccelZ
		m[i] = s.Magnitude()
	}

	values := make([]float64, NumFeatures())
	stride := len(channelStats)
	var flat [4]bool
	for c, sig := range e.channels {
		dst := values[c*stride : (c+1)*stride]
		mean, std := timeDomain(dst[0:9], sig)
		flat[c] = isFlat(mean, std)
		jerkStats(dst[9:12], sig, e.scratch, e.cfg.SamplingRate)
		if !flat[c] {
			e.spectrum.summarise(dst[12:16], sig)
		}
	}

	corr := values[len(Channels)*stride:]
	corr[0] = correlation(x, y, flat[0], flat[1])
	corr[1] = correlation(x, z, flat[0], flat[2])
	corr[2] = correlation(y, z, flat[1], flat[2])

	for i, v := range values {
		values[i] = sanitize(v)
	}
	return Vector{Values: values, Meta: summarise(w)}, nil
}

func summarise(w l2windows.Window) Metadata {
	meta := Metadata{
		VehicleID:       w.VehicleID,
		WindowIndex:     w.Index,
		StartTS:         w.StartTS,
		EndTS:           w.EndTS,
		SamplesInWindow: w.Len(),
	}
	if w.Len() == 0 {
		return meta
	}

	positives := 0
	severitySum, severityN := 0.0, 0
	counts := make(map[string]int)
	best := 0
	for _, s := range w.Samples {
		positives += s.Label
		if s.HasSeverity {
			if severityN == 0 || s.Severity > meta.SeverityMax {
				meta.SeverityMax = s.Severity
			}
			severitySum += s.Severity
			severityN++
		}
		if s.EventID != "" {
			meta.EventIDLast = s.EventID
			counts[s.EventID]++
			if counts[s.EventID] > best {
				best = counts[s.EventID]
				meta.EventIDMode = s.EventID
			}
		}
	}
	meta.PositiveFraction = float64(positives) / float64(w.Len())
	if severityN > 0 {
		meta.HasSeverity = true
		meta.SeverityMean = severitySum / float64(severityN)
	}
	return meta
}

// ExtractAll computes vectors for windows on up to workers goroutines, each
// with its own Extractor. Output order matches input order. workers <= 0
// uses GOMAXPROCS.
func ExtractAll(ctx context.Context, cfg Config, windows []l2windows.Window, workers int) ([]Vector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(windows) {
		workers = len(windows)
	}

	out := make([]Vector, len(windows))
	g, ctx := errgroup.WithContext(ctx)
	for wk := 0; wk < workers; wk++ {
		g.Go(func() error {
			ex, err := NewExtractor(cfg)
			if err != nil {
				return err
			}
			for i := wk; i < len(windows); i += workers {
				if err := ctx.Err(); err != nil {
					return err
				}
				v, err := ex.Extract(windows[i])
				if err != nil {
					return err
				}
				out[i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Matrix returns the feature values of vectors as rows.
func Matrix(vectors []Vector) [][]float64 {
	rows := make([][]float64, len(vectors))
	for i, v := range vectors {
		rows[i] = v.Values
	}
	return rows
}
