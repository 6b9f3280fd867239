package l2windows

import (
	"iter"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
	"github.com/banshee-data/impact.report/internal/monitoring"
)

// Config holds segmentation parameters.
type Config struct {
	WindowSize int
	StepSize   int
}

// DefaultConfig is 2 s windows at 50 Hz with 50% overlap.
func DefaultConfig() Config {
	return Config{WindowSize: 100, StepSize: 50}
}

// Validate requires WindowSize > 0 and 0 < StepSize <= WindowSize.
func (c Config) Validate() error {
	if c.WindowSize <= 0 {
		return l1samples.NewConfigError("window_size", "must be positive, got %d", c.WindowSize)
	}
	if c.StepSize <= 0 || c.StepSize > c.WindowSize {
		return l1samples.NewConfigError("step_size", "must be in (0, %d], got %d", c.WindowSize, c.StepSize)
	}
	return nil
}

// Count returns the number of windows a stream of n samples yields.
func (c Config) Count(n int) int {
	if n < c.WindowSize || c.StepSize <= 0 {
		return 0
	}
	return (n-c.WindowSize)/c.StepSize + 1
}

// Segmenter slices sample streams into fixed windows.
type Segmenter struct {
	cfg Config
}

// NewSegmenter validates cfg and returns a Segmenter.
func NewSegmenter(cfg Config) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{cfg: cfg}, nil
}

// Config returns the segmentation parameters.
func (s *Segmenter) Config() Config { return s.cfg }

// Segment lazily yields windows over samples, which must already be ordered
// by vehicle and timestamp. Segmentation restarts at every vehicle change and
// a trailing partial window is dropped. The sequence can be ranged over any
// number of times.
func (s *Segmenter) Segment(samples []l1samples.Sample) iter.Seq[Window] {
	return func(yield func(Window) bool) {
		for start := 0; start < len(samples); {
			end := start + 1
			for end < len(samples) && samples[end].VehicleID == samples[start].VehicleID {
				end++
			}
			if !s.segmentRun(samples[start:end], yield) {
				return
			}
			start = end
		}
	}
}

func (s *Segmenter) segmentRun(run []l1samples.Sample, yield func(Window) bool) bool {
	ws, step := s.cfg.WindowSize, s.cfg.StepSize
	for i, off := 0, 0; off+ws <= len(run); i, off = i+1, off+step {
		chunk := run[off : off+ws : off+ws]
		w := Window{
			VehicleID:   chunk[0].VehicleID,
			Index:       i,
			StartOffset: off,
			StartTS:     chunk[0].Timestamp,
			EndTS:       chunk[ws-1].Timestamp,
			Samples:     chunk,
		}
		if !yield(w) {
			return false
		}
	}
	return true
}

// SegmentVehicles segments each vehicle stream. A vehicle too short for one
// window is logged and reported in skipped; it never fails the batch.
func (s *Segmenter) SegmentVehicles(groups []l1samples.VehicleSamples) (windows []Window, skipped []*DataInsufficientError) {
	for _, g := range groups {
		if len(g.Samples) < s.cfg.WindowSize {
			e := &DataInsufficientError{VehicleID: g.VehicleID, Have: len(g.Samples), Need: s.cfg.WindowSize}
			monitoring.Logf("segmenter: skipping %v", e)
			skipped = append(skipped, e)
			continue
		}
		for w := range s.Segment(g.Samples) {
			windows = append(windows, w)
		}
	}
	return windows, skipped
}
