package l2windows

import (
	"fmt"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
)

// StreamBuffer is the per-vehicle streaming state machine. It accepts one
// sample at a time and emits a window whenever a full window is available,
// honouring the step offset. A StreamBuffer has exactly one writer and is
// not safe for concurrent use.
type StreamBuffer struct {
	cfg       Config
	vehicleID string

	buf       []l1samples.Sample // samples from stream offset base onward
	base      int
	nextStart int
	index     int
	lastTS    float64
}

// NewStreamBuffer returns an empty buffer for one vehicle.
func NewStreamBuffer(vehicleID string, cfg Config) (*StreamBuffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StreamBuffer{
		cfg:       cfg,
		vehicleID: vehicleID,
		buf:       make([]l1samples.Sample, 0, cfg.WindowSize),
	}, nil
}

// VehicleID returns the vehicle this buffer belongs to.
func (b *StreamBuffer) VehicleID() string { return b.vehicleID }

// Pending returns the number of buffered samples.
func (b *StreamBuffer) Pending() int { return len(b.buf) }

// Push appends s. It returns the completed window, if any. Samples from
// another vehicle or older than the previous sample are rejected without
// changing the buffer.
func (b *StreamBuffer) Push(s l1samples.Sample) (Window, bool, error) {
	if s.VehicleID != b.vehicleID {
		return Window{}, false, &MalformedWindowError{
			VehicleID: b.vehicleID,
			Reason:    fmt.Sprintf("sample for vehicle %q pushed to this stream", s.VehicleID),
		}
	}
	if len(b.buf) > 0 && s.Timestamp < b.lastTS {
		return Window{}, false, &MalformedWindowError{
			VehicleID: b.vehicleID,
			Reason:    fmt.Sprintf("timestamp %v precedes %v", s.Timestamp, b.lastTS),
		}
	}
	b.buf = append(b.buf, s)
	b.lastTS = s.Timestamp

	ws := b.cfg.WindowSize
	if b.base+len(b.buf) < b.nextStart+ws {
		return Window{}, false, nil
	}

	from := b.nextStart - b.base
	samples := make([]l1samples.Sample, ws)
	copy(samples, b.buf[from:from+ws])
	w := Window{
		VehicleID:   b.vehicleID,
		Index:       b.index,
		StartOffset: b.nextStart,
		StartTS:     samples[0].Timestamp,
		EndTS:       samples[ws-1].Timestamp,
		Samples:     samples,
	}
	b.index++
	b.nextStart += b.cfg.StepSize

	drop := b.nextStart - b.base
	n := copy(b.buf, b.buf[drop:])
	b.buf = b.buf[:n]
	b.base = b.nextStart
	return w, true, nil
}

// Discard drops any partial window, as on disconnect or idle timeout.
// Window numbering continues so downstream consumers can detect the gap.
func (b *StreamBuffer) Discard() int {
	n := len(b.buf)
	b.buf = b.buf[:0]
	b.base = 0
	b.nextStart = 0
	b.lastTS = 0
	return n
}
