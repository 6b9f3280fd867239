package serialmux

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"sync"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
	"github.com/banshee-data/impact.report/internal/monitoring"
)

// SamplePusher accepts parsed readings. *l7serving.Arena satisfies it.
type SamplePusher interface {
	Push(ctx context.Context, s l1samples.Sample) error
}

// DeviceState holds the latest config values reported by the device.
type DeviceState struct {
	mu     sync.Mutex
	values map[string]any
}

// Update merges a JSON config response into the state.
func (d *DeviceState) Update(payload string) error {
	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %v", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.values == nil {
		d.values = make(map[string]any)
	}
	maps.Copy(d.values, values)
	return nil
}

// Snapshot returns a copy of the current state.
func (d *DeviceState) Snapshot() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.values)
}

func (d *DeviceState) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	state := d.Snapshot()
	if state == nil {
		state = map[string]any{}
	}
	_ = json.NewEncoder(w).Encode(state)
}

// IngestStats counts what Ingest did with each line.
type IngestStats struct {
	Samples  int
	Rejected int
	Config   int
	Ignored  int
}

// Ingest subscribes to mux and pushes every sample line into dst until ctx
// is cancelled or the subscription closes. Lines from a sensor that omits
// the vehicle column are attributed to defaultVehicle. Config responses
// update state when it is non-nil.
func Ingest(ctx context.Context, mux SerialMuxInterface, dst SamplePusher, defaultVehicle string, state *DeviceState) (IngestStats, error) {
	var stats IngestStats
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return stats, nil
			}
			if err := HandleEvent(ctx, dst, line, defaultVehicle, state, &stats); err != nil {
				return stats, err
			}
		}
	}
}

// HandleEvent routes one line. Only a failed push is returned as an error;
// malformed lines are counted and dropped.
func HandleEvent(ctx context.Context, dst SamplePusher, line, defaultVehicle string, state *DeviceState, stats *IngestStats) error {
	switch ClassifyPayload(line) {
	case EventTypeSample:
		s, err := ParseSampleLine(line, defaultVehicle)
		if err != nil {
			stats.Rejected++
			monitoring.ObserveRejectedSample("parse_error")
			monitoring.Logf("serial: dropping line %q: %v", line, err)
			return nil
		}
		if err := dst.Push(ctx, s); err != nil {
			return fmt.Errorf("failed to push sample for %s: %w", s.VehicleID, err)
		}
		stats.Samples++
	case EventTypeConfig:
		stats.Config++
		if state == nil {
			return nil
		}
		if err := state.Update(line); err != nil {
			monitoring.Logf("serial: bad config response %q: %v", line, err)
		}
	default:
		stats.Ignored++
	}
	return nil
}
