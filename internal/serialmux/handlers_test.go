package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
	"github.com/banshee-data/impact.report/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

type recordingPusher struct {
	mu      sync.Mutex
	samples []l1samples.Sample
	err     error
}

func (p *recordingPusher) Push(_ context.Context, s l1samples.Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.samples = append(p.samples, s)
	return nil
}

func (p *recordingPusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.samples)
}

func TestHandleEvent(t *testing.T) {
	dst := &recordingPusher{}
	state := &DeviceState{}
	var stats IngestStats
	ctx := context.Background()

	for _, line := range []string{
		"truck_1,0.00,0.1,0.2,9.8",
		"0.02,0.1,0.2,9.8",
		"truck_1,later,0.1,0.2,9.8",
		`{"odr": 50}`,
		`{"fmt": "csv", "odr": 100}`,
		"# boot",
		"OK",
	} {
		if err := HandleEvent(ctx, dst, line, "bus_9", state, &stats); err != nil {
			t.Fatalf("HandleEvent(%q) error = %v", line, err)
		}
	}

	want := IngestStats{Samples: 2, Rejected: 1, Config: 2, Ignored: 2}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if dst.samples[0].VehicleID != "truck_1" || dst.samples[1].VehicleID != "bus_9" {
		t.Errorf("vehicles = %q, %q", dst.samples[0].VehicleID, dst.samples[1].VehicleID)
	}
	snap := state.Snapshot()
	if snap["odr"] != float64(100) || snap["fmt"] != "csv" {
		t.Errorf("state = %v, want merged config", snap)
	}
}

func TestHandleEvent_PushError(t *testing.T) {
	dst := &recordingPusher{err: errors.New("arena closed")}
	var stats IngestStats
	err := HandleEvent(context.Background(), dst, "v,1,0,0,9.8", "", nil, &stats)
	if err == nil || !strings.Contains(err.Error(), "arena closed") {
		t.Errorf("HandleEvent() error = %v, want push failure", err)
	}
	if stats.Samples != 0 {
		t.Errorf("Samples = %d, want 0", stats.Samples)
	}
}

func TestDeviceState(t *testing.T) {
	state := &DeviceState{}
	if err := state.Update("not json"); err == nil {
		t.Error("Update() should reject non-JSON")
	}

	rec := httptest.NewRecorder()
	state.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := strings.TrimSpace(rec.Body.String()); got != "{}" {
		t.Errorf("empty state body = %q, want {}", got)
	}

	if err := state.Update(`{"odr": 50}`); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	snap := state.Snapshot()
	snap["odr"] = "mutated"
	if state.Snapshot()["odr"] != float64(50) {
		t.Error("Snapshot should return a copy")
	}

	rec = httptest.NewRecorder()
	state.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(rec.Body.String(), `"odr":50`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestIngest_FromMonitoredPort(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dst := &recordingPusher{}
	type result struct {
		stats IngestStats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := Ingest(ctx, mux, dst, "", nil)
		done <- result{stats, err}
	}()

	// wait for Ingest to subscribe
	deadline := time.Now().Add(2 * time.Second)
	for {
		mux.subscriberMu.Lock()
		n := len(mux.subscribers)
		mux.subscriberMu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Ingest never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	go mux.Monitor(ctx)

	var b strings.Builder
	for i := range 10 {
		b.WriteString(FormatSampleLine(l1samples.Sample{VehicleID: "v", Timestamp: float64(i) * 0.02, AccelZ: 9.8}))
	}
	port.AddReadData([]byte(b.String()))

	deadline = time.Now().Add(2 * time.Second)
	for dst.count() < 10 {
		if time.Now().After(deadline) {
			t.Fatalf("received %d samples, want 10", dst.count())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// closing the mux ends the subscription cleanly
	mux.Close()
	select {
	case r := <-done:
		if r.err != nil {
			t.Errorf("Ingest() error = %v", r.err)
		}
		if r.stats.Samples != 10 {
			t.Errorf("Samples = %d, want 10", r.stats.Samples)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Ingest did not return after Close")
	}
}

func TestIngest_ContextCancelled(t *testing.T) {
	d := NewDisabledSerialMux()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Ingest(ctx, d, &recordingPusher{}, "", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Ingest() error = %v, want context.Canceled", err)
	}
}
