package l7serving

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/impact.report/internal/fsutil"
	"github.com/banshee-data/impact.report/internal/impact/l1samples"
	"github.com/banshee-data/impact.report/internal/impact/l2windows"
	"github.com/banshee-data/impact.report/internal/impact/l3features"
	"github.com/banshee-data/impact.report/internal/impact/l4labels"
	"github.com/banshee-data/impact.report/internal/impact/l5model"
	"github.com/banshee-data/impact.report/internal/impact/l6eval"
	"github.com/banshee-data/impact.report/internal/monitoring"
	"github.com/banshee-data/impact.report/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

var (
	fixtureOnce     sync.Once
	fixtureArtifact *Artifact
	fixtureErr      error
)

// testArtifact fits a small model on synthetic data once per test binary.
func testArtifact(t *testing.T) *Artifact {
	t.Helper()
	fixtureOnce.Do(func() {
		gen := l1samples.DefaultGeneratorConfig()
		gen.Vehicles = 1
		gen.EventsPerVehicle = 40
		gen.AccidentRate = 0.3
		samples, err := l1samples.Generate(gen)
		if err != nil {
			fixtureErr = err
			return
		}
		segCfg := l2windows.DefaultConfig()
		seg, _ := l2windows.NewSegmenter(segCfg)
		windows, _ := seg.SegmentVehicles(l1samples.GroupByVehicle(samples))
		fcfg := l3features.Config{SamplingRate: 50, WindowSize: segCfg.WindowSize}
		vecs, err := l3features.ExtractAll(context.Background(), fcfg, windows, 2)
		if err != nil {
			fixtureErr = err
			return
		}
		_, y := l4labels.AggregateAll(windows)
		X := l3features.Matrix(vecs)

		cfg := l5model.DefaultTrainConfig(l3features.Names())
		cfg.Params.NEstimators = 15
		cfg.Params.LearningRate = 0.3
		cfg.Params.MaxDepth = 3
		pipe, params, err := l5model.Fit(context.Background(), X, y, cfg)
		if err != nil {
			fixtureErr = err
			return
		}
		scores, _ := pipe.PredictProbaAll(X)
		report, err := l6eval.Evaluate(y, scores, 0.9)
		if err != nil {
			fixtureErr = err
			return
		}
		fixtureArtifact, fixtureErr = NewArtifact(pipe, report, segCfg, 50, TrainingMetadata{Windows: len(y), Params: params})
	})
	require.NoError(t, fixtureErr)
	return fixtureArtifact
}

// stream returns n evenly spaced samples for one vehicle.
func stream(vehicleID string, n int, t0 float64) []l1samples.Sample {
	out := make([]l1samples.Sample, n)
	for i := range out {
		out[i] = l1samples.Sample{
			VehicleID: vehicleID,
			Timestamp: t0 + float64(i)/50,
			AccelX:    0.1 * float64(i%3),
			AccelZ:    9.81,
		}
	}
	return out
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want Policy
		err  bool
	}{
		{"", Policy{Mode: PolicyBalanced}, false},
		{"balanced", Policy{Mode: PolicyBalanced}, false},
		{"RECALL", Policy{Mode: PolicyRecall}, false},
		{"0.35", Policy{Mode: PolicyOverride, Override: 0.35}, false},
		{"1.5", Policy{}, true},
		{"sometimes", Policy{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	a := &Artifact{BalancedThreshold: 0.6, RecallTargetThreshold: 0.2}
	assert.Equal(t, 0.6, Policy{Mode: PolicyBalanced}.Threshold(a))
	assert.Equal(t, 0.2, Policy{Mode: PolicyRecall}.Threshold(a))
	assert.Equal(t, 0.4, Policy{Mode: PolicyOverride, Override: 0.4}.Threshold(a))
	assert.Equal(t, "0.4", Policy{Mode: PolicyOverride, Override: 0.4}.String())
}

func TestArtifact_SaveLoad(t *testing.T) {
	a := testArtifact(t)
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, SaveArtifact(fsys, "out/model.json", a))
	assert.True(t, fsys.Exists("out"))

	b, err := LoadArtifact(fsys, "out/model.json")
	require.NoError(t, err)
	assert.Equal(t, a.ModelVersion, b.ModelVersion)
	assert.Equal(t, a.BalancedThreshold, b.BalancedThreshold)
	assert.Equal(t, a.Pipeline.FeatureColumns, b.Pipeline.FeatureColumns)

	_, err = LoadArtifact(fsys, "missing.json")
	assert.Error(t, err)
}

func TestArtifact_ValidateRejects(t *testing.T) {
	base := testArtifact(t)
	mutations := map[string]func(*Artifact){
		"schema":    func(a *Artifact) { a.SchemaVersion = 99 },
		"version":   func(a *Artifact) { a.ModelVersion = "not-a-uuid" },
		"threshold": func(a *Artifact) { a.BalancedThreshold = 1.2 },
		"window":    func(a *Artifact) { a.StepSize = 0 },
		"rate":      func(a *Artifact) { a.SamplingRate = 0 },
		"pipeline":  func(a *Artifact) { a.Pipeline = nil },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			a := *base
			mutate(&a)
			assert.Error(t, a.Validate())
		})
	}

	data, err := json.Marshal(base)
	require.NoError(t, err)
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("bad.json", data[:len(data)/2], 0644))
	_, err = LoadArtifact(fsys, "bad.json")
	assert.Error(t, err)
}

func TestModel_Classify(t *testing.T) {
	m, err := NewModel(testArtifact(t))
	require.NoError(t, err)

	w := l2windows.NewWindow(stream("v1", 100, 10))
	res, err := m.Classify(w, Policy{Mode: PolicyOverride, Override: 0})
	require.NoError(t, err)
	assert.Equal(t, "v1", res.VehicleID)
	assert.Equal(t, 10.0, res.StartTS)
	assert.InDelta(t, 10+99.0/50, res.EndTS, 1e-12)
	assert.True(t, res.Probability >= 0 && res.Probability <= 1)
	assert.True(t, res.IsAccident, "cutoff 0 flags every window")
	assert.Equal(t, m.Version(), res.ModelVersion)

	res, err = m.Classify(w, Policy{Mode: PolicyOverride, Override: 1})
	require.NoError(t, err)
	assert.Equal(t, res.Probability >= 1, res.IsAccident)
}

func TestModel_ClassifyRejectsMalformed(t *testing.T) {
	m, err := NewModel(testArtifact(t))
	require.NoError(t, err)

	var mw *l2windows.MalformedWindowError
	_, err = m.Classify(l2windows.NewWindow(stream("v1", 99, 0)), Policy{})
	assert.True(t, errors.As(err, &mw))

	s := stream("v1", 100, 0)
	s[50].VehicleID = "v2"
	_, err = m.Classify(l2windows.NewWindow(s), Policy{})
	assert.True(t, errors.As(err, &mw))

	s = stream("v1", 100, 0)
	s[10], s[11] = s[11], s[10]
	_, err = m.Classify(l2windows.NewWindow(s), Policy{})
	assert.True(t, errors.As(err, &mw))
}

func TestHandle_ReloadAndSwap(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	h := NewHandle(fsys, "model.json")

	_, err := h.Current()
	assert.ErrorIs(t, err, ErrNoModel)
	_, err = h.Reload()
	assert.Error(t, err)

	a := testArtifact(t)
	require.NoError(t, SaveArtifact(fsys, "model.json", a))
	m1, err := h.Reload()
	require.NoError(t, err)
	cur, err := h.Current()
	require.NoError(t, err)
	assert.Same(t, m1, cur)

	// A broken file on disk keeps the live model.
	require.NoError(t, fsys.WriteFile("model.json", []byte("{"), 0644))
	_, err = h.Reload()
	assert.Error(t, err)
	cur, err = h.Current()
	require.NoError(t, err)
	assert.Same(t, m1, cur)

	m2, err := NewModel(a)
	require.NoError(t, err)
	assert.Same(t, m1, h.Swap(m2))
}

func TestHandle_ConcurrentReadersSeeWholeModels(t *testing.T) {
	a := testArtifact(t)
	h := NewHandle(fsutil.NewMemoryFileSystem(), "unused")
	m, err := NewModel(a)
	require.NoError(t, err)
	h.Swap(m)

	w := l2windows.NewWindow(stream("v1", 100, 0))
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				cur, err := h.Current()
				if !assert.NoError(t, err) {
					return
				}
				_, err = cur.Classify(w, Policy{})
				assert.NoError(t, err)
			}
		}()
	}
	for range 20 {
		next, err := NewModel(a)
		require.NoError(t, err)
		h.Swap(next)
	}
	wg.Wait()
}

type collector struct {
	mu      sync.Mutex
	results []Result
}

func (c *collector) sink(r Result) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

func (c *collector) byVehicle() map[string][]Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]Result)
	for _, r := range c.results {
		out[r.VehicleID] = append(out[r.VehicleID], r)
	}
	return out
}

func newTestArena(t *testing.T, clock timeutil.Clock) (*Arena, *collector) {
	t.Helper()
	m, err := NewModel(testArtifact(t))
	require.NoError(t, err)
	h := NewHandle(fsutil.NewMemoryFileSystem(), "unused")
	h.Swap(m)
	c := &collector{}
	cfg := DefaultArenaConfig()
	cfg.Clock = clock
	cfg.IdleTimeout = 10 * time.Second
	return NewArena(h, cfg, c.sink), c
}

func TestArena_WindowsPerVehicle(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	arena, c := newTestArena(t, clock)

	ctx := context.Background()
	a, b := stream("a", 250, 0), stream("b", 120, 0)
	for i := range 250 {
		require.NoError(t, arena.Push(ctx, a[i]))
		if i < len(b) {
			require.NoError(t, arena.Push(ctx, b[i]))
		}
	}
	assert.Equal(t, 2, arena.Vehicles())
	arena.Close()

	got := c.byVehicle()
	require.Len(t, got["a"], 4)
	require.Len(t, got["b"], 1)

	ra := got["a"]
	for i, r := range ra {
		assert.Equal(t, i, r.WindowIndex)
		assert.Equal(t, a[i*50].Timestamp, r.StartTS)
	}

	assert.ErrorIs(t, arena.Push(ctx, a[0]), ErrArenaClosed)
	arena.Close()
}

func TestArena_EvictsIdleVehicles(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	arena, c := newTestArena(t, clock)
	defer arena.Close()

	ctx := context.Background()
	for _, s := range stream("idle", 80, 0) {
		require.NoError(t, arena.Push(ctx, s))
	}
	clock.Advance(5 * time.Second)
	for _, s := range stream("busy", 10, 0) {
		require.NoError(t, arena.Push(ctx, s))
	}
	clock.Advance(6 * time.Second)

	// The janitor may already have run on the last tick.
	arena.evictIdle()
	assert.Equal(t, 1, arena.Vehicles())

	// The idle vehicle starts over: its earlier 80 samples are gone, so 80
	// more do not complete a window.
	for _, s := range stream("idle", 80, 100) {
		require.NoError(t, arena.Push(ctx, s))
	}
	arena.Close()
	assert.Empty(t, c.byVehicle()["idle"])
}

func TestArena_KeepsVehicleWithPushInFlight(t *testing.T) {
	m, err := NewModel(testArtifact(t))
	require.NoError(t, err)
	h := NewHandle(fsutil.NewMemoryFileSystem(), "unused")
	h.Swap(m)

	// the first window parks the actor in the sink so the inbox stays full
	entered, release := make(chan struct{}), make(chan struct{})
	var first sync.Once
	c := &collector{}
	sink := func(r Result) {
		first.Do(func() {
			close(entered)
			<-release
		})
		c.sink(r)
	}

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	arena := NewArena(h, ArenaConfig{Clock: clock, IdleTimeout: 10 * time.Second, InboxSize: 1}, sink)
	defer arena.Close()

	ctx := context.Background()
	s := stream("v", 200, 0)
	for _, x := range s[:101] {
		require.NoError(t, arena.Push(ctx, x))
	}
	<-entered

	pushed := make(chan error, 1)
	go func() { pushed <- arena.Push(ctx, s[101]) }()
	require.Eventually(t, func() bool {
		arena.mu.Lock()
		defer arena.mu.Unlock()
		act := arena.actors["v"]
		return act != nil && act.pending == 1
	}, time.Second, time.Millisecond)

	clock.Advance(20 * time.Second)
	assert.Equal(t, 0, arena.evictIdle())
	assert.Equal(t, 1, arena.Vehicles())

	close(release)
	require.NoError(t, <-pushed)
	for _, x := range s[102:] {
		require.NoError(t, arena.Push(ctx, x))
	}
	arena.Close()

	got := c.byVehicle()["v"]
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, s[i*50].Timestamp, r.StartTS)
	}
}

func TestArena_DropsOutOfOrderSamples(t *testing.T) {
	arena, c := newTestArena(t, timeutil.NewMockClock(time.Unix(0, 0)))
	ctx := context.Background()

	s := stream("v", 101, 0)
	late := s[100]
	late.Timestamp = -1
	for _, x := range s[:50] {
		require.NoError(t, arena.Push(ctx, x))
	}
	require.NoError(t, arena.Push(ctx, late))
	for _, x := range s[50:100] {
		require.NoError(t, arena.Push(ctx, x))
	}
	arena.Close()
	assert.Len(t, c.byVehicle()["v"], 1)
}

func TestArena_NoModelDropsSamples(t *testing.T) {
	c := &collector{}
	arena := NewArena(NewHandle(fsutil.NewMemoryFileSystem(), "none"), ArenaConfig{Clock: timeutil.NewMockClock(time.Unix(0, 0))}, c.sink)
	for _, s := range stream("v", 150, 0) {
		require.NoError(t, arena.Push(context.Background(), s))
	}
	arena.Close()
	assert.Empty(t, c.byVehicle())
}
