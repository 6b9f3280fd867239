package l7serving

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
	"github.com/banshee-data/impact.report/internal/impact/l2windows"
	"github.com/banshee-data/impact.report/internal/monitoring"
	"github.com/banshee-data/impact.report/internal/timeutil"
)

// ErrArenaClosed is returned by Push after Close.
var ErrArenaClosed = errors.New("arena closed")

// Sink receives every classified window. It is called from actor
// goroutines and must be safe for concurrent use.
type Sink func(Result)

// ArenaConfig controls the streaming arena.
type ArenaConfig struct {
	IdleTimeout time.Duration
	InboxSize   int
	Policy      Policy
	Clock       timeutil.Clock
}

// DefaultArenaConfig evicts vehicles after 30s of silence.
func DefaultArenaConfig() ArenaConfig {
	return ArenaConfig{
		IdleTimeout: 30 * time.Second,
		InboxSize:   256,
		Policy:      Policy{Mode: PolicyBalanced},
		Clock:       timeutil.RealClock{},
	}
}

// Arena runs one actor goroutine per vehicle. Each actor owns its stream
// buffer, so vehicle state is never shared between goroutines.
type Arena struct {
	handle *Handle
	cfg    ArenaConfig
	sink   Sink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
}

type actor struct {
	vehicleID string
	inbox     chan l1samples.Sample
	quit      chan struct{}
	lastSeen  time.Time // guarded by Arena.mu
	pending   int       // Push calls still sending; guarded by Arena.mu
}

// NewArena starts the idle janitor. Call Close to stop it.
func NewArena(h *Handle, cfg ArenaConfig, sink Sink) *Arena {
	def := DefaultArenaConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Policy.Mode == "" {
		cfg.Policy = def.Policy
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Arena{
		handle: h,
		cfg:    cfg,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		actors: make(map[string]*actor),
	}
	ticker := cfg.Clock.NewTicker(cfg.IdleTimeout / 2)
	a.wg.Add(1)
	go a.janitor(ticker)
	return a
}

// Push routes s to its vehicle's actor, starting one if needed. It blocks
// while the actor's inbox is full.
func (a *Arena) Push(ctx context.Context, s l1samples.Sample) error {
	if s.VehicleID == "" {
		s.VehicleID = l1samples.DefaultVehicleID
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrArenaClosed
	}
	act, ok := a.actors[s.VehicleID]
	if !ok {
		act = &actor{
			vehicleID: s.VehicleID,
			inbox:     make(chan l1samples.Sample, a.cfg.InboxSize),
			quit:      make(chan struct{}),
		}
		a.actors[s.VehicleID] = act
		a.wg.Add(1)
		go a.run(act)
		monitoring.AddActiveVehicles(1)
	}
	act.lastSeen = a.cfg.Clock.Now()
	act.pending++
	a.mu.Unlock()

	// An actor with a send in flight is never evicted, so a sample that
	// lands in the inbox is always read by the actor's drain on quit.
	defer func() {
		a.mu.Lock()
		act.pending--
		act.lastSeen = a.cfg.Clock.Now()
		a.mu.Unlock()
	}()

	select {
	case act.inbox <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return ErrArenaClosed
	}
}

// Vehicles returns the number of live actors.
func (a *Arena) Vehicles() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.actors)
}

// Close stops every actor after it drains its inbox. Partial windows are
// discarded.
func (a *Arena) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	stopped := len(a.actors)
	for id, act := range a.actors {
		close(act.quit)
		delete(a.actors, id)
	}
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
	monitoring.AddActiveVehicles(-stopped)
}

func (a *Arena) janitor(ticker timeutil.Ticker) {
	defer a.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C():
			a.evictIdle()
		}
	}
}

// evictIdle stops actors that have not seen a sample for IdleTimeout and
// have no Push in progress.
func (a *Arena) evictIdle() int {
	now := a.cfg.Clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for id, act := range a.actors {
		if act.pending == 0 && now.Sub(act.lastSeen) >= a.cfg.IdleTimeout {
			close(act.quit)
			delete(a.actors, id)
			n++
		}
	}
	if n > 0 {
		monitoring.Logf("arena: evicted %d idle vehicle(s)", n)
		monitoring.AddActiveVehicles(-n)
	}
	return n
}

func (a *Arena) run(act *actor) {
	defer a.wg.Done()

	var (
		buf *l2windows.StreamBuffer
		seg l2windows.Config
	)
	handle := func(s l1samples.Sample) {
		m, err := a.handle.Current()
		if err != nil {
			monitoring.ObserveRejectedSample("no_model")
			return
		}
		// A reload may change the windowing; restart the stream if so.
		if cfg := m.Artifact().Segmenter(); buf == nil || cfg != seg {
			if buf != nil {
				monitoring.Logf("arena: %s: windowing changed, dropped %d buffered samples", act.vehicleID, buf.Discard())
			}
			buf, err = l2windows.NewStreamBuffer(act.vehicleID, cfg)
			if err != nil {
				monitoring.Logf("arena: %s: %v", act.vehicleID, err)
				return
			}
			seg = cfg
		}

		w, ok, err := buf.Push(s)
		if err != nil {
			monitoring.ObserveRejectedSample("out_of_order")
			monitoring.Logf("arena: %v", err)
			return
		}
		if !ok {
			return
		}
		res, err := m.Classify(w, a.cfg.Policy)
		if err != nil {
			monitoring.Logf("arena: %s window %d: %v", act.vehicleID, w.Index, err)
			return
		}
		if a.sink != nil {
			a.sink(res)
		}
	}

	for {
		select {
		case s := <-act.inbox:
			handle(s)
		case <-act.quit:
			for drained := false; !drained; {
				select {
				case s := <-act.inbox:
					handle(s)
				default:
					drained = true
				}
			}
			if buf != nil {
				if n := buf.Discard(); n > 0 {
					monitoring.Logf("arena: %s: discarded partial window of %d samples", act.vehicleID, n)
				}
			}
			return
		}
	}
}
