package l7serving

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/impact.report/internal/fsutil"
	"github.com/banshee-data/impact.report/internal/monitoring"
)

// ErrNoModel is returned when nothing has been loaded yet.
var ErrNoModel = errors.New("no model loaded")

// Handle publishes the current model. Readers take a snapshot with Current
// and keep using it for the whole request; a concurrent reload never
// changes a snapshot already taken.
type Handle struct {
	fsys fsutil.FileSystem
	path string

	current atomic.Pointer[Model]
	reload  sync.Mutex // serialises Reload
}

// NewHandle returns a handle that reloads from path on fsys.
func NewHandle(fsys fsutil.FileSystem, path string) *Handle {
	return &Handle{fsys: fsys, path: path}
}

// Current returns the live model or ErrNoModel.
func (h *Handle) Current() (*Model, error) {
	m := h.current.Load()
	if m == nil {
		return nil, ErrNoModel
	}
	return m, nil
}

// Swap publishes m and returns the previous model, if any.
func (h *Handle) Swap(m *Model) *Model {
	return h.current.Swap(m)
}

// Path returns the artifact path Reload reads.
func (h *Handle) Path() string { return h.path }

// Reload reads the artifact again and publishes it. On failure the current
// model stays live.
func (h *Handle) Reload() (*Model, error) {
	h.reload.Lock()
	defer h.reload.Unlock()

	m, err := h.load()
	monitoring.ObserveModelReload(err)
	if err != nil {
		monitoring.Logf("serving: reload of %s failed, keeping current model: %v", h.path, err)
		return nil, err
	}
	prev := h.Swap(m)
	if prev != nil {
		monitoring.Logf("serving: model %s replaced by %s", prev.Version(), m.Version())
	} else {
		monitoring.Logf("serving: model %s loaded from %s", m.Version(), h.path)
	}
	return m, nil
}

func (h *Handle) load() (*Model, error) {
	a, err := LoadArtifact(h.fsys, h.path)
	if err != nil {
		return nil, err
	}
	return NewModel(a)
}
