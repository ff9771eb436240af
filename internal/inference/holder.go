package inference

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/inaim-finailabz/aurora/internal/catalog"
	"github.com/inaim-finailabz/aurora/internal/config"
	"github.com/inaim-finailabz/aurora/internal/logbus"
	"github.com/inaim-finailabz/aurora/internal/metrics"
)

// Holder owns the single resident engine. The slot is guarded by a
// readers-writer lock; swaps replace it atomically, so a reader either sees
// the old engine or the new one, never a half-loaded state.
type Holder struct {
	cfg     *config.Store
	bus     *logbus.Bus
	metrics *metrics.Metrics
	load    LoadFunc

	mu     sync.RWMutex
	engine Engine

	// loads coalesces concurrent loads of the same model name.
	loads singleflight.Group
}

// NewHolder returns an empty holder using load for engine construction.
func NewHolder(cfg *config.Store, bus *logbus.Bus, m *metrics.Metrics, load LoadFunc) *Holder {
	return &Holder{cfg: cfg, bus: bus, metrics: m, load: load}
}

// Current returns the resident engine, if any.
func (h *Holder) Current() (Engine, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine, h.engine != nil
}

// CurrentName returns the resident engine's model name, or "".
func (h *Holder) CurrentName() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.engine == nil {
		return ""
	}
	return h.engine.ModelName()
}

// Ensure returns an engine for the named model, reusing the resident one
// when the name matches and otherwise loading and swapping. The returned
// engine is the one the caller must generate against: a concurrent swap to
// another model does not redirect this request.
func (h *Holder) Ensure(name string) (Engine, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: no model requested and no default configured", ErrNoEngine)
	}

	h.mu.RLock()
	current := h.engine
	h.mu.RUnlock()
	if current != nil && current.ModelName() == name {
		return current, nil
	}

	result, err, _ := h.loads.Do(name, func() (any, error) {
		// Re-check under the flight: another caller may have finished the
		// swap while this one queued.
		h.mu.RLock()
		resident := h.engine
		h.mu.RUnlock()
		if resident != nil && resident.ModelName() == name {
			return resident, nil
		}

		path, err := catalog.FindModelFile(h.cfg.StorageDir(), name)
		if err != nil {
			return nil, err
		}

		h.bus.Model("LOADING", name, "initializing inference engine")
		engine, err := h.load(path, name)
		if err != nil {
			return nil, fmt.Errorf("load model %q: %w", name, err)
		}

		h.mu.Lock()
		previous := h.engine
		h.engine = engine
		h.mu.Unlock()

		if previous != nil {
			_ = previous.Close()
		}
		if h.metrics != nil {
			h.metrics.SetResidentModel(name)
		}
		h.bus.Model("READY", name, "model loaded successfully")
		return engine, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(Engine), nil
}

// Close releases the resident engine, if any.
func (h *Holder) Close() error {
	h.mu.Lock()
	engine := h.engine
	h.engine = nil
	h.mu.Unlock()
	if engine == nil {
		return nil
	}
	return engine.Close()
}
