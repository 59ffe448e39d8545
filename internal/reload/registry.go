package reload

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDrainTimeout bounds how long a replaced module may keep serving
// in-flight requests before it is closed anyway.
const DefaultDrainTimeout = 30 * time.Second

// Handle is one loaded version of the server module. A Handle is immutable
// apart from its in-flight bookkeeping.
type Handle struct {
	Version  uint64
	Module   Module
	Artifact string
	LoadedAt time.Time

	mu       sync.Mutex
	inflight int
	retired  bool
	drained  chan struct{}
}

func newHandle(version uint64, m Module, artifact string) *Handle {
	return &Handle{
		Version:  version,
		Module:   m,
		Artifact: artifact,
		LoadedAt: time.Now(),
		drained:  make(chan struct{}),
	}
}

// Serve dispatches the request to the module. It returns false without
// serving when the handle was retired before the request was admitted.
func (h *Handle) Serve(w http.ResponseWriter, r *http.Request) bool {
	if !h.acquire() {
		return false
	}
	defer h.release()
	h.Module.ServeHTTP(w, r)
	return true
}

// InFlight returns the number of requests currently being served.
func (h *Handle) InFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inflight
}

// Retired reports whether the handle was replaced.
func (h *Handle) Retired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retired
}

func (h *Handle) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired {
		return false
	}
	h.inflight++
	return true
}

func (h *Handle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inflight--
	if h.retired && h.inflight == 0 {
		close(h.drained)
	}
}

// retire stops admitting requests. The returned channel closes once the
// in-flight requests have finished.
func (h *Handle) retire() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.retired {
		h.retired = true
		if h.inflight == 0 {
			close(h.drained)
		}
	}
	return h.drained
}

// Registry is the versioned module registry. The active handle is read
// with Current and replaced only by the Reloader.
type Registry struct {
	current atomic.Pointer[Handle]
	version atomic.Uint64
	logger  *slog.Logger
	drain   time.Duration
	closing sync.WaitGroup

	// OnSwap, if set, is called with the new active version (0 when absent).
	OnSwap func(version uint64)
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger, drain: DefaultDrainTimeout}
}

// SetDrainTimeout changes how long retired modules may drain.
func (r *Registry) SetDrainTimeout(d time.Duration) {
	r.drain = d
}

// Current returns the active handle, or nil before the first successful load.
func (r *Registry) Current() *Handle {
	return r.current.Load()
}

// swap makes m the active module and retires the previous handle.
func (r *Registry) swap(m Module, artifact string) *Handle {
	h := newHandle(r.version.Add(1), m, artifact)
	if old := r.current.Swap(h); old != nil {
		r.retire(old)
	}
	if r.OnSwap != nil {
		r.OnSwap(h.Version)
	}
	return h
}

// clear removes the active handle and retires it.
func (r *Registry) clear() {
	if old := r.current.Swap(nil); old != nil {
		r.retire(old)
		if r.OnSwap != nil {
			r.OnSwap(0)
		}
	}
}

// retire closes h once its in-flight requests have drained or the drain
// timeout elapsed.
func (r *Registry) retire(h *Handle) {
	drained := h.retire()
	r.closing.Add(1)
	go func() {
		defer r.closing.Done()
		select {
		case <-drained:
		case <-time.After(r.drain):
			r.logger.Warn("closing server module with requests in flight",
				"version", h.Version, "inflight", h.InFlight())
		}
		if err := h.Module.Close(); err != nil {
			r.logger.Warn("closing server module", "version", h.Version, "error", err)
		}
		r.logger.Debug("server module closed", "version", h.Version)
	}()
}

// Wait blocks until every retired module has been closed.
func (r *Registry) Wait() {
	r.closing.Wait()
}
