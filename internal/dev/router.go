package dev

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Paths served by the dev router itself.
const (
	StaticPrefix = "/static/"
	MetricsPath  = "/__bootz/metrics"
	StatusPath   = "/__bootz/status"
)

// RouterConfig configures the dev listener's handler.
type RouterConfig struct {
	// StaticDir is the client pipeline's static output directory.
	StaticDir string

	// Hub serves the live-reload socket. Optional.
	Hub *ReloadHub

	// Metrics is exposed at MetricsPath when set.
	Metrics http.Handler

	// Status returns a JSON-encodable snapshot for StatusPath.
	Status func() any

	// Fallback receives every request the router does not serve itself,
	// normally the request bridge.
	Fallback http.Handler
}

// NewRouter assembles the dev handler. Client assets are mounted ahead of
// the fallback so bundles stay reachable while the server module reloads.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.GetHead)

	if cfg.StaticDir != "" {
		files := http.StripPrefix(StaticPrefix, http.FileServer(http.Dir(cfg.StaticDir)))
		r.With(noStore).Get(StaticPrefix+"*", files.ServeHTTP)
	}
	if cfg.Hub != nil {
		r.Get(ReloadPath, cfg.Hub.ServeHTTP)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, MetricsPath, cfg.Metrics)
	}
	if cfg.Status != nil {
		r.Get(StatusPath, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "no-store")
			_ = json.NewEncoder(w).Encode(cfg.Status())
		})
	}

	fallback := cfg.Fallback
	if fallback == nil {
		fallback = http.NotFoundHandler()
	}
	r.NotFound(fallback.ServeHTTP)
	r.MethodNotAllowed(fallback.ServeHTTP)
	return r
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
