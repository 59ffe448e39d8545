// Package bridge is the front door of the dev listener. Every request is
// forwarded to whichever server module version is active at the moment the
// request arrives.
package bridge

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bootz-dev/bootz/internal/errors"
	"github.com/bootz-dev/bootz/internal/reload"
	"github.com/bootz-dev/bootz/internal/telemetry"
)

// RequestIDHeader carries the id of a failed request back to the browser.
const RequestIDHeader = "X-Request-Id"

// Source provides the active server module. *reload.Registry implements it.
type Source interface {
	Current() *reload.Handle
}

// Bridge is an http.Handler that dispatches to the active module.
type Bridge struct {
	source  Source
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// New creates a bridge reading from source. metrics may be nil.
func New(source Source, logger *slog.Logger, metrics *telemetry.Metrics) *Bridge {
	return &Bridge{source: source, logger: logger, metrics: metrics}
}

// ServeHTTP implements http.Handler.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "bridge.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	rec := &statusRecorder{ResponseWriter: w}
	defer func() {
		span.SetAttributes(attribute.Int("http.status_code", rec.code()))
		b.metrics.ObserveBridgeResponse(rec.code())
	}()

	// A handle retired between Current and Serve is re-read once; the
	// replacement is already published by then.
	for range 2 {
		h := b.source.Current()
		if h == nil {
			b.unavailable(rec)
			return
		}
		span.SetAttributes(attribute.Int64("bootz.module_version", int64(h.Version)))
		if b.serve(h, rec, r) {
			return
		}
	}
	b.unavailable(rec)
}

// serve dispatches to h and converts a panic into a 500 response.
func (b *Bridge) serve(h *reload.Handle, w *statusRecorder, r *http.Request) (served bool) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if p == http.ErrAbortHandler {
			panic(p)
		}
		served = true

		id := uuid.NewString()
		err := errors.New("E160").
			WithDetail(fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, p))
		b.logger.Error(err.Message,
			"code", err.Code,
			"request_id", id,
			"version", h.Version,
			"panic", p,
			"stack", string(debug.Stack()))
		trace.SpanFromContext(r.Context()).RecordError(err)

		if w.wrote {
			return
		}
		w.Header().Set(RequestIDHeader, id)
		http.Error(w, "Internal Server Error (request "+id+")", http.StatusInternalServerError)
	}()
	return h.Serve(w, r)
}

func (b *Bridge) unavailable(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	http.Error(w, "Server is starting, retry shortly", http.StatusServiceUnavailable)
}

// statusRecorder remembers the status code written by the module.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wrote {
		s.status = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if !s.wrote {
		s.status = http.StatusOK
		s.wrote = true
	}
	return s.ResponseWriter.Write(p)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) code() int {
	if !s.wrote {
		return http.StatusOK
	}
	return s.status
}
