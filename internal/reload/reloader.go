package reload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bootz-dev/bootz/internal/errors"
	"github.com/bootz-dev/bootz/internal/telemetry"
)

// Outcome is the result of one hot-update cycle.
type Outcome string

const (
	// OutcomeSkipped: a cycle was already running.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeNoop: nothing changed, or the module has no hot capability.
	OutcomeNoop Outcome = "noop"
	// OutcomeApplied: the running module applied the update in place.
	OutcomeApplied Outcome = "applied"
	// OutcomeReloaded: the module was replaced by a fresh load.
	OutcomeReloaded Outcome = "reloaded"
	// OutcomeFailed: the fresh load failed; the previous handle stays active.
	OutcomeFailed Outcome = "failed"
)

// Config configures a Reloader.
type Config struct {
	Loader   Loader
	Registry *Registry
	Artifact string
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics

	// OnReload is called after a successful full reload.
	OnReload func(h *Handle)
}

// Reloader owns the active server module and its hot-update state.
type Reloader struct {
	loader   Loader
	registry *Registry
	artifact string
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	onReload func(*Handle)

	state  stateMachine
	loadMu sync.Mutex
}

// NewReloader creates a Reloader. A nil Registry gets a fresh one.
func NewReloader(cfg Config) *Reloader {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry(cfg.Logger)
	}
	return &Reloader{
		loader:   cfg.Loader,
		registry: cfg.Registry,
		artifact: cfg.Artifact,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		onReload: cfg.OnReload,
	}
}

// Registry returns the registry the Reloader writes to.
func (r *Reloader) Registry() *Registry { return r.registry }

// State returns the current hot-update state.
func (r *Reloader) State() State { return r.state.Load() }

// LoadInitial imports the artifact for the first time. On failure the
// error is logged and returned, and the handle stays absent.
func (r *Reloader) LoadInitial(ctx context.Context) error {
	_, err := r.load(ctx, "initial")
	return err
}

// HotUpdateCycle runs one hot-update cycle. It returns immediately when a
// cycle is already in progress.
func (r *Reloader) HotUpdateCycle(ctx context.Context) Outcome {
	if !r.state.begin() {
		r.logger.Debug("hot update already in progress, skipping", "state", r.state.Load().String())
		r.metrics.ObserveHotUpdate(string(OutcomeSkipped))
		return OutcomeSkipped
	}

	ctx, span := telemetry.StartSpan(ctx, "reload.HotUpdateCycle")
	outcome := r.cycle(ctx)
	span.SetAttributes(attribute.String("bootz.outcome", string(outcome)))
	telemetry.EndSpan(span, nil)

	r.metrics.ObserveHotUpdate(string(outcome))
	return outcome
}

// cycle runs with the state at Checking and always leaves it at Idle.
func (r *Reloader) cycle(ctx context.Context) Outcome {
	h := r.registry.Current()
	if h == nil {
		// Nothing loaded yet: the initial load failed earlier.
		return r.fullReload(ctx, Checking, "no server module loaded")
	}

	hot, ok := h.Module.Hot()
	if !ok {
		r.state.advance(Checking, Idle)
		return OutcomeNoop
	}

	updated, err := safeCheck(ctx, hot)
	if err != nil {
		e := errors.New("E151").Wrap(err)
		r.logger.Warn(e.Message, "code", e.Code, "version", h.Version, "error", err)
		return r.fullReload(ctx, Checking, "hot update check failed")
	}
	if status := hot.Status(); status.Unrecoverable() {
		return r.fullReload(ctx, Checking, "hot update status "+string(status))
	}
	if len(updated) == 0 {
		r.logger.Debug("no modules updated", "version", h.Version)
		r.state.advance(Checking, Idle)
		return OutcomeNoop
	}

	r.state.advance(Checking, Applying)
	if err := safeApply(ctx, hot, updated); err != nil {
		e := errors.New("E151").Wrap(err)
		r.logger.Warn(e.Message, "code", e.Code, "version", h.Version, "error", err)
		return r.fullReload(ctx, Applying, "hot update apply failed")
	}
	if status := hot.Status(); status.Unrecoverable() {
		return r.fullReload(ctx, Applying, "hot update status "+string(status))
	}

	r.logger.Info(fmt.Sprintf("Updated %d modules", len(updated)), "version", h.Version)
	r.state.advance(Applying, Idle)
	return OutcomeApplied
}

// fullReload re-imports the artifact and swaps the active handle. The
// state passes through Failed and ends at Idle whatever happens.
func (r *Reloader) fullReload(ctx context.Context, from State, reason string) Outcome {
	r.state.advance(from, Failed)
	defer r.state.advance(Failed, Idle)

	r.logger.Info("Could not apply updates, hard reloading server...", "reason", reason)
	h, err := r.load(ctx, "reload")
	if err != nil {
		return OutcomeFailed
	}
	if r.onReload != nil {
		r.onReload(h)
	}
	return OutcomeReloaded
}

// load imports the artifact and installs it. Loads are serialized.
func (r *Reloader) load(ctx context.Context, kind string) (*Handle, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "reload.Load",
		attribute.String("bootz.load", kind),
		attribute.String("bootz.artifact", r.artifact))

	m, err := r.loader.Load(ctx, r.artifact)
	if err != nil {
		e := errors.FromError(err, "E150")
		r.logger.Error(e.Message, "code", e.Code, "artifact", r.artifact, "error", err)
		r.metrics.ObserveModuleLoad(false)
		telemetry.EndSpan(span, err)
		return nil, e
	}

	h := r.registry.swap(m, r.artifact)
	r.metrics.ObserveModuleLoad(true)
	r.metrics.SetModuleVersion(h.Version)
	span.SetAttributes(attribute.Int64("bootz.version", int64(h.Version)))
	telemetry.EndSpan(span, nil)

	r.logger.Info("server module loaded", "version", h.Version, "kind", kind)
	return h, nil
}

// Close retires the active module and waits until it is closed.
func (r *Reloader) Close() {
	r.loadMu.Lock()
	r.registry.clear()
	r.loadMu.Unlock()
	r.metrics.SetModuleVersion(0)
	r.registry.Wait()
}

func safeCheck(ctx context.Context, hot HotUpdater) (updated []string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during hot update check: %v", p)
		}
	}()
	return hot.Check(ctx)
}

func safeApply(ctx context.Context, hot HotUpdater, updated []string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during hot update apply: %v", p)
		}
	}()
	return hot.Apply(ctx, updated)
}
