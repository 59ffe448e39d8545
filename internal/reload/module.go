// Package reload owns the running server module.
//
// A Loader "imports" a compiled server artifact and returns a Module. The
// Registry holds the active module behind an atomically swapped, versioned
// Handle, so the request path never observes a partially replaced module.
// The Reloader drives the hot-update state machine on every successful
// server recompilation and falls back to a full reload when the running
// module cannot apply the update.
package reload

import (
	"context"
	"net/http"
)

// HotStatus is the hot-update status a module reports.
type HotStatus string

const (
	HotIdle  HotStatus = "idle"
	HotCheck HotStatus = "check"
	HotApply HotStatus = "apply"
	HotAbort HotStatus = "abort"
	HotFail  HotStatus = "fail"
)

// Unrecoverable reports whether s requires a full reload.
func (s HotStatus) Unrecoverable() bool {
	return s == HotAbort || s == HotFail
}

// HotUpdater is the hot-update capability of a running module.
type HotUpdater interface {
	// Status returns the module's current hot-update status.
	Status() HotStatus

	// Check asks the module which of its parts changed on disk. An empty
	// result means nothing needs to be applied.
	Check(ctx context.Context) ([]string, error)

	// Apply applies the parts returned by Check, preserving module state.
	Apply(ctx context.Context, updated []string) error
}

// Module is a loaded server module.
type Module interface {
	http.Handler

	// Close releases the module. In-flight requests have drained when
	// the registry calls it.
	Close() error

	// Hot returns the hot-update capability, if the module has one.
	Hot() (HotUpdater, bool)
}

// Loader imports a compiled server artifact.
type Loader interface {
	Load(ctx context.Context, artifact string) (Module, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, artifact string) (Module, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, artifact string) (Module, error) {
	return f(ctx, artifact)
}
