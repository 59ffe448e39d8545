// Package reloadtest provides in-memory server modules and loaders for tests.
package reloadtest

import (
	"context"
	"net/http"
	"sync"

	"github.com/bootz-dev/bootz/internal/reload"
)

// Module is a scriptable reload.Module. The zero value serves 200 "ok" and
// has no hot capability.
type Module struct {
	// Name is written as the response body by the default handler.
	Name string

	// Handler overrides the default handler.
	Handler http.HandlerFunc

	// HotCapable enables the hot capability.
	HotCapable bool

	mu         sync.Mutex
	status     reload.HotStatus
	updated    []string
	checkErr   error
	checkPanic any
	applyErr   error
	checks     int
	applies    int
	closed     bool
	checkHook  func()
}

var _ reload.Module = (*Module)(nil)

// NewModule returns a hot-capable module whose checks report no updates.
func NewModule(name string) *Module {
	return &Module{Name: name, HotCapable: true, status: reload.HotIdle}
}

// Updated makes the next checks report the given modules.
func (m *Module) Updated(paths ...string) *Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated = paths
	return m
}

// CheckFails makes Check return err.
func (m *Module) CheckFails(err error) *Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkErr = err
	return m
}

// CheckPanics makes Check panic with v.
func (m *Module) CheckPanics(v any) *Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkPanic = v
	return m
}

// ApplyFails makes Apply return err.
func (m *Module) ApplyFails(err error) *Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyErr = err
	return m
}

// WithStatus sets the status reported after Check.
func (m *Module) WithStatus(s reload.HotStatus) *Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
	return m
}

// OnCheck runs fn at the start of every Check.
func (m *Module) OnCheck(fn func()) *Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkHook = fn
	return m
}

func (m *Module) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.Handler != nil {
		m.Handler(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(m.Name))
}

func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *Module) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Module) Hot() (reload.HotUpdater, bool) {
	if !m.HotCapable {
		return nil, false
	}
	return m, true
}

func (m *Module) Status() reload.HotStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == "" {
		return reload.HotIdle
	}
	return m.status
}

func (m *Module) Check(context.Context) ([]string, error) {
	m.mu.Lock()
	hook := m.checkHook
	m.checks++
	m.mu.Unlock()

	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkPanic != nil {
		panic(m.checkPanic)
	}
	if m.checkErr != nil {
		return nil, m.checkErr
	}
	return append([]string(nil), m.updated...), nil
}

func (m *Module) Apply(context.Context, []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applies++
	return m.applyErr
}

// Checks returns the number of Check calls.
func (m *Module) Checks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks
}

// Applies returns the number of Apply calls.
func (m *Module) Applies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applies
}

// Loader hands out queued modules in order.
type Loader struct {
	// BeforeLoad, if set, is called with the 1-based load number before
	// the result is handed out. It may block.
	BeforeLoad func(n int)

	mu    sync.Mutex
	queue []loadResult
	loads []string
}

type loadResult struct {
	m   reload.Module
	err error
}

var _ reload.Loader = (*Loader)(nil)

// NewLoader creates a loader. Without queued results it returns a fresh
// NewModule.
func NewLoader() *Loader {
	return &Loader{}
}

// Queue appends modules returned by successive loads.
func (l *Loader) Queue(modules ...reload.Module) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range modules {
		l.queue = append(l.queue, loadResult{m: m})
	}
	return l
}

// QueueError makes the next load fail with err.
func (l *Loader) QueueError(err error) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(l.queue, loadResult{err: err})
	return l
}

// Load returns the next queued result.
func (l *Loader) Load(_ context.Context, artifact string) (reload.Module, error) {
	l.mu.Lock()
	l.loads = append(l.loads, artifact)
	n := len(l.loads)
	l.mu.Unlock()

	if l.BeforeLoad != nil {
		l.BeforeLoad(n)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return NewModule("module"), nil
	}
	next := l.queue[0]
	l.queue = l.queue[1:]
	return next.m, next.err
}

// Loads returns the number of Load calls.
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.loads)
}
