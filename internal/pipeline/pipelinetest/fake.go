// Package pipelinetest provides a scriptable in-memory pipeline for tests.
package pipelinetest

import (
	"context"
	"sync"
	"time"

	"github.com/bootz-dev/bootz/internal/config"
	"github.com/bootz-dev/bootz/internal/pipeline"
)

// Success returns an error-free result for target.
func Success(target config.TargetName) pipeline.Result {
	return pipeline.NewResult(target, nil, nil, nil, time.Millisecond)
}

// Failure returns a result with one error diagnostic.
func Failure(target config.TargetName, text string) pipeline.Result {
	return pipeline.NewResult(target, []pipeline.Diagnostic{{Text: text}}, nil, nil, time.Millisecond)
}

// Fake is a pipeline driven by the test. RunOnce returns queued results;
// in watch mode results are delivered with Emit.
type Fake struct {
	name config.TargetName

	// OnRun, if set, is called at the start of every RunOnce.
	OnRun func()

	mu       sync.Mutex
	queue    []pipeline.Result
	runErr   error
	watchErr error
	runs     int
	onResult func(pipeline.Result)
	disposed bool
	watching chan struct{}
}

var _ pipeline.Pipeline = (*Fake)(nil)

// New creates a fake pipeline for target.
func New(name config.TargetName) *Fake {
	return &Fake{name: name, watching: make(chan struct{})}
}

// Queue appends results returned by successive RunOnce calls. Without a
// queued result RunOnce succeeds.
func (f *Fake) Queue(results ...pipeline.Result) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, results...)
	return f
}

// FailRun makes RunOnce return err.
func (f *Fake) FailRun(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runErr = err
	return f
}

// FailWatch makes Watch return err.
func (f *Fake) FailWatch(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchErr = err
	return f
}

// Name returns the target name.
func (f *Fake) Name() config.TargetName { return f.name }

// RunOnce returns the next queued result.
func (f *Fake) RunOnce(ctx context.Context) (pipeline.Result, error) {
	if f.OnRun != nil {
		f.OnRun()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	if err := ctx.Err(); err != nil {
		return pipeline.Result{}, err
	}
	if f.runErr != nil {
		return pipeline.Result{}, f.runErr
	}
	if len(f.queue) == 0 {
		return Success(f.name), nil
	}
	res := f.queue[0]
	f.queue = f.queue[1:]
	return res, nil
}

// Runs returns the number of RunOnce calls.
func (f *Fake) Runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

// Watch records onResult. Results are delivered only through Emit.
func (f *Fake) Watch(ctx context.Context, onResult func(pipeline.Result)) (pipeline.WatchHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.onResult = onResult
	close(f.watching)
	return f, nil
}

// WaitWatching blocks until Watch has been called or timeout elapses.
func (f *Fake) WaitWatching(timeout time.Duration) bool {
	select {
	case <-f.watching:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Emit delivers res to the watcher and reports whether it was delivered.
func (f *Fake) Emit(res pipeline.Result) bool {
	f.mu.Lock()
	cb := f.onResult
	if f.disposed {
		cb = nil
	}
	f.mu.Unlock()

	if cb == nil {
		return false
	}
	cb(res)
	return true
}

// Dispose stops delivery.
func (f *Fake) Dispose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
}

// Disposed reports whether Dispose was called.
func (f *Fake) Disposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}
