// Package pipeline defines the compiler pipeline contract and its esbuild
// and go build implementations.
//
// A Pipeline compiles one build target. It runs once to completion or keeps
// running in watch mode, reporting every finished run as a Result. Per-run
// compile errors are never returned as Go errors; they are carried by the
// Result. A returned error always means the pipeline itself could not work.
package pipeline

//go:generate mockgen -source=pipeline.go -destination=mocks/mock_pipeline.go -package=mocks

import (
	"context"
	"log/slog"

	"github.com/bootz-dev/bootz/internal/config"
	"github.com/bootz-dev/bootz/internal/errors"
)

// Pipeline compiles a single build target.
type Pipeline interface {
	// Name returns the target this pipeline compiles.
	Name() config.TargetName

	// RunOnce performs one complete compilation.
	RunOnce(ctx context.Context) (Result, error)

	// Watch starts continuous compilation. onResult is called after every
	// finished run, starting with the initial one, until the handle is
	// disposed or ctx is cancelled.
	Watch(ctx context.Context, onResult func(Result)) (WatchHandle, error)
}

// WatchHandle stops a running watch.
type WatchHandle interface {
	// Dispose stops watching. No onResult call starts after Dispose
	// returns. Safe to call more than once.
	Dispose()
}

// Release frees what p holds after a one-shot run. Pipelines that keep
// no resources between runs are left alone.
func Release(p Pipeline) {
	if h, ok := p.(WatchHandle); ok {
		h.Dispose()
	}
}

// Factory constructs the pipeline for target. Construction errors are
// pipeline initialization failures.
type Factory func(target config.Target, opts *config.BuildOptions) (Pipeline, error)

// NewFactory returns the default Factory: esbuild for the client, and
// esbuild or go build for the server depending on opts.ServerCompiler.
func NewFactory(logger *slog.Logger) Factory {
	return func(target config.Target, opts *config.BuildOptions) (Pipeline, error) {
		if target.Name == config.Server && opts.ServerCompiler == config.CompilerGo {
			return NewGoBuild(target, GoBuildConfig{
				Tags:    opts.GoBuild.Tags,
				LDFlags: opts.GoBuild.LDFlags,
				Ignore:  opts.WatchIgnore,
			}, logger)
		}
		return NewESBuild(target, logger)
	}
}

func initError(target config.Target, detail string, err error) error {
	e := errors.New("E110").WithDetail("Target " + string(target.Name) + ": " + detail)
	if err != nil {
		e = e.Wrap(err)
	}
	return e
}
