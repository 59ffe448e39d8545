// Package toolchain is the build orchestrator. It drives the client and
// server pipelines for a one-shot production build, or keeps both watching
// in development and serves the result through the request bridge.
package toolchain

import (
	"log/slog"
	"net"
	"os"
	"sync/atomic"

	"github.com/bootz-dev/bootz/internal/config"
	"github.com/bootz-dev/bootz/internal/errors"
	"github.com/bootz-dev/bootz/internal/logging"
	"github.com/bootz-dev/bootz/internal/pipeline"
	"github.com/bootz-dev/bootz/internal/reload"
	"github.com/bootz-dev/bootz/internal/telemetry"
)

// LoaderFactory builds the server module loader for a dev session. script
// is the live-reload snippet to inject into HTML responses.
type LoaderFactory func(opts *config.BuildOptions, script string, logger *slog.Logger) reload.Loader

// Deps are the collaborators of a Toolchain. Zero fields get defaults.
type Deps struct {
	// Pipelines constructs pipelines. Defaults to pipeline.NewFactory.
	Pipelines pipeline.Factory

	// Loader constructs the server module loader. Defaults to a
	// reload.ProcessLoader running the artifact with opts.Runtime.
	Loader LoaderFactory

	// Listen opens the dev listener. Defaults to net.Listen.
	Listen func(network, address string) (net.Listener, error)

	// Clean empties the output directory. Defaults to removing and
	// recreating it.
	Clean func(dir string) error

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Toolchain runs builds and dev sessions.
type Toolchain struct {
	pipelines pipeline.Factory
	loader    LoaderFactory
	listen    func(network, address string) (net.Listener, error)
	clean     func(dir string) error
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	session atomic.Pointer[devSession]
}

// New creates a Toolchain.
func New(deps Deps) *Toolchain {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Pipelines == nil {
		deps.Pipelines = pipeline.NewFactory(deps.Logger)
	}
	if deps.Loader == nil {
		deps.Loader = processLoader
	}
	if deps.Listen == nil {
		deps.Listen = net.Listen
	}
	if deps.Clean == nil {
		deps.Clean = cleanOutput
	}
	return &Toolchain{
		pipelines: deps.Pipelines,
		loader:    deps.Loader,
		listen:    deps.Listen,
		clean:     deps.Clean,
		logger:    logging.Component(deps.Logger, "toolchain"),
		metrics:   deps.Metrics,
	}
}

// prepare validates opts and empties the output directory. Nothing is
// touched when validation fails.
func (t *Toolchain) prepare(opts *config.BuildOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if err := t.clean(opts.OutputDirectory); err != nil {
		return errors.New("E130").
			WithDetail("Cannot empty " + opts.OutputDirectory).
			WithSuggestion("Check the permissions of the output directory").
			Wrap(err)
	}
	return nil
}

// newPipeline constructs the pipeline for target and logs construction
// failures, which are fatal.
func (t *Toolchain) newPipeline(target config.Target, opts *config.BuildOptions) (pipeline.Pipeline, error) {
	p, err := t.pipelines(target, opts)
	if err != nil {
		err = errors.FromError(err, "E110")
		t.logger.Error("failed to initialize compiler", "target", target.Name, "error", err)
		return nil, err
	}
	return p, nil
}

// report logs one finished run and records it.
func (t *Toolchain) report(res pipeline.Result) {
	name := string(res.Target())
	t.metrics.ObservePipelineRun(name, res.HasErrors(), res.Duration())

	if res.HasErrors() {
		t.logger.Error("Failed to compile "+name,
			"code", errors.Code(res.Err()),
			"errors", len(res.Errors()),
			"diagnostics", res.Diagnostics())
		return
	}
	attrs := []any{"target", name, "duration", res.Duration()}
	if n := len(res.Warnings()); n > 0 {
		attrs = append(attrs, "warnings", n, "diagnostics", res.Diagnostics())
	}
	t.logger.Info("Compiled "+name, attrs...)
}

func cleanOutput(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func processLoader(opts *config.BuildOptions, script string, logger *slog.Logger) reload.Loader {
	runtime := opts.Runtime
	if opts.ServerCompiler == config.CompilerGo {
		runtime = ""
	}
	return reload.NewProcessLoader(reload.ProcessConfig{
		Runtime:      runtime,
		Inspect:      opts.Server.Inspect,
		Mode:         opts.Mode,
		Dir:          opts.WorkingDirectory,
		InjectScript: script,
		Logger:       logger,
	})
}
