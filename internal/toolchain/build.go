package toolchain

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bootz-dev/bootz/internal/config"
	"github.com/bootz-dev/bootz/internal/pipeline"
	"github.com/bootz-dev/bootz/internal/telemetry"
)

// Report holds the outcome of a production build.
type Report struct {
	Client   pipeline.Result
	Server   pipeline.Result
	Duration time.Duration
}

// Failed reports whether either target had compile errors.
func (r *Report) Failed() bool {
	return r.Client.HasErrors() || r.Server.HasErrors()
}

// Build compiles the client, then the server, once in production mode. The
// output directory is emptied first. Compile errors are logged and carried
// in the Report; the returned error is reserved for invalid options, an
// output directory that cannot be emptied, and compilers that cannot be
// constructed.
func (t *Toolchain) Build(ctx context.Context, opts *config.BuildOptions) (_ *Report, err error) {
	opts = opts.WithMode(config.Production)
	if err := t.prepare(opts); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "toolchain.build",
		attribute.String("bootz.output", opts.OutputDirectory))
	defer func() { telemetry.EndSpan(span, err) }()

	start := time.Now()
	report := &Report{}

	// The server bundle may depend on what the client run emitted, so the
	// server pipeline is only constructed once the client run is over.
	report.Client, err = t.buildTarget(ctx, opts.Client, opts)
	if err != nil {
		return nil, err
	}
	report.Server, err = t.buildTarget(ctx, opts.Server, opts)
	if err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	span.SetAttributes(attribute.Bool("bootz.failed", report.Failed()))
	t.logger.Info("Done!", "duration", report.Duration.Round(time.Millisecond), "failed", report.Failed())
	return report, nil
}

func (t *Toolchain) buildTarget(ctx context.Context, target config.Target, opts *config.BuildOptions) (pipeline.Result, error) {
	p, err := t.newPipeline(target, opts)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer pipeline.Release(p)

	ctx, span := telemetry.StartSpan(ctx, "pipeline.run",
		attribute.String("bootz.target", string(target.Name)))
	res, err := p.RunOnce(ctx)
	if err != nil {
		telemetry.EndSpan(span, err)
		if ctx.Err() != nil {
			return pipeline.Result{}, ctx.Err()
		}
		// The pipeline broke down mid-run. That is reported like a
		// compile failure so the other target still builds.
		t.logger.Error("compiler failed", "target", target.Name, "error", err)
		res = pipeline.NewResult(target.Name, []pipeline.Diagnostic{{Text: err.Error()}}, nil, nil, 0)
	} else {
		telemetry.EndSpan(span, res.Err())
	}

	t.report(res)
	return res, nil
}
