package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/bootz-dev/bootz/internal/config"
)

// ESBuild compiles a target with esbuild. The client target is bundled for
// the browser with code splitting; the server target is bundled into a
// single CommonJS file for node.
type ESBuild struct {
	target config.Target
	logger *slog.Logger
	bctx   api.BuildContext

	mu       sync.Mutex
	started  time.Time
	last     Result
	onResult func(Result)
	disposed bool
	once     sync.Once
}

// NewESBuild creates the esbuild context for target. A context that cannot
// be created is a pipeline initialization failure.
func NewESBuild(target config.Target, logger *slog.Logger) (*ESBuild, error) {
	if len(target.Entries) == 0 {
		return nil, initError(target, "no entry points", nil)
	}

	p := &ESBuild{
		target: target,
		logger: logger.With("component", "esbuild", "target", string(target.Name)),
	}

	opts := p.buildOptions()
	opts.Plugins = append(opts.Plugins, p.resultPlugin())

	bctx, cerr := api.Context(opts)
	if cerr != nil {
		errs := convertMessages(cerr.Errors)
		return nil, initError(target, NewResult(target.Name, errs, nil, nil, 0).Diagnostics(), nil)
	}
	p.bctx = bctx
	return p, nil
}

// Name returns the target name.
func (p *ESBuild) Name() config.TargetName { return p.target.Name }

// RunOnce rebuilds the target. Cancelling ctx cancels the build.
func (p *ESBuild) RunOnce(ctx context.Context) (Result, error) {
	done := make(chan struct{})
	go func() {
		p.bctx.Rebuild()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.bctx.Cancel()
		<-done
		return Result{}, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, nil
}

// Watch starts esbuild's incremental watcher. The initial build starts
// immediately.
func (p *ESBuild) Watch(ctx context.Context, onResult func(Result)) (WatchHandle, error) {
	p.mu.Lock()
	p.onResult = onResult
	p.mu.Unlock()

	if err := p.bctx.Watch(api.WatchOptions{}); err != nil {
		return nil, initError(p.target, "cannot start watching", err)
	}

	go func() {
		<-ctx.Done()
		p.Dispose()
	}()
	return p, nil
}

// Dispose stops watching and releases the esbuild context.
func (p *ESBuild) Dispose() {
	p.once.Do(func() {
		p.mu.Lock()
		p.disposed = true
		p.onResult = nil
		p.mu.Unlock()
		p.bctx.Dispose()
	})
}

func (p *ESBuild) buildOptions() api.BuildOptions {
	dev := p.target.Mode.IsDev()
	opts := api.BuildOptions{
		AbsWorkingDir: p.target.WorkingDirectory,
		Bundle:        true,
		Write:         true,
		Metafile:      true,
		LogLevel:      api.LogLevelSilent,
		Define: map[string]string{
			"process.env.NODE_ENV": strconv.Quote(string(p.target.Mode)),
		},
		Loader: map[string]api.Loader{
			".png":   api.LoaderFile,
			".jpg":   api.LoaderFile,
			".jpeg":  api.LoaderFile,
			".gif":   api.LoaderFile,
			".svg":   api.LoaderFile,
			".webp":  api.LoaderFile,
			".woff":  api.LoaderFile,
			".woff2": api.LoaderFile,
		},
		AssetNames: "static/media/[name]-[hash]",
	}

	if p.target.TsConfig != "" {
		if _, err := os.Stat(p.target.TsConfig); err == nil {
			opts.Tsconfig = p.target.TsConfig
		} else {
			p.logger.Debug("tsconfig not found, using esbuild defaults", "path", p.target.TsConfig)
		}
	}

	if dev {
		opts.Sourcemap = api.SourceMapInline
	} else {
		opts.MinifyWhitespace = true
		opts.MinifyIdentifiers = true
		opts.MinifySyntax = true
	}

	switch p.target.Name {
	case config.Server:
		opts.Platform = api.PlatformNode
		opts.Format = api.FormatCommonJS
		opts.Target = api.ES2022
		opts.Packages = api.PackagesExternal
		opts.Outfile = filepath.Join(p.target.OutputDirectory, config.ServerBundle)
		// Minified identifiers make server stack traces unreadable.
		opts.MinifyIdentifiers = false
		if len(p.target.Entries) == 1 {
			opts.EntryPoints = p.target.Entries
		} else {
			opts.Stdin = serverStdin(p.target)
		}
	default:
		opts.Platform = api.PlatformBrowser
		opts.Format = api.FormatESModule
		opts.Target = api.ES2020
		opts.Splitting = true
		opts.Outdir = p.target.OutputDirectory
		opts.EntryPoints = p.target.Entries
		opts.ChunkNames = "static/js/[name]-[hash]"
		if dev {
			opts.EntryNames = "static/js/[name]"
		} else {
			opts.EntryNames = "static/js/[name]-[hash]"
		}
	}
	return opts
}

// serverStdin bundles several server entries into one file by requiring
// them in order.
func serverStdin(target config.Target) *api.StdinOptions {
	var b strings.Builder
	for _, entry := range target.Entries {
		b.WriteString("require(")
		b.WriteString(strconv.Quote(filepath.ToSlash(entry)))
		b.WriteString(");\n")
	}
	return &api.StdinOptions{
		Contents:   b.String(),
		ResolveDir: target.WorkingDirectory,
		Sourcefile: "bootz-server-entries.js",
		Loader:     api.LoaderJS,
	}
}

func (p *ESBuild) resultPlugin() api.Plugin {
	return api.Plugin{
		Name: "bootz-result",
		Setup: func(build api.PluginBuild) {
			build.OnStart(func() (api.OnStartResult, error) {
				p.mu.Lock()
				p.started = time.Now()
				p.mu.Unlock()
				return api.OnStartResult{}, nil
			})
			build.OnEnd(func(res *api.BuildResult) (api.OnEndResult, error) {
				p.finish(res)
				return api.OnEndResult{}, nil
			})
		},
	}
}

// finish converts an esbuild result, writes the client manifest and
// delivers the Result to the watcher, if any.
func (p *ESBuild) finish(res *api.BuildResult) {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()

	errs := convertMessages(res.Errors)
	warnings := convertMessages(res.Warnings)

	var outputs []string
	if res.Metafile != "" {
		meta, err := parseMetafile(res.Metafile)
		if err != nil {
			errs = append(errs, Diagnostic{Text: "invalid metafile: " + err.Error()})
		} else {
			outputs = meta.outputPaths(p.target.WorkingDirectory)
			if p.target.Name == config.Client && len(errs) == 0 {
				m := buildManifest(meta, res.Metafile, p.target)
				if err := m.Write(filepath.Join(p.target.OutputDirectory, config.ManifestFile)); err != nil {
					errs = append(errs, Diagnostic{Text: "cannot write manifest: " + err.Error()})
				}
			}
		}
	}

	result := NewResult(p.target.Name, errs, warnings, outputs, time.Since(started))

	p.mu.Lock()
	p.last = result
	cb := p.onResult
	if p.disposed {
		cb = nil
	}
	p.mu.Unlock()

	if cb != nil {
		cb(result)
	}
}

func convertMessages(msgs []api.Message) []Diagnostic {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Diagnostic, 0, len(msgs))
	for _, m := range msgs {
		d := Diagnostic{Text: m.Text}
		if m.PluginName != "" {
			d.Text = "[plugin " + m.PluginName + "] " + m.Text
		}
		if m.Location != nil {
			d.File = m.Location.File
			d.Line = m.Location.Line
			d.Column = m.Location.Column + 1
			d.LineText = m.Location.LineText
		}
		out = append(out, d)
	}
	return out
}
