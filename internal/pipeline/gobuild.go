package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bootz-dev/bootz/internal/config"
)

// GoBuildConfig configures the go build server pipeline.
type GoBuildConfig struct {
	// Tags are build tags to pass to go build.
	Tags []string

	// LDFlags are linker flags to pass to go build.
	LDFlags string

	// Ignore are extra watcher ignore patterns.
	Ignore []string

	// CachePath is the GOCACHE used for builds. Defaults to .bootz/cache
	// under the working directory.
	CachePath string

	// Env are additional environment variables.
	Env []string

	// Debounce is the watcher quiet period.
	Debounce time.Duration
}

// GoBuild compiles a Go server into a single binary at the output root.
type GoBuild struct {
	target config.Target
	config GoBuildConfig
	logger *slog.Logger
	goBin  string

	runMu sync.Mutex
}

// NewGoBuild creates the go build pipeline. A missing go toolchain is a
// pipeline initialization failure.
func NewGoBuild(target config.Target, cfg GoBuildConfig, logger *slog.Logger) (*GoBuild, error) {
	if len(target.Entries) == 0 {
		return nil, initError(target, "no entry points", nil)
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		return nil, initError(target, "the go toolchain was not found in PATH", err)
	}
	if cfg.CachePath == "" {
		cfg.CachePath = filepath.Join(target.WorkingDirectory, ".bootz", "cache")
	}

	return &GoBuild{
		target: target,
		config: cfg,
		logger: logger.With("component", "gobuild", "target", string(target.Name)),
		goBin:  goBin,
	}, nil
}

// Name returns the target name.
func (p *GoBuild) Name() config.TargetName { return p.target.Name }

// BinaryPath returns where the compiled server is written.
func (p *GoBuild) BinaryPath() string {
	return filepath.Join(p.target.OutputDirectory, config.GoServerBinary)
}

// RunOnce compiles the server. Runs are serialized.
func (p *GoBuild) RunOnce(ctx context.Context) (Result, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	start := time.Now()
	failed := func(text string) (Result, error) {
		return NewResult(p.target.Name, []Diagnostic{{Text: text}}, nil, nil, time.Since(start)), nil
	}

	if err := os.MkdirAll(p.target.OutputDirectory, 0o755); err != nil {
		return failed("cannot create output directory: " + err.Error())
	}
	if err := os.MkdirAll(p.config.CachePath, 0o755); err != nil {
		return failed("cannot create build cache: " + err.Error())
	}

	cmd := exec.CommandContext(ctx, p.goBin, p.args()...)
	cmd.Dir = p.target.WorkingDirectory
	cmd.Env = append(os.Environ(), "GOCACHE="+p.config.CachePath)
	cmd.Env = append(cmd.Env, p.config.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	output := stderr.String()
	if output == "" {
		output = stdout.String()
	}

	if err != nil {
		errs := parseGoDiagnostics(output, p.target.WorkingDirectory)
		if len(errs) == 0 {
			errs = []Diagnostic{{Text: strings.TrimSpace(output + "\n" + err.Error())}}
		}
		return NewResult(p.target.Name, errs, nil, nil, time.Since(start)), nil
	}

	return NewResult(p.target.Name, nil, nil, []string{p.BinaryPath()}, time.Since(start)), nil
}

func (p *GoBuild) args() []string {
	args := []string{"build", "-o", p.BinaryPath()}
	if len(p.config.Tags) > 0 {
		args = append(args, "-tags", strings.Join(p.config.Tags, ","))
	}
	if p.config.LDFlags != "" {
		args = append(args, "-ldflags", p.config.LDFlags)
	}
	if p.target.Mode.IsDev() && p.target.Inspect {
		// Keep the binary debuggable by delve.
		args = append(args, "-gcflags=all=-N -l")
	}
	for _, entry := range p.target.Entries {
		args = append(args, packagePath(p.target.WorkingDirectory, entry))
	}
	return args
}

// packagePath turns an absolute entry inside wd into a ./relative package
// path go build accepts.
func packagePath(wd, entry string) string {
	rel, err := filepath.Rel(wd, entry)
	if err != nil || strings.HasPrefix(rel, "..") {
		return entry
	}
	if rel == "." {
		return "."
	}
	return "./" + filepath.ToSlash(rel)
}

// Watch builds once, then rebuilds whenever Go sources change.
func (p *GoBuild) Watch(ctx context.Context, onResult func(Result)) (WatchHandle, error) {
	wctx, cancel := context.WithCancel(ctx)
	h := &goWatch{cancel: cancel, done: make(chan struct{})}

	trigger := make(chan struct{}, 1)
	w, err := NewWatcher(WatcherConfig{
		Root:     p.target.WorkingDirectory,
		Ignore:   slices.Concat(p.config.Ignore, p.outputIgnore()),
		Debounce: p.config.Debounce,
		Match:    isGoSource,
	}, func(paths []string) {
		p.logger.Debug("sources changed", "files", len(paths))
		select {
		case trigger <- struct{}{}:
		default:
		}
	}, p.logger)
	if err != nil {
		cancel()
		return nil, initError(p.target, "cannot create file watcher", err)
	}
	if err := w.Start(wctx); err != nil {
		cancel()
		_ = w.Close()
		return nil, initError(p.target, "cannot watch "+p.target.WorkingDirectory, err)
	}
	h.watcher = w

	go func() {
		defer close(h.done)
		run := func() {
			res, err := p.RunOnce(wctx)
			if err != nil || wctx.Err() != nil {
				return
			}
			onResult(res)
		}

		run()
		for {
			select {
			case <-wctx.Done():
				return
			case <-trigger:
				run()
			}
		}
	}()

	return h, nil
}

// outputIgnore keeps the watcher from reacting to its own output.
func (p *GoBuild) outputIgnore() []string {
	var ignore []string
	for _, dir := range []string{p.target.OutputDirectory, p.config.CachePath} {
		rel, err := filepath.Rel(p.target.WorkingDirectory, dir)
		if err == nil && !strings.HasPrefix(rel, "..") && rel != "." {
			ignore = append(ignore, filepath.ToSlash(rel))
		}
	}
	return ignore
}

type goWatch struct {
	cancel  context.CancelFunc
	watcher *Watcher
	done    chan struct{}
	once    sync.Once
}

func (h *goWatch) Dispose() {
	h.once.Do(func() {
		h.cancel()
		_ = h.watcher.Close()
		<-h.done
	})
}

func isGoSource(path string) bool {
	switch filepath.Base(path) {
	case "go.mod", "go.sum", "go.work":
		return true
	}
	return strings.HasSuffix(path, ".go") && !strings.HasSuffix(path, "_test.go")
}

var goDiagnosticRe = regexp.MustCompile(`^(.+?\.go):(\d+)(?::(\d+))?: (.*)$`)

// parseGoDiagnostics extracts file:line:col messages from go build output.
func parseGoDiagnostics(output, wd string) []Diagnostic {
	var diags []Diagnostic
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		m := goDiagnosticRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		file := m[1]
		if !filepath.IsAbs(file) {
			file = filepath.Join(wd, file)
		}
		d := Diagnostic{File: file, Text: m[4]}
		d.Line, _ = strconv.Atoi(m[2])
		if m[3] != "" {
			d.Column, _ = strconv.Atoi(m[3])
		}
		diags = append(diags, d)
	}
	return diags
}
