package toolchain

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bootz-dev/bootz/internal/bridge"
	"github.com/bootz-dev/bootz/internal/config"
	"github.com/bootz-dev/bootz/internal/dev"
	"github.com/bootz-dev/bootz/internal/errors"
	"github.com/bootz-dev/bootz/internal/pipeline"
	"github.com/bootz-dev/bootz/internal/reload"
)

const shutdownTimeout = 5 * time.Second

// readySignal is resolved by the first error-free run of a pipeline.
type readySignal struct {
	once sync.Once
	ch   chan struct{}
}

func newReadySignal() *readySignal {
	return &readySignal{ch: make(chan struct{})}
}

// resolve reports whether this call resolved the signal.
func (s *readySignal) resolve() bool {
	first := false
	s.once.Do(func() {
		close(s.ch)
		first = true
	})
	return first
}

func (s *readySignal) resolved() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

func (s *readySignal) wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// devSession is the state of one StartDevServer invocation.
type devSession struct {
	t        *Toolchain
	opts     *config.BuildOptions
	logger   *slog.Logger
	hub      *dev.ReloadHub
	reloader *reload.Reloader

	clientReady *readySignal
	serverReady *readySignal
	loaded      atomic.Bool
	pending     atomic.Bool
	started     atomic.Bool
	addr        atomic.Value

	// ctx scopes hot-update cycles; cycles is waited for on shutdown.
	ctx    context.Context
	cycles sync.WaitGroup
}

// StartDevServer compiles both targets in watch mode and, once each has
// produced an error-free run, loads the server module and starts the dev
// listener. Successful server recompiles drive hot-update cycles; client
// recompiles reload connected browsers. It blocks until ctx is cancelled
// and returns nil on a clean shutdown.
func (t *Toolchain) StartDevServer(ctx context.Context, opts *config.BuildOptions) error {
	opts = opts.WithMode(config.Development)
	if err := t.prepare(opts); err != nil {
		return err
	}

	client, err := t.newPipeline(opts.Client, opts)
	if err != nil {
		return err
	}
	server, err := t.newPipeline(opts.Server, opts)
	if err != nil {
		return err
	}

	s := &devSession{
		t:           t,
		opts:        opts,
		logger:      t.logger,
		hub:         dev.NewReloadHub(t.logger),
		clientReady: newReadySignal(),
		serverReady: newReadySignal(),
		ctx:         ctx,
	}
	s.reloader = reload.NewReloader(reload.Config{
		Loader:   t.loader(opts, dev.ClientScript, t.logger),
		Artifact: opts.ServerArtifact(),
		Logger:   t.logger,
		Metrics:  t.metrics,
		OnReload: func(*reload.Handle) { s.hub.NotifyReload() },
	})
	t.session.Store(s)
	defer t.session.CompareAndSwap(s, nil)

	watchCtx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()

	// Both pipelines start right away; neither waits for the other.
	clientWatch, err := client.Watch(watchCtx, s.onClient)
	if err != nil {
		return t.watchFailed(opts.Client, err)
	}
	serverWatch, err := server.Watch(watchCtx, s.onServer)
	if err != nil {
		clientWatch.Dispose()
		return t.watchFailed(opts.Server, err)
	}
	defer func() {
		serverWatch.Dispose()
		clientWatch.Dispose()
		s.cycles.Wait()
		s.hub.Close()
		s.reloader.Close()
	}()

	t.logger.Info("Starting development server", "output", opts.OutputDirectory)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.clientReady.wait(gctx) })
	g.Go(func() error { return s.serverReady.wait(gctx) })
	if err := g.Wait(); err != nil {
		return nil
	}

	if err := s.reloader.LoadInitial(ctx); err != nil {
		t.logger.Error("failed to reload server", "error", err)
	}
	// A server build that finished while the initial load ran gets one
	// cycle now.
	s.loaded.Store(true)
	if s.pending.Swap(false) {
		s.startCycle()
	}

	ln, err := t.listen("tcp", opts.Address())
	if err != nil {
		err = errors.New("E170").
			WithDetail("Cannot listen on " + opts.Address()).
			WithSuggestion("Choose another port with --port").
			Wrap(err)
		t.logger.Error("failed to start listener", "error", err)
		return err
	}

	srv := &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	s.addr.Store(ln.Addr().String())
	s.started.Store(true)
	t.logger.Info("Development server listening on " + listenURL(opts, ln.Addr()))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			t.logger.Error("dev listener stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		t.logger.Warn("dev listener shutdown", "error", err)
	}
	t.logger.Info("Development server stopped")
	return nil
}

func (t *Toolchain) watchFailed(target config.Target, err error) error {
	err = errors.FromError(err, "E110")
	t.logger.Error("failed to start watching", "target", target.Name, "error", err)
	return err
}

func (s *devSession) router() http.Handler {
	return dev.NewRouter(dev.RouterConfig{
		StaticDir: s.opts.StaticDir(),
		Hub:       s.hub,
		Metrics:   s.t.metrics.Handler(),
		Status:    func() any { return s.status() },
		Fallback:  bridge.New(s.reloader.Registry(), s.logger, s.t.metrics),
	})
}

func (s *devSession) onClient(res pipeline.Result) {
	s.observe(res)
	if res.HasErrors() {
		return
	}
	if s.clientReady.resolve() {
		return
	}
	if s.started.Load() {
		s.hub.NotifyReload()
	}
}

func (s *devSession) onServer(res pipeline.Result) {
	s.observe(res)
	if res.HasErrors() {
		return
	}
	if s.serverReady.resolve() {
		return
	}
	s.pending.Store(true)
	if !s.loaded.Load() || !s.pending.Swap(false) {
		return
	}
	s.startCycle()
}

func (s *devSession) startCycle() {
	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		if s.reloader.HotUpdateCycle(s.ctx) == reload.OutcomeApplied {
			s.hub.NotifyReload()
		}
	}()
}

// observe logs a finished run and keeps the browser overlay in sync.
func (s *devSession) observe(res pipeline.Result) {
	s.t.report(res)

	if res.HasErrors() {
		s.hub.NotifyError(string(res.Target()), res.Diagnostics())
	} else {
		s.hub.ClearError(string(res.Target()))
	}
}

func listenURL(opts *config.BuildOptions, addr net.Addr) string {
	shown := *opts
	if tcp, ok := addr.(*net.TCPAddr); ok {
		shown.Port = tcp.Port
	}
	return shown.URL()
}
