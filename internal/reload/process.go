package reload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/bootz-dev/bootz/internal/config"
	"github.com/bootz-dev/bootz/internal/errors"
)

// ProcessConfig configures a ProcessLoader.
type ProcessConfig struct {
	// Runtime executes the artifact, e.g. "node". Empty runs the artifact
	// itself, as for a compiled Go server.
	Runtime string

	// Args are appended after the artifact path.
	Args []string

	// Inspect passes --inspect to the runtime.
	Inspect bool

	// Mode is exported to the process as NODE_ENV.
	Mode config.Mode

	// Dir is the process working directory.
	Dir string

	// Env is appended to the inherited environment.
	Env []string

	// InjectScript is inserted into HTML responses, before </body>.
	InjectScript string

	// StartTimeout bounds how long the process may take to accept
	// connections. Defaults to 15s.
	StartTimeout time.Duration

	// StopTimeout is the grace period between SIGTERM and SIGKILL.
	// Defaults to 5s.
	StopTimeout time.Duration

	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// ProcessLoader loads a server artifact by starting it as a child process
// listening on a private loopback port, and proxies requests to it.
type ProcessLoader struct {
	cfg ProcessConfig
}

// NewProcessLoader creates a ProcessLoader.
func NewProcessLoader(cfg ProcessConfig) *ProcessLoader {
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 15 * time.Second
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &ProcessLoader{cfg: cfg}
}

// Load starts the artifact and waits until it accepts connections.
func (l *ProcessLoader) Load(ctx context.Context, artifact string) (Module, error) {
	sum, err := fingerprint(artifact)
	if err != nil {
		return nil, errors.New("E150").WithDetail("Cannot read " + artifact).Wrap(err)
	}

	binary, args, err := l.command(artifact)
	if err != nil {
		return nil, err
	}

	port, err := freePort()
	if err != nil {
		return nil, errors.New("E150").WithDetail("No free port for the server process").Wrap(err)
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	proc, err := startProcess(binary, args, l.cfg.Dir, l.env(port), l.cfg.Stdout, l.cfg.Stderr)
	if err != nil {
		return nil, errors.New("E150").WithDetail("Cannot start " + binary).Wrap(err)
	}

	if err := waitReady(ctx, addr, proc, l.cfg.StartTimeout); err != nil {
		stopProcess(proc, l.cfg.StopTimeout)
		return nil, errors.New("E150").WithDetail("The server process did not start listening on " + addr).Wrap(err)
	}

	m := &processModule{
		artifact:    artifact,
		fingerprint: sum,
		proc:        proc,
		stopTimeout: l.cfg.StopTimeout,
	}
	m.status.Store(HotIdle)
	m.proxy = l.newProxy(addr)
	return m, nil
}

func (l *ProcessLoader) command(artifact string) (string, []string, error) {
	if l.cfg.Runtime == "" {
		return artifact, l.cfg.Args, nil
	}
	binary, err := exec.LookPath(l.cfg.Runtime)
	if err != nil {
		return "", nil, errors.New("E152").
			WithDetail("Cannot find \"" + l.cfg.Runtime + "\" in PATH").
			WithSuggestion("Install Node.js or set \"runtime\" in bootz.config").
			Wrap(err)
	}
	var args []string
	if l.cfg.Inspect {
		args = append(args, "--inspect")
	}
	args = append(args, artifact)
	args = append(args, l.cfg.Args...)
	return binary, args, nil
}

func (l *ProcessLoader) env(port int) []string {
	env := append(os.Environ(), l.cfg.Env...)
	env = append(env, "PORT="+strconv.Itoa(port))
	if l.cfg.Mode != "" {
		env = append(env, "NODE_ENV="+string(l.cfg.Mode))
	}
	if l.cfg.Mode.IsDev() {
		env = append(env, "BOOTZ_DEV=1")
	}
	return env
}

func (l *ProcessLoader) newProxy(addr string) *httputil.ReverseProxy {
	target := &url.URL{Scheme: "http", Host: addr}
	proxy := httputil.NewSingleHostReverseProxy(target)

	if script := l.cfg.InjectScript; script != "" {
		proxy.ModifyResponse = func(resp *http.Response) error {
			return injectScript(resp, script)
		}
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if l.cfg.Logger != nil {
			l.cfg.Logger.Warn("server process unreachable", "path", r.URL.Path, "error", err)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>bootz dev server</title></head>
<body style="font-family: system-ui; padding: 40px; background: #1a1a1a; color: #fff;">
<h1 style="color: #ff5555;">Server Not Responding</h1>
<p>The server process did not answer. Check your terminal for a crash or build error.</p>
%s
</body>
</html>`, l.cfg.InjectScript)
	}
	return proxy
}

// injectScript inserts script into an HTML response before </body>.
func injectScript(resp *http.Response, script string) error {
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return nil
	}
	if resp.Header.Get("Content-Encoding") != "" {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()

	html := string(body)
	if idx := strings.LastIndex(html, "</body>"); idx != -1 {
		html = html[:idx] + script + html[idx:]
	} else if idx := strings.LastIndex(html, "</html>"); idx != -1 {
		html = html[:idx] + script + html[idx:]
	} else {
		html += script
	}

	resp.Body = io.NopCloser(strings.NewReader(html))
	resp.ContentLength = int64(len(html))
	resp.Header.Set("Content-Length", strconv.Itoa(len(html)))
	return nil
}

// processModule is a server artifact running as a child process.
type processModule struct {
	artifact    string
	fingerprint uint64
	proc        *processHandle
	proxy       *httputil.ReverseProxy
	stopTimeout time.Duration
	status      atomic.Value

	closeOnce sync.Once
}

func (m *processModule) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.proxy.ServeHTTP(w, r)
}

func (m *processModule) Close() error {
	m.closeOnce.Do(func() {
		stopProcess(m.proc, m.stopTimeout)
	})
	return nil
}

// Hot reports the fingerprint-based hot capability. A child process cannot
// be patched in place, so any change aborts and forces a full reload.
func (m *processModule) Hot() (HotUpdater, bool) {
	return m, true
}

func (m *processModule) Status() HotStatus {
	return m.status.Load().(HotStatus)
}

func (m *processModule) Check(ctx context.Context) ([]string, error) {
	m.status.Store(HotCheck)
	select {
	case <-m.proc.done:
		m.status.Store(HotFail)
		return nil, fmt.Errorf("server process exited: %v", m.proc.err)
	default:
	}

	sum, err := fingerprint(m.artifact)
	if err != nil {
		m.status.Store(HotFail)
		return nil, err
	}
	if sum == m.fingerprint {
		m.status.Store(HotIdle)
		return nil, nil
	}
	m.status.Store(HotAbort)
	return []string{m.artifact}, nil
}

func (m *processModule) Apply(ctx context.Context, updated []string) error {
	m.status.Store(HotFail)
	return fmt.Errorf("a running server process cannot apply %d updated modules in place", len(updated))
}

func fingerprint(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// waitReady polls addr until it accepts a connection, the process exits,
// ctx is cancelled or timeout elapses.
func waitReady(ctx context.Context, addr string, proc *processHandle, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-proc.done:
			return fmt.Errorf("process exited before listening: %v", proc.err)
		case <-deadline.C:
			return fmt.Errorf("timed out after %s", timeout)
		case <-tick.C:
		}
	}
}
