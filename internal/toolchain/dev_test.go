package toolchain_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/bootz-dev/bootz/internal/config"
	bootzerrors "github.com/bootz-dev/bootz/internal/errors"
	"github.com/bootz-dev/bootz/internal/logging"
	"github.com/bootz-dev/bootz/internal/pipeline"
	"github.com/bootz-dev/bootz/internal/pipeline/mocks"
	"github.com/bootz-dev/bootz/internal/pipeline/pipelinetest"
	"github.com/bootz-dev/bootz/internal/reload"
	"github.com/bootz-dev/bootz/internal/reload/reloadtest"
	"github.com/bootz-dev/bootz/internal/toolchain"
)

const waitFor = 2 * time.Second

// devHarness runs StartDevServer against fake pipelines and a fake loader.
type devHarness struct {
	tc       *toolchain.Toolchain
	client   *pipelinetest.Fake
	server   *pipelinetest.Fake
	loader   *reloadtest.Loader
	listened atomic.Bool
	cancel   context.CancelFunc
	done     chan error
}

func startDev(t *testing.T, loader *reloadtest.Loader) *devHarness {
	t.Helper()
	h := &devHarness{
		client: pipelinetest.New(config.Client),
		server: pipelinetest.New(config.Server),
		loader: loader,
		done:   make(chan error, 1),
	}
	h.tc = toolchain.New(toolchain.Deps{
		Pipelines: func(target config.Target, _ *config.BuildOptions) (pipeline.Pipeline, error) {
			if target.Name == config.Client {
				return h.client, nil
			}
			return h.server, nil
		},
		Loader: func(*config.BuildOptions, string, *slog.Logger) reload.Loader { return h.loader },
		Listen: func(network, _ string) (net.Listener, error) {
			h.listened.Store(true)
			return net.Listen(network, "127.0.0.1:0")
		},
		Clean:  func(string) error { return nil },
		Logger: logging.Discard(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.tc.StartDevServer(ctx, testOptions(t)) }()
	t.Cleanup(func() { h.stop(t) })

	require.True(t, h.client.WaitWatching(waitFor))
	require.True(t, h.server.WaitWatching(waitFor))
	return h
}

func (h *devHarness) stop(t *testing.T) {
	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("StartDevServer did not return after cancellation")
	}
}

func (h *devHarness) waitListening(t *testing.T) string {
	t.Helper()
	require.Eventually(t, func() bool { return h.tc.Status().Listening }, waitFor, 5*time.Millisecond)
	return "http://" + h.tc.Status().Address
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestStartDevServer_ListenerWaitsForBothPipelines(t *testing.T) {
	h := startDev(t, reloadtest.NewLoader().Queue(reloadtest.NewModule("v1")))

	h.client.Emit(pipelinetest.Failure(config.Client, "syntax error"))
	h.server.Emit(pipelinetest.Success(config.Server))
	assert.Never(t, h.listened.Load, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 0, h.loader.Loads())

	st := h.tc.Status()
	assert.True(t, st.Running)
	assert.False(t, st.ClientReady)
	assert.True(t, st.ServerReady)

	h.client.Emit(pipelinetest.Success(config.Client))
	base := h.waitListening(t)
	assert.Equal(t, 1, h.loader.Loads())

	code, body := httpGet(t, base+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v1", body)
}

func TestStartDevServer_ZeroUpdatesKeepsHandle(t *testing.T) {
	checked := make(chan struct{}, 1)
	first := reloadtest.NewModule("v1").OnCheck(func() { checked <- struct{}{} })
	h := startDev(t, reloadtest.NewLoader().Queue(first))

	h.client.Emit(pipelinetest.Success(config.Client))
	h.server.Emit(pipelinetest.Success(config.Server))
	base := h.waitListening(t)

	h.server.Emit(pipelinetest.Success(config.Server))
	select {
	case <-checked:
	case <-time.After(waitFor):
		t.Fatal("no hot-update check after a server recompile")
	}

	require.Eventually(t, func() bool { return h.tc.Status().HotState == reload.Idle.String() },
		waitFor, 5*time.Millisecond)
	st := h.tc.Status()
	assert.Equal(t, uint64(1), st.ModuleVersion)
	assert.Equal(t, 1, h.loader.Loads())
	assert.False(t, first.Closed())

	code, body := httpGet(t, base+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v1", body)
}

func TestStartDevServer_ClientErrorDoesNotBlockServerUpdates(t *testing.T) {
	checked := make(chan struct{}, 1)
	first := reloadtest.NewModule("v1").OnCheck(func() { checked <- struct{}{} })
	h := startDev(t, reloadtest.NewLoader().Queue(first))

	h.client.Emit(pipelinetest.Success(config.Client))
	h.server.Emit(pipelinetest.Success(config.Server))
	h.waitListening(t)

	h.client.Emit(pipelinetest.Failure(config.Client, "Unexpected end of file"))
	h.server.Emit(pipelinetest.Success(config.Server))

	select {
	case <-checked:
	case <-time.After(waitFor):
		t.Fatal("client failure blocked the server hot-update cycle")
	}
}

func TestStartDevServer_FullReloadOnFailedCheck(t *testing.T) {
	first := reloadtest.NewModule("v1").WithStatus(reload.HotAbort)
	h := startDev(t, reloadtest.NewLoader().Queue(first, reloadtest.NewModule("v2")))

	h.client.Emit(pipelinetest.Success(config.Client))
	h.server.Emit(pipelinetest.Success(config.Server))
	base := h.waitListening(t)

	h.server.Emit(pipelinetest.Success(config.Server))
	require.Eventually(t, func() bool { return h.tc.Status().ModuleVersion == 2 }, waitFor, 5*time.Millisecond)

	_, body := httpGet(t, base+"/")
	assert.Equal(t, "v2", body)
	require.Eventually(t, first.Closed, waitFor, 5*time.Millisecond)
}

func TestStartDevServer_BuildDuringInitialLoad(t *testing.T) {
	loading := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }

	first := reloadtest.NewModule("v1").WithStatus(reload.HotAbort)
	loader := reloadtest.NewLoader().Queue(first, reloadtest.NewModule("v2"))
	loader.BeforeLoad = func(n int) {
		if n == 1 {
			close(loading)
			<-release
		}
	}
	h := startDev(t, loader)
	t.Cleanup(unblock)

	h.client.Emit(pipelinetest.Success(config.Client))
	h.server.Emit(pipelinetest.Success(config.Server))
	select {
	case <-loading:
	case <-time.After(waitFor):
		t.Fatal("initial load did not start")
	}

	// This build is newer than the artifact being loaded.
	h.server.Emit(pipelinetest.Success(config.Server))
	unblock()

	base := h.waitListening(t)
	require.Eventually(t, func() bool { return h.tc.Status().ModuleVersion == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 2, h.loader.Loads())

	_, body := httpGet(t, base+"/")
	assert.Equal(t, "v2", body)
}

func TestStartDevServer_InitialLoadFailure(t *testing.T) {
	h := startDev(t, reloadtest.NewLoader().
		QueueError(bootzerrors.New("E150")).
		Queue(reloadtest.NewModule("v2")))

	h.client.Emit(pipelinetest.Success(config.Client))
	h.server.Emit(pipelinetest.Success(config.Server))
	base := h.waitListening(t)

	code, _ := httpGet(t, base+"/")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	// The next successful server build loads the module.
	h.server.Emit(pipelinetest.Success(config.Server))
	require.Eventually(t, func() bool { return h.tc.Status().ModuleVersion == 1 }, waitFor, 5*time.Millisecond)

	code, body := httpGet(t, base+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v2", body)
}

func TestStartDevServer_StatusEndpoint(t *testing.T) {
	h := startDev(t, reloadtest.NewLoader())
	h.client.Emit(pipelinetest.Success(config.Client))
	h.server.Emit(pipelinetest.Success(config.Server))
	base := h.waitListening(t)

	resp, err := http.Get(base + "/__bootz/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var st toolchain.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.True(t, st.Running)
	assert.True(t, st.Listening)
	assert.Equal(t, uint64(1), st.ModuleVersion)
	assert.Equal(t, "idle", st.HotState)
}

func TestStartDevServer_CancelBeforeReady(t *testing.T) {
	h := startDev(t, reloadtest.NewLoader())
	h.client.Emit(pipelinetest.Success(config.Client))

	h.cancel()
	select {
	case err := <-h.done:
		h.done <- err
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("StartDevServer did not return")
	}
	assert.False(t, h.listened.Load())
	assert.True(t, h.client.Disposed())
	assert.True(t, h.server.Disposed())
	assert.Equal(t, toolchain.Status{}, h.tc.Status())
}

func TestStartDevServer_DisposesWatchesOnShutdown(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockPipeline(ctrl)
	server := mocks.NewMockPipeline(ctrl)
	clientHandle := mocks.NewMockWatchHandle(ctrl)
	serverHandle := mocks.NewMockWatchHandle(ctrl)

	onServer := make(chan func(pipeline.Result), 1)
	client.EXPECT().Watch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cb func(pipeline.Result)) (pipeline.WatchHandle, error) {
			cb(pipelinetest.Success(config.Client))
			return clientHandle, nil
		})
	server.EXPECT().Watch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cb func(pipeline.Result)) (pipeline.WatchHandle, error) {
			onServer <- cb
			return serverHandle, nil
		})
	gomock.InOrder(
		serverHandle.EXPECT().Dispose(),
		clientHandle.EXPECT().Dispose(),
	)

	tc := toolchain.New(toolchain.Deps{
		Pipelines: func(target config.Target, _ *config.BuildOptions) (pipeline.Pipeline, error) {
			if target.Name == config.Client {
				return client, nil
			}
			return server, nil
		},
		Loader: func(*config.BuildOptions, string, *slog.Logger) reload.Loader { return reloadtest.NewLoader() },
		Listen: func(network, _ string) (net.Listener, error) { return net.Listen(network, "127.0.0.1:0") },
		Clean:  func(string) error { return nil },
	})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- tc.StartDevServer(ctx, testOptions(t)) }()

	select {
	case cb := <-onServer:
		cb(pipelinetest.Success(config.Server))
	case <-time.After(waitFor):
		t.Fatal("server pipeline not watched")
	}
	assert.True(t, tc.Status().ClientReady)
	require.Eventually(t, func() bool { return tc.Status().Listening }, waitFor, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("StartDevServer did not return")
	}
}

func TestStartDevServer_ListenFailure(t *testing.T) {
	tc := toolchain.New(toolchain.Deps{
		Pipelines: func(target config.Target, _ *config.BuildOptions) (pipeline.Pipeline, error) {
			f := pipelinetest.New(target.Name)
			go func() {
				if f.WaitWatching(waitFor) {
					f.Emit(pipelinetest.Success(target.Name))
				}
			}()
			return f, nil
		},
		Loader: func(*config.BuildOptions, string, *slog.Logger) reload.Loader { return reloadtest.NewLoader() },
		Listen: func(string, string) (net.Listener, error) { return nil, stderrors.New("address already in use") },
		Clean:  func(string) error { return nil },
	})

	err := tc.StartDevServer(t.Context(), testOptions(t))
	require.Error(t, err)
	assert.Equal(t, "E170", bootzerrors.Code(err))
	assert.True(t, bootzerrors.IsFatal(err))
}

func TestStartDevServer_InitFailure(t *testing.T) {
	tc := toolchain.New(toolchain.Deps{
		Pipelines: func(target config.Target, _ *config.BuildOptions) (pipeline.Pipeline, error) {
			if target.Name == config.Server {
				return nil, bootzerrors.New("E110")
			}
			return pipelinetest.New(target.Name), nil
		},
		Clean: func(string) error { return nil },
	})

	err := tc.StartDevServer(t.Context(), testOptions(t))
	assert.Equal(t, "E110", bootzerrors.Code(err))
}
