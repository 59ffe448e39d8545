package toolchain_test

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/bootz-dev/bootz/internal/config"
	bootzerrors "github.com/bootz-dev/bootz/internal/errors"
	"github.com/bootz-dev/bootz/internal/logging"
	"github.com/bootz-dev/bootz/internal/pipeline"
	"github.com/bootz-dev/bootz/internal/pipeline/mocks"
	"github.com/bootz-dev/bootz/internal/pipeline/pipelinetest"
	"github.com/bootz-dev/bootz/internal/toolchain"
)

func testOptions(t *testing.T) *config.BuildOptions {
	t.Helper()
	opts := config.Default()
	opts.WorkingDirectory = t.TempDir()
	opts.Host = "127.0.0.1"
	b, err := opts.Resolve()
	require.NoError(t, err)
	return b
}

// events records the order in which collaborators are used.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, s)
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

func factoryOf(ev *events, pipelines map[config.TargetName]pipeline.Pipeline) pipeline.Factory {
	return func(target config.Target, _ *config.BuildOptions) (pipeline.Pipeline, error) {
		ev.add("new " + string(target.Name))
		return pipelines[target.Name], nil
	}
}

func TestBuild_ClientThenServer(t *testing.T) {
	ctrl := gomock.NewController(t)
	ev := &events{}
	client := mocks.NewMockPipeline(ctrl)
	server := mocks.NewMockPipeline(ctrl)

	gomock.InOrder(
		client.EXPECT().RunOnce(gomock.Any()).DoAndReturn(func(context.Context) (pipeline.Result, error) {
			ev.add("run client")
			return pipelinetest.Success(config.Client), nil
		}),
		server.EXPECT().RunOnce(gomock.Any()).DoAndReturn(func(context.Context) (pipeline.Result, error) {
			ev.add("run server")
			return pipelinetest.Success(config.Server), nil
		}),
	)

	var cleaned []string
	tc := toolchain.New(toolchain.Deps{
		Pipelines: factoryOf(ev, map[config.TargetName]pipeline.Pipeline{config.Client: client, config.Server: server}),
		Clean: func(dir string) error {
			ev.add("clean")
			cleaned = append(cleaned, dir)
			return nil
		},
		Logger: logging.Discard(),
	})

	opts := testOptions(t)
	report, err := tc.Build(t.Context(), opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"clean", "new client", "run client", "new server", "run server"}, ev.all())
	assert.Equal(t, []string{opts.OutputDirectory}, cleaned)
	assert.False(t, report.Failed())
}

func TestBuild_ClientFailureStillBuildsServer(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockPipeline(ctrl)
	server := mocks.NewMockPipeline(ctrl)

	gomock.InOrder(
		client.EXPECT().RunOnce(gomock.Any()).Return(pipelinetest.Failure(config.Client, "Unexpected \";\""), nil),
		server.EXPECT().RunOnce(gomock.Any()).Return(pipelinetest.Success(config.Server), nil),
	)

	tc := toolchain.New(toolchain.Deps{
		Pipelines: factoryOf(&events{}, map[config.TargetName]pipeline.Pipeline{config.Client: client, config.Server: server}),
		Clean:     func(string) error { return nil },
	})

	report, err := tc.Build(t.Context(), testOptions(t))
	require.NoError(t, err, "compile errors are not returned")
	assert.True(t, report.Failed())
	assert.True(t, report.Client.HasErrors())
	assert.False(t, report.Server.HasErrors())
}

func TestBuild_PipelineBreakdownIsReported(t *testing.T) {
	client := pipelinetest.New(config.Client).FailRun(stderrors.New("esbuild crashed"))
	server := pipelinetest.New(config.Server)

	tc := toolchain.New(toolchain.Deps{
		Pipelines: factoryOf(&events{}, map[config.TargetName]pipeline.Pipeline{config.Client: client, config.Server: server}),
		Clean:     func(string) error { return nil },
	})

	report, err := tc.Build(t.Context(), testOptions(t))
	require.NoError(t, err)
	assert.True(t, report.Client.HasErrors())
	assert.Contains(t, report.Client.Diagnostics(), "esbuild crashed")
	assert.Equal(t, 1, server.Runs())
}

func TestBuild_ForcesProduction(t *testing.T) {
	var modes []config.Mode
	tc := toolchain.New(toolchain.Deps{
		Pipelines: func(target config.Target, opts *config.BuildOptions) (pipeline.Pipeline, error) {
			modes = append(modes, target.Mode, opts.Mode)
			return pipelinetest.New(target.Name), nil
		},
		Clean: func(string) error { return nil },
	})

	opts := testOptions(t).WithMode(config.Development)
	_, err := tc.Build(t.Context(), opts)
	require.NoError(t, err)

	for _, m := range modes {
		assert.Equal(t, config.Production, m)
	}
	assert.Equal(t, config.Development, opts.Mode, "caller options are not modified")
}

func TestBuild_EmptyClientEntries(t *testing.T) {
	tc := toolchain.New(toolchain.Deps{
		Pipelines: func(config.Target, *config.BuildOptions) (pipeline.Pipeline, error) {
			t.Fatal("no pipeline may be constructed")
			return nil, nil
		},
		Clean: func(string) error {
			t.Fatal("the output directory must not be cleared")
			return nil
		},
	})

	opts := testOptions(t)
	opts.Client.Entries = []string{}
	opts.Server.Entries = []string{filepath.Join(opts.WorkingDirectory, "srv")}

	_, err := tc.Build(t.Context(), opts)
	require.Error(t, err)
	assert.Equal(t, "E100", bootzerrors.Code(err))
	assert.True(t, bootzerrors.IsConfig(err))
}

func TestBuild_CleanFailure(t *testing.T) {
	tc := toolchain.New(toolchain.Deps{
		Pipelines: func(config.Target, *config.BuildOptions) (pipeline.Pipeline, error) {
			t.Fatal("no pipeline may be constructed")
			return nil, nil
		},
		Clean: func(string) error { return os.ErrPermission },
	})

	_, err := tc.Build(t.Context(), testOptions(t))
	require.Error(t, err)
	assert.Equal(t, "E130", bootzerrors.Code(err))
	assert.True(t, bootzerrors.IsFatal(err))
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestBuild_InitFailure(t *testing.T) {
	tc := toolchain.New(toolchain.Deps{
		Pipelines: func(target config.Target, _ *config.BuildOptions) (pipeline.Pipeline, error) {
			if target.Name == config.Server {
				return nil, bootzerrors.New("E110").WithDetail("no compiler")
			}
			return pipelinetest.New(target.Name), nil
		},
		Clean: func(string) error { return nil },
	})

	_, err := tc.Build(t.Context(), testOptions(t))
	require.Error(t, err)
	assert.Equal(t, "E110", bootzerrors.Code(err))
	assert.True(t, bootzerrors.IsFatal(err))
}

func TestBuild_CleansRealDirectory(t *testing.T) {
	opts := testOptions(t)
	stale := filepath.Join(opts.OutputDirectory, "stale.js")
	require.NoError(t, os.MkdirAll(opts.OutputDirectory, 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	tc := toolchain.New(toolchain.Deps{
		Pipelines: func(target config.Target, _ *config.BuildOptions) (pipeline.Pipeline, error) {
			return pipelinetest.New(target.Name), nil
		},
	})

	_, err := tc.Build(t.Context(), opts)
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
	assert.DirExists(t, opts.OutputDirectory)
}

func TestBuild_ReleasesPipelines(t *testing.T) {
	client := pipelinetest.New(config.Client)
	server := pipelinetest.New(config.Server).FailRun(stderrors.New("esbuild crashed"))

	tc := toolchain.New(toolchain.Deps{
		Pipelines: factoryOf(&events{}, map[config.TargetName]pipeline.Pipeline{config.Client: client, config.Server: server}),
		Clean:     func(string) error { return nil },
	})

	_, err := tc.Build(t.Context(), testOptions(t))
	require.NoError(t, err)
	assert.True(t, client.Disposed())
	assert.True(t, server.Disposed(), "a broken run still releases its pipeline")
}

func TestBuild_RefusesToClearProject(t *testing.T) {
	for name, output := range map[string]func(wd string) string{
		"project directory": func(wd string) string { return wd },
		"parent directory":  func(wd string) string { return filepath.Dir(wd) },
	} {
		t.Run(name, func(t *testing.T) {
			tc := toolchain.New(toolchain.Deps{
				Pipelines: func(config.Target, *config.BuildOptions) (pipeline.Pipeline, error) {
					t.Fatal("no pipeline may be constructed")
					return nil, nil
				},
			})

			opts := testOptions(t)
			source := filepath.Join(opts.WorkingDirectory, "src", "index.tsx")
			require.NoError(t, os.MkdirAll(filepath.Dir(source), 0o755))
			require.NoError(t, os.WriteFile(source, []byte("export {}"), 0o644))
			opts.OutputDirectory = output(opts.WorkingDirectory)

			_, err := tc.Build(t.Context(), opts)
			require.Error(t, err)
			assert.Equal(t, "E103", bootzerrors.Code(err))
			assert.FileExists(t, source)
		})
	}
}
