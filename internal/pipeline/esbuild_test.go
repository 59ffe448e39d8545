package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bootz-dev/bootz/internal/config"
	"github.com/bootz-dev/bootz/internal/errors"
	"github.com/bootz-dev/bootz/internal/logging"
)

func writeSource(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func esbuildTarget(dir string, name config.TargetName, mode config.Mode, entries ...string) config.Target {
	abs := make([]string, len(entries))
	for i, e := range entries {
		abs[i] = filepath.Join(dir, e)
	}
	return config.Target{
		Name:             name,
		Entries:          abs,
		OutputDirectory:  filepath.Join(dir, "dist"),
		WorkingDirectory: dir,
		Mode:             mode,
		TsConfig:         filepath.Join(dir, "tsconfig.json"),
	}
}

func TestESBuild_Client(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, filepath.Join(dir, "src/client/index.ts"), `
import { greet } from "./greet";
document.body.textContent = greet("bootz");
import("./lazy").then(m => m.run());
`)
	writeSource(t, filepath.Join(dir, "src/client/greet.ts"), `export const greet = (n: string) => "hello " + n;`)
	writeSource(t, filepath.Join(dir, "src/client/lazy.ts"), `export function run() { console.log(process.env.NODE_ENV); }`)

	p, err := NewESBuild(esbuildTarget(dir, config.Client, config.Development, "src/client/index.ts"), logging.Discard())
	require.NoError(t, err)
	defer p.Dispose()

	res, err := p.RunOnce(t.Context())
	require.NoError(t, err)
	require.False(t, res.HasErrors(), res.Diagnostics())

	assert.FileExists(t, filepath.Join(dir, "dist/static/js/index.js"))
	assert.NotEmpty(t, res.Outputs())

	m, err := ReadManifest(filepath.Join(dir, "dist", config.ManifestFile))
	require.NoError(t, err)
	require.Contains(t, m.Entries, "src/client/index.ts")
	assert.Equal(t, "static/js/index.js", m.Entries["src/client/index.ts"].JS)
	assert.GreaterOrEqual(t, len(m.Chunks), 2, "lazy import is split into its own chunk")
}

func TestESBuild_ClientProductionHashesNames(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, filepath.Join(dir, "src/index.ts"), `console.log("prod")`)

	p, err := NewESBuild(esbuildTarget(dir, config.Client, config.Production, "src/index.ts"), logging.Discard())
	require.NoError(t, err)
	defer p.Dispose()

	res, err := p.RunOnce(t.Context())
	require.NoError(t, err)
	require.False(t, res.HasErrors(), res.Diagnostics())

	m, err := ReadManifest(filepath.Join(dir, "dist", config.ManifestFile))
	require.NoError(t, err)
	assert.Regexp(t, `^static/js/index-[A-Z0-9]+\.js$`, m.Entries["src/index.ts"].JS)
}

func TestESBuild_Server(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, filepath.Join(dir, "src/server/index.ts"), `
import http from "http";
const port: number = Number(process.env.PORT || 3000);
http.createServer((_, res) => res.end("ok")).listen(port);
`)

	p, err := NewESBuild(esbuildTarget(dir, config.Server, config.Development, "src/server/index.ts"), logging.Discard())
	require.NoError(t, err)
	defer p.Dispose()

	res, err := p.RunOnce(t.Context())
	require.NoError(t, err)
	require.False(t, res.HasErrors(), res.Diagnostics())

	data, err := os.ReadFile(filepath.Join(dir, "dist", config.ServerBundle))
	require.NoError(t, err)
	assert.Contains(t, string(data), `require("http")`)
	assert.NoFileExists(t, filepath.Join(dir, "dist", config.ManifestFile))
}

func TestESBuild_ServerMultipleEntries(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, filepath.Join(dir, "src/polyfill.ts"), `(globalThis as any).polyfilled = true;`)
	writeSource(t, filepath.Join(dir, "src/server.ts"), `console.log("server");`)

	p, err := NewESBuild(esbuildTarget(dir, config.Server, config.Production, "src/polyfill.ts", "src/server.ts"), logging.Discard())
	require.NoError(t, err)
	defer p.Dispose()

	res, err := p.RunOnce(t.Context())
	require.NoError(t, err)
	require.False(t, res.HasErrors(), res.Diagnostics())
	assert.FileExists(t, filepath.Join(dir, "dist", config.ServerBundle))
}

func TestESBuild_CompileErrorIsAResult(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, filepath.Join(dir, "src/index.ts"), `import "./missing";`)

	p, err := NewESBuild(esbuildTarget(dir, config.Client, config.Development, "src/index.ts"), logging.Discard())
	require.NoError(t, err)
	defer p.Dispose()

	res, err := p.RunOnce(t.Context())
	require.NoError(t, err)
	require.True(t, res.HasErrors())

	d := res.Errors()[0]
	assert.Contains(t, d.Text, "missing")
	assert.Equal(t, "src/index.ts", d.File)
	assert.Equal(t, 1, d.Line)
}

func TestESBuild_NoEntries(t *testing.T) {
	_, err := NewESBuild(config.Target{Name: config.Client, WorkingDirectory: t.TempDir()}, logging.Discard())
	require.Error(t, err)
	assert.Equal(t, "E110", errors.Code(err))
	assert.True(t, errors.IsFatal(err))
}

func TestESBuild_Watch(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "src/index.ts")
	writeSource(t, entry, `console.log(1)`)

	p, err := NewESBuild(esbuildTarget(dir, config.Client, config.Development, "src/index.ts"), logging.Discard())
	require.NoError(t, err)

	results := make(chan Result, 8)
	h, err := p.Watch(t.Context(), func(r Result) { results <- r })
	require.NoError(t, err)

	select {
	case r := <-results:
		assert.False(t, r.HasErrors(), r.Diagnostics())
	case <-time.After(10 * time.Second):
		t.Fatal("no initial build")
	}

	writeSource(t, entry, `console.log(`)
	select {
	case r := <-results:
		assert.True(t, r.HasErrors())
	case <-time.After(10 * time.Second):
		t.Fatal("no rebuild after change")
	}

	h.Dispose()
	h.Dispose()
}
