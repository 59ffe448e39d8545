package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/bootz-dev/bootz/internal/config"
)

// Manifest lists the chunks emitted by the client pipeline. It is written
// to manifest.json at the output root for the server to consume.
type Manifest struct {
	// Entries maps each entry point, relative to the working directory,
	// to its output files.
	Entries map[string]ManifestEntry `json:"entries"`

	// Chunks lists every emitted JavaScript and CSS file.
	Chunks []string `json:"chunks"`

	// Hash fingerprints the build. It changes whenever any output changes.
	Hash string `json:"hash"`
}

// ManifestEntry holds the files needed to load one entry point. Paths are
// relative to the output directory, using forward slashes.
type ManifestEntry struct {
	JS      string   `json:"js"`
	CSS     string   `json:"css,omitempty"`
	Imports []string `json:"imports,omitempty"`
}

// ReadManifest reads a manifest written by the client pipeline.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Write writes m as indented JSON.
func (m *Manifest) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// metafile is the subset of esbuild's metafile the manifest needs.
type metafile struct {
	Outputs map[string]metaOutput `json:"outputs"`
}

type metaOutput struct {
	EntryPoint string       `json:"entryPoint"`
	CSSBundle  string       `json:"cssBundle"`
	Imports    []metaImport `json:"imports"`
	Bytes      int          `json:"bytes"`
}

type metaImport struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

func parseMetafile(raw string) (*metafile, error) {
	var m metafile
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// outputPaths returns the absolute paths of every output, sorted.
func (m *metafile) outputPaths(wd string) []string {
	paths := make([]string, 0, len(m.Outputs))
	for p := range m.Outputs {
		if !filepath.IsAbs(p) {
			p = filepath.Join(wd, p)
		}
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// buildManifest derives the manifest from esbuild's metafile. Metafile
// output paths are relative to the working directory.
func buildManifest(meta *metafile, raw string, target config.Target) *Manifest {
	rel := func(p string) string {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(target.WorkingDirectory, p)
		}
		r, err := filepath.Rel(target.OutputDirectory, abs)
		if err != nil {
			return filepath.ToSlash(p)
		}
		return filepath.ToSlash(r)
	}

	m := &Manifest{
		Entries: make(map[string]ManifestEntry),
		Chunks:  []string{},
		Hash:    strconv.FormatUint(xxhash.Sum64String(raw), 16),
	}

	for out, info := range meta.Outputs {
		ext := filepath.Ext(out)
		if ext != ".js" && ext != ".css" {
			continue
		}
		m.Chunks = append(m.Chunks, rel(out))

		if info.EntryPoint == "" || ext != ".js" {
			continue
		}
		entry := ManifestEntry{JS: rel(out)}
		if info.CSSBundle != "" {
			entry.CSS = rel(info.CSSBundle)
		}
		for _, imp := range info.Imports {
			if imp.Kind == "import-statement" {
				entry.Imports = append(entry.Imports, rel(imp.Path))
			}
		}
		m.Entries[filepath.ToSlash(info.EntryPoint)] = entry
	}

	slices.Sort(m.Chunks)
	return m
}
