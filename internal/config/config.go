package config

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bootz-dev/bootz/internal/errors"
)

const (
	// ConfigFileName is the default configuration file name, without extension.
	ConfigFileName = "bootz.config"

	// DefaultPort is the default development server port.
	DefaultPort = 3000

	// DefaultHost is the default development server host.
	DefaultHost = "localhost"

	// DefaultOutput is the default build output directory.
	DefaultOutput = "dist"

	// DefaultClientEntry is the default client entry point.
	DefaultClientEntry = "./src/platforms/client/index.tsx"

	// DefaultServerEntry is the default server entry point.
	DefaultServerEntry = "./src/platforms/server"

	// DefaultTsConfig is the default type-checking configuration file.
	DefaultTsConfig = "tsconfig.json"

	// DefaultRuntime runs the compiled JavaScript server artifact.
	DefaultRuntime = "node"
)

// Server compilers.
const (
	CompilerESBuild = "esbuild"
	CompilerGo      = "go"
)

// Mode selects development or production pipeline behavior.
type Mode string

const (
	Development Mode = "development"
	Production  Mode = "production"
)

// ModeFor returns Development when dev is true.
func ModeFor(dev bool) Mode {
	if dev {
		return Development
	}
	return Production
}

// IsDev reports whether m is Development.
func (m Mode) IsDev() bool { return m == Development }

// TargetName names a build target.
type TargetName string

const (
	Client TargetName = "client"
	Server TargetName = "server"
)

// ToolchainOptions is the user-facing configuration, as read from flags,
// the configuration file and the environment.
type ToolchainOptions struct {
	IsDev            bool
	OutputDirectory  string
	WorkingDirectory string
	Entries          Entries
	TsConfig         string
	Inspect          bool

	Port    int
	Host    string
	HTTPS   bool
	Runtime string

	Compiler CompilerOptions
	Watch    WatchOptions
	GoBuild  GoBuildOptions

	// ConfigFile is the configuration file that was read, if any.
	ConfigFile string
}

// Entries lists the entry points of both targets.
type Entries struct {
	Client []string
	Server []string
}

// CompilerOptions selects the compiler per target.
type CompilerOptions struct {
	// Server is "esbuild" (JavaScript server bundle) or "go".
	Server string
}

// WatchOptions configures the source watcher of the go server pipeline.
type WatchOptions struct {
	Ignore []string
}

// GoBuildOptions are passed to go build by the go server pipeline.
type GoBuildOptions struct {
	Tags    []string
	LDFlags string
}

// Default returns the built-in defaults.
func Default() *ToolchainOptions {
	wd, _ := os.Getwd()
	return &ToolchainOptions{
		IsDev:            os.Getenv("NODE_ENV") == string(Development),
		OutputDirectory:  DefaultOutput,
		WorkingDirectory: wd,
		Entries: Entries{
			Client: []string{DefaultClientEntry},
			Server: []string{DefaultServerEntry},
		},
		TsConfig: DefaultTsConfig,
		Port:     DefaultPort,
		Host:     DefaultHost,
		Runtime:  DefaultRuntime,
		Compiler: CompilerOptions{Server: CompilerESBuild},
	}
}

// Target is the immutable description of one build target.
type Target struct {
	Name             TargetName
	Entries          []string
	OutputDirectory  string
	WorkingDirectory string
	Mode             Mode
	TsConfig         string

	// Inspect enables debugger attachment. Server only.
	Inspect bool
}

// BuildOptions is the validated, fully resolved configuration of one invocation.
type BuildOptions struct {
	OutputDirectory  string
	WorkingDirectory string
	Mode             Mode
	TsConfig         string

	Client Target
	Server Target

	Port    int
	Host    string
	HTTPS   bool
	Runtime string

	ServerCompiler string
	WatchIgnore    []string
	GoBuild        GoBuildOptions
}

// Resolve validates o and turns it into BuildOptions with absolute paths.
func (o *ToolchainOptions) Resolve() (*BuildOptions, error) {
	wd := o.WorkingDirectory
	if wd == "" {
		wd, _ = os.Getwd()
	}
	wd, err := filepath.Abs(wd)
	if err != nil {
		return nil, errors.New("E103").WithDetail("Invalid working directory: " + o.WorkingDirectory).Wrap(err)
	}

	if strings.TrimSpace(o.OutputDirectory) == "" {
		return nil, errors.New("E103").WithDetail("outputDirectory must not be empty")
	}
	out := absJoin(wd, o.OutputDirectory)
	tsconfig := ""
	if o.TsConfig != "" {
		tsconfig = absJoin(wd, o.TsConfig)
	}

	compiler := o.Compiler.Server
	if compiler == "" {
		compiler = CompilerESBuild
	}
	runtime := o.Runtime
	if runtime == "" {
		runtime = DefaultRuntime
	}

	mode := ModeFor(o.IsDev)
	opts := &BuildOptions{
		OutputDirectory:  out,
		WorkingDirectory: wd,
		Mode:             mode,
		TsConfig:         tsconfig,
		Client: Target{
			Name:             Client,
			Entries:          resolveEntries(wd, o.Entries.Client),
			OutputDirectory:  out,
			WorkingDirectory: wd,
			Mode:             mode,
			TsConfig:         tsconfig,
		},
		Server: Target{
			Name:             Server,
			Entries:          resolveEntries(wd, o.Entries.Server),
			OutputDirectory:  out,
			WorkingDirectory: wd,
			Mode:             mode,
			TsConfig:         tsconfig,
			Inspect:          o.Inspect,
		},
		Port:           o.Port,
		Host:           o.Host,
		HTTPS:          o.HTTPS,
		Runtime:        runtime,
		ServerCompiler: compiler,
		WatchIgnore:    slices.Clone(o.Watch.Ignore),
		GoBuild: GoBuildOptions{
			Tags:    slices.Clone(o.GoBuild.Tags),
			LDFlags: o.GoBuild.LDFlags,
		},
	}
	if opts.Host == "" {
		opts.Host = DefaultHost
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Validate checks the invariants every invocation relies on. It performs no I/O.
func (b *BuildOptions) Validate() error {
	if len(b.Client.Entries) == 0 {
		return errors.New("E100").
			WithSuggestion("Set entries.client in " + ConfigFileName + ", e.g. \"" + DefaultClientEntry + "\"")
	}
	if len(b.Server.Entries) == 0 {
		return errors.New("E101").
			WithSuggestion("Set entries.server in " + ConfigFileName + ", e.g. \"" + DefaultServerEntry + "\"")
	}
	if b.OutputDirectory == "" {
		return errors.New("E103").WithDetail("outputDirectory must not be empty")
	}
	if contains(b.OutputDirectory, b.WorkingDirectory) {
		return errors.New("E103").
			WithDetail("outputDirectory " + b.OutputDirectory + " contains the project directory and would be cleared on every build").
			WithSuggestion("Use a subdirectory such as \"" + DefaultOutput + "\"")
	}
	if b.Port < 0 || b.Port > 65535 {
		return errors.New("E102")
	}
	switch b.ServerCompiler {
	case CompilerESBuild, CompilerGo:
	default:
		return errors.New("E103").
			WithDetail("compiler.server must be \"esbuild\" or \"go\", got \"" + b.ServerCompiler + "\"")
	}
	switch b.Mode {
	case Development, Production:
	default:
		return errors.New("E103").WithDetail("Unknown mode \"" + string(b.Mode) + "\"")
	}
	return nil
}

// contains reports whether dir is path or one of its ancestors.
func contains(dir, path string) bool {
	if path == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// WithMode returns a copy of b whose targets all use mode.
func (b BuildOptions) WithMode(mode Mode) *BuildOptions {
	b.Mode = mode
	b.Client.Mode = mode
	b.Server.Mode = mode
	b.Client.Entries = slices.Clone(b.Client.Entries)
	b.Server.Entries = slices.Clone(b.Server.Entries)
	return &b
}

// Targets returns the client and server targets, in build order.
func (b *BuildOptions) Targets() []Target {
	return []Target{b.Client, b.Server}
}

// Address returns the host:port the dev listener binds to.
func (b *BuildOptions) Address() string {
	return b.Host + ":" + strconv.Itoa(b.Port)
}

// URL returns the URL presented to the user for the dev listener.
func (b *BuildOptions) URL() string {
	scheme := "http"
	if b.HTTPS {
		scheme = "https"
	}
	host := b.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = DefaultHost
	}
	return scheme + "://" + host + ":" + strconv.Itoa(b.Port)
}

// ServerArtifact returns the path of the compiled server artifact.
func (b *BuildOptions) ServerArtifact() string {
	if b.ServerCompiler == CompilerGo {
		return filepath.Join(b.OutputDirectory, GoServerBinary)
	}
	return filepath.Join(b.OutputDirectory, ServerBundle)
}

// StaticDir returns the directory client assets are written to.
func (b *BuildOptions) StaticDir() string {
	return filepath.Join(b.OutputDirectory, StaticDirName)
}

// Output layout.
const (
	ServerBundle   = "server.js"
	GoServerBinary = "server"
	StaticDirName  = "static"
	ManifestFile   = "manifest.json"
)

func absJoin(base, p string) string {
	if p == "" {
		return base
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}

func resolveEntries(wd string, entries []string) []string {
	resolved := make([]string, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		resolved = append(resolved, absJoin(wd, e))
	}
	return resolved
}
