package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bootz-dev/bootz/internal/errors"
)

// SupportedExtensions are probed, in order, when the configuration file
// is given without one.
var SupportedExtensions = []string{".json", ".yaml", ".yml", ".toml"}

// FlagKeys maps command line flag names to configuration keys. The
// working-dir flag is handled separately since it locates the file.
var FlagKeys = map[string]string{
	"output":  "outputDirectory",
	"port":    "port",
	"host":    "host",
	"inspect": "inspect",
}

// LoadOptions tells the Loader where to look.
type LoadOptions struct {
	// ConfigFile is the configuration file path, relative to the working
	// directory. Defaults to ConfigFileName.
	ConfigFile string

	// WorkingDirectory is the directory the configuration file is resolved
	// against. Defaults to the current directory.
	WorkingDirectory string

	// Flags are bound with FlagKeys. Only flags the user changed override
	// the configuration file.
	Flags *pflag.FlagSet
}

// Loader merges flags, the configuration file, environment and defaults.
type Loader struct {
	logger *slog.Logger
	getenv func(string) string
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger, getenv: os.Getenv}
}

// Load builds ToolchainOptions. A missing or unreadable configuration file
// is logged as a warning and the defaults are used.
func (l *Loader) Load(opts LoadOptions) (*ToolchainOptions, error) {
	base, fromFlag, err := l.baseDir(opts)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	l.setDefaults(v, base)
	l.applyEnv(v)

	path := l.readConfigFile(v, base, opts.ConfigFile)
	if opts.Flags != nil {
		l.bindFlags(v, opts.Flags)
	}
	if fromFlag {
		v.Set("workingDirectory", base)
	}

	return l.decode(v, base, path), nil
}

// baseDir returns the directory the configuration file is resolved against
// and whether it came from the working-dir flag.
func (l *Loader) baseDir(opts LoadOptions) (string, bool, error) {
	wd := opts.WorkingDirectory
	fromFlag := false
	if opts.Flags != nil {
		if f := opts.Flags.Lookup("working-dir"); f != nil && f.Changed {
			wd = f.Value.String()
			fromFlag = true
		}
	}
	if wd == "" {
		var err error
		if wd, err = os.Getwd(); err != nil {
			return "", false, errors.New("E103").WithDetail("Cannot determine the working directory").Wrap(err)
		}
	}
	abs, err := filepath.Abs(wd)
	if err != nil {
		return "", false, errors.New("E103").WithDetail("Invalid working directory: " + wd).Wrap(err)
	}
	return abs, fromFlag, nil
}

// setDefaults installs the built-in defaults.
func (l *Loader) setDefaults(v *viper.Viper, base string) {
	v.SetDefault("isDev", false)
	v.SetDefault("outputDirectory", DefaultOutput)
	v.SetDefault("workingDirectory", base)
	v.SetDefault("entries.client", []string{DefaultClientEntry})
	v.SetDefault("entries.server", []string{DefaultServerEntry})
	v.SetDefault("tsConfig", DefaultTsConfig)
	v.SetDefault("inspect", false)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("host", DefaultHost)
	v.SetDefault("https", false)
	v.SetDefault("runtime", DefaultRuntime)
	v.SetDefault("compiler.server", CompilerESBuild)
}

// applyEnv layers environment values over the defaults. They rank below the
// configuration file, so they are installed as defaults too.
func (l *Loader) applyEnv(v *viper.Viper) {
	if env := l.getenv("NODE_ENV"); env != "" {
		v.SetDefault("isDev", env == string(Development))
	}
	if port := l.getenv("PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			v.SetDefault("port", n)
		} else {
			l.logger.Warn("ignoring invalid PORT", "value", port)
		}
	}
	if host := l.getenv("HOST"); host != "" {
		v.SetDefault("host", host)
	}
	if https := l.getenv("HTTPS"); https != "" {
		v.SetDefault("https", https == "true" || https == "1")
	}
}

// readConfigFile reads the first existing candidate and returns its path,
// or "" when none was read.
func (l *Loader) readConfigFile(v *viper.Viper, base, name string) string {
	if name == "" {
		name = ConfigFileName
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(base, name)
	}

	candidates := []string{name}
	if !slices.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(name))) {
		candidates = candidates[:0]
		for _, ext := range SupportedExtensions {
			candidates = append(candidates, name+ext)
		}
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			e := errors.New("E120").WithDetail("Failed to read " + p).Wrap(err)
			l.logger.Warn(e.Message+", using defaults", "code", e.Code, "path", p, "error", err)
			return ""
		}
		l.logger.Debug("loaded configuration", "path", p)
		return p
	}

	e := errors.New("E121")
	l.logger.Warn(e.Message+", using defaults", "code", e.Code, "path", name)
	return ""
}

// bindFlags binds command flags to viper.
func (l *Loader) bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	for name, key := range FlagKeys {
		if f := fs.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func (l *Loader) decode(v *viper.Viper, base, path string) *ToolchainOptions {
	wd := v.GetString("workingDirectory")
	if wd == "" {
		wd = base
	}
	if !filepath.IsAbs(wd) {
		// Relative to the file that set it.
		dir := base
		if path != "" {
			dir = filepath.Dir(path)
		}
		wd = filepath.Join(dir, wd)
	}

	return &ToolchainOptions{
		IsDev:            v.GetBool("isDev"),
		OutputDirectory:  v.GetString("outputDirectory"),
		WorkingDirectory: wd,
		Entries: Entries{
			Client: stringList(v.Get("entries.client")),
			Server: stringList(v.Get("entries.server")),
		},
		TsConfig: v.GetString("tsConfig"),
		Inspect:  v.GetBool("inspect"),
		Port:     v.GetInt("port"),
		Host:     v.GetString("host"),
		HTTPS:    v.GetBool("https"),
		Runtime:  v.GetString("runtime"),
		Compiler: CompilerOptions{
			Server: v.GetString("compiler.server"),
		},
		Watch: WatchOptions{
			Ignore: stringList(v.Get("watch.ignore")),
		},
		GoBuild: GoBuildOptions{
			Tags:    stringList(v.Get("goBuild.tags")),
			LDFlags: v.GetString("goBuild.ldflags"),
		},
		ConfigFile: path,
	}
}

// stringList accepts a single string or a list, the two forms entries may
// be written in.
func stringList(val any) []string {
	switch x := val.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nil
		}
		return []string{x}
	case []string:
		return slices.Clone(x)
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(x)}
	}
}
