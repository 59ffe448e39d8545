package pipeline

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultIgnore contains patterns the source watcher always skips.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	".bootz",
	"*.tmp",
	"*.swp",
	"*~",
}

// WatcherConfig configures the source watcher.
type WatcherConfig struct {
	// Root is watched recursively.
	Root string

	// Ignore patterns: a bare name matches any path segment, a pattern
	// with a slash matches consecutive segments, and globs are supported.
	Ignore []string

	// Debounce is the quiet period before changes are reported.
	Debounce time.Duration

	// Match selects the files whose changes are reported. Nil reports all.
	Match func(path string) bool
}

// Watcher reports batches of changed source files.
type Watcher struct {
	config    WatcherConfig
	ignore    []ignoreRule
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	logger    *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewWatcher creates a watcher. onChange receives the changed paths of each
// debounced batch.
func NewWatcher(cfg WatcherConfig, onChange func(paths []string), logger *slog.Logger) (*Watcher, error) {
	if cfg.Debounce == 0 {
		cfg.Debounce = 100 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		config:    cfg,
		ignore:    parseIgnore(append(slices.Clone(DefaultIgnore), cfg.Ignore...)),
		fsw:       fsw,
		debouncer: NewDebouncer(cfg.Debounce, onChange),
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Start adds every directory under Root and processes events until ctx is
// cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.config.Root); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Close stops the watcher. Pending changes are discarded.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.debouncer.Stop()
		err = w.fsw.Close()
		close(w.done)
	})
	return err
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable directories are skipped, not fatal.
			return nil //nolint:nilerr
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && w.shouldIgnore(p) {
			return fs.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod || w.shouldIgnore(event.Name) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Debug("cannot watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	if w.config.Match != nil && !w.config.Match(event.Name) {
		return
	}
	w.debouncer.Add(event.Name)
}

// ignoreRule is a parsed Ignore pattern.
type ignoreRule struct {
	pattern  string
	glob     bool
	anchored bool
	segments []string
}

func parseIgnore(patterns []string) []ignoreRule {
	rules := make([]ignoreRule, 0, len(patterns))
	for _, p := range patterns {
		p = filepath.ToSlash(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		rules = append(rules, ignoreRule{
			pattern:  p,
			glob:     strings.ContainsAny(p, "*?["),
			anchored: strings.Contains(p, "/"),
			segments: splitSegments(p),
		})
	}
	return rules
}

// matches tests rel, a slash-separated path relative to the root, whose
// last element is name.
func (r ignoreRule) matches(rel, name string) bool {
	switch {
	case name == r.pattern:
		return true
	case r.glob && r.anchored:
		ok, _ := path.Match(r.pattern, rel)
		return ok
	case r.glob:
		ok, _ := path.Match(r.pattern, name)
		return ok
	default:
		return containsRun(splitSegments(rel), r.segments)
	}
}

func (w *Watcher) shouldIgnore(fullPath string) bool {
	rel := filepath.ToSlash(fullPath)
	if r, err := filepath.Rel(w.config.Root, fullPath); err == nil && !strings.HasPrefix(r, "..") {
		rel = filepath.ToSlash(r)
	}
	name := filepath.Base(fullPath)
	for _, rule := range w.ignore {
		if rule.matches(rel, name) {
			return true
		}
	}
	return false
}

// containsRun reports whether run occurs as consecutive elements of segs.
func containsRun(segs, run []string) bool {
	if len(run) == 0 {
		return false
	}
	for i := 0; i+len(run) <= len(segs); i++ {
		if slices.Equal(segs[i:i+len(run)], run) {
			return true
		}
	}
	return false
}

func splitSegments(p string) []string {
	return slices.DeleteFunc(strings.Split(p, "/"), func(s string) bool {
		return s == "" || s == "."
	})
}
