package shader

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for further changes before
// reporting a batch.
const DefaultDebounce = 100 * time.Millisecond

// Watcher invalidates compiler cache entries when WGSL files under a
// directory change. The compiler must read its sources from the same
// directory, for example through os.DirFS(dir).
type Watcher struct {
	dir      string
	compiler *Compiler
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onReload func(files []string)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a batch of changes is reported.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithReload sets a callback receiving each batch of changed files, sorted.
// Cached variants built from them are already dropped when it runs; callers
// typically reset and rebuild their render graph to pick up new pipelines.
func WithReload(fn func(files []string)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher watches dir and every directory below it.
func NewWatcher(dir string, c *Compiler, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("shader: create watcher: %w", err)
	}
	w := &Watcher{dir: dir, compiler: c, fsw: fsw, debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(w)
	}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("shader: watch %s: %w", dir, err)
	}
	return w, nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	pending := map[string]struct{}{}
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			file, ok := w.relevant(ev)
			if !ok {
				continue
			}
			w.compiler.Invalidate(file)
			pending[file] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			Logger().Warn("shader: watcher error", "dir", w.dir, "err", err)

		case <-timer.C:
			files := make([]string, 0, len(pending))
			for f := range pending {
				files = append(files, f)
			}
			slices.Sort(files)
			clear(pending)
			Logger().Info("shader: sources changed", "files", files)
			if w.onReload != nil {
				w.onReload(files)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// relevant maps an event to the slash-separated path of a changed WGSL file.
func (w *Watcher) relevant(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return "", false
	}
	if !strings.HasSuffix(ev.Name, ".wgsl") {
		return "", false
	}
	rel, err := filepath.Rel(w.dir, ev.Name)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Close stops watching. Run returns once the event channels drain.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
