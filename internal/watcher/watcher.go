package watcher

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/clxrityy/tapbump/internal/updater"
)

// DefaultDebounce is how long the watcher waits after the last event for a
// formula before re-checking it.
const DefaultDebounce = 500 * time.Millisecond

// RunFunc processes the given packages. It is always called from the
// watcher's single loop goroutine.
type RunFunc func(ctx context.Context, pkgs []updater.Package)

// Options configure a Watcher.
type Options struct {
	// Interval between full runs. Zero disables periodic runs.
	Interval time.Duration

	// Debounce window for filesystem events. Zero selects DefaultDebounce.
	Debounce time.Duration

	// RunOnStart triggers a full run as soon as the watcher starts.
	RunOnStart bool

	Logger logrus.FieldLogger
}

// Watcher triggers updater runs from a ticker and from formula changes.
type Watcher struct {
	packages []updater.Package
	byPath   map[string]updater.Package
	run      RunFunc
	opts     Options
	log      logrus.FieldLogger

	fsw    *fsnotify.Watcher
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Watcher for pkgs. Nothing is watched until Start.
func New(pkgs []updater.Package, run RunFunc, opts Options) (*Watcher, error) {
	if run == nil {
		return nil, fmt.Errorf("run function cannot be nil")
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages to watch")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	byPath := make(map[string]updater.Package, len(pkgs))
	for _, p := range pkgs {
		byPath[filepath.Clean(p.FormulaPath)] = p
	}

	return &Watcher{
		packages: pkgs,
		byPath:   byPath,
		run:      run,
		opts:     opts,
		log:      log,
	}, nil
}

// Dirs returns the distinct directories holding the watched formulas.
func (w *Watcher) Dirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	for path := range w.byPath {
		dir := filepath.Dir(path)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs
}

// Start registers the formula directories with fsnotify and begins the
// event loop.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	for _, dir := range w.Dirs() {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		w.log.WithField("dir", dir).Debug("watching formula directory")
	}

	w.fsw = fsw
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop cancels any in-flight run, closes fsnotify and waits for the loop
// to exit.
func (w *Watcher) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	err := w.fsw.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close fsnotify watcher: %w", err)
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var tick <-chan time.Time
	if w.opts.Interval > 0 {
		ticker := time.NewTicker(w.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	pending := make(map[string]bool)

	if w.opts.RunOnStart {
		w.run(w.ctx, w.packages)
	}

	for {
		select {
		case <-w.ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.relevant(ev) {
				pending[filepath.Clean(ev.Name)] = true
				debounce.Reset(w.opts.Debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("fsnotify error")

		case <-debounce.C:
			pkgs := w.take(pending)
			if len(pkgs) > 0 {
				w.log.WithField("count", len(pkgs)).Info("formula changed, re-checking")
				w.run(w.ctx, pkgs)
			}

		case <-tick:
			w.log.Info("scheduled run")
			w.run(w.ctx, w.packages)
		}
	}
}

// relevant reports whether ev touched a watched formula's content.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	_, ok := w.byPath[filepath.Clean(ev.Name)]
	return ok
}

// take drains pending into configured order.
func (w *Watcher) take(pending map[string]bool) []updater.Package {
	var pkgs []updater.Package
	for _, p := range w.packages {
		path := filepath.Clean(p.FormulaPath)
		if pending[path] {
			pkgs = append(pkgs, p)
			delete(pending, path)
		}
	}
	return pkgs
}
