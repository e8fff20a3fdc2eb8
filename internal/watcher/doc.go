// Package watcher keeps a tap's formulas current while it runs.
//
// The Watcher re-runs the updater on a fixed interval, and additionally
// re-checks a single formula shortly after it changes on disk (a git pull,
// a manual edit). Filesystem events come from fsnotify on the directories
// that hold the configured formulas; bursts of events are coalesced with a
// short debounce before the affected packages are processed.
//
// All processing happens on one goroutine, so packages are still checked
// strictly one after another. A rewrite performed by the updater itself
// produces one more event for that formula; the follow-up check finds it
// up to date and does not write again.
//
// Example usage:
//
//	w, err := watcher.New(pkgs, func(ctx context.Context, pkgs []updater.Package) {
//		for _, p := range pkgs {
//			u.RunPackage(ctx, p)
//		}
//	}, watcher.Options{Interval: 6 * time.Hour})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := w.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer w.Stop()
package watcher
