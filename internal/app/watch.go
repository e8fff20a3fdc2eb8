package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clxrityy/tapbump/internal/config"
	"github.com/clxrityy/tapbump/internal/output"
	"github.com/clxrityy/tapbump/internal/store"
	"github.com/clxrityy/tapbump/internal/updater"
	"github.com/clxrityy/tapbump/internal/watcher"
)

var (
	watchInterval    time.Duration
	watchSkipInitial bool
	watchDaemon      bool
	watchDaemonChild bool
	watchPIDFile     string
	watchLogFile     string
	watchStop        bool

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Keep formulas current on a schedule",
		Long: `Run the updater every --interval and re-check a formula shortly after it
changes on disk, for example after a git pull or a manual edit.

Watch modes:
  • Foreground (default): run in the current terminal, Ctrl+C to stop
  • Daemon: run as a background process logging to --log-file
  • Stop: stop a running daemon

Every run is recorded in the history database like 'tapbump update'.`,
		Example: `  # Run in foreground (Ctrl+C to stop)
  tapbump watch

  # Check every 6 hours in the background
  tapbump watch --daemon --interval 6h

  # Stop running daemon
  tapbump watch --stop`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 6*time.Hour, "time between scheduled runs (0 disables them)")
	watchCmd.Flags().BoolVar(&watchSkipInitial, "skip-initial", false, "do not run immediately on start")
	watchCmd.Flags().BoolVar(&watchDaemon, "daemon", false, "run as background daemon")
	watchCmd.Flags().BoolVar(&watchDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	watchCmd.Flags().StringVar(&watchPIDFile, "pid-file", "", "PID file path (default: ~/.config/tapbump/watch.pid)")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "log file path (default: ~/.config/tapbump/watch.log)")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "stop running daemon")

	watchCmd.Flags().MarkHidden("daemon-child")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchInterval < 0 {
		return fmt.Errorf("--interval must be >= 0, got %s", watchInterval)
	}

	if watchPIDFile == "" {
		p, err := stateFile("watch.pid")
		if err != nil {
			return fmt.Errorf("failed to get default PID file path: %w", err)
		}
		watchPIDFile = p
	}
	if watchLogFile == "" {
		p, err := stateFile("watch.log")
		if err != nil {
			return fmt.Errorf("failed to get default log file path: %w", err)
		}
		watchLogFile = p
	}

	if watchStop {
		return stopWatchDaemon(cmd)
	}
	if watchDaemon {
		return startWatchDaemon(cmd)
	}

	s, err := newSession(cmd, sessionOptions{quiet: watchDaemonChild, jsonLogs: watchDaemonChild})
	if err != nil {
		return err
	}
	defer s.Close()

	w, err := watcher.New(s.updater.Packages(), s.watchRun, watcher.Options{
		Interval:   watchInterval,
		RunOnStart: !watchSkipInitial,
		Logger:     s.log,
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if watchDaemonChild {
		s.log.WithFields(logrus.Fields{
			"pid":      os.Getpid(),
			"tap_dir":  s.cfg.TapDir,
			"interval": watchInterval,
		}).Info("watch daemon started")
		return w.RunDaemon(watchPIDFile)
	}
	return runWatchForeground(cmd, s, w)
}

// watchRun processes pkgs on behalf of the watcher. The run is written to
// history as it goes, so `tapbump history --runs` shows it as running until
// the last package finishes. A run cancelled before its first package
// records nothing.
func (s *session) watchRun(ctx context.Context, pkgs []updater.Package) {
	started := time.Now()
	report := &updater.Report{}
	hist := &watchHistory{store: s.history, log: s.log}

	for _, pkg := range pkgs {
		if ctx.Err() != nil {
			break
		}
		if !s.quiet {
			s.startPackage(pkg)
		}
		res := s.updater.RunPackage(ctx, pkg)
		report.Results = append(report.Results, res)
		hist.add(started, res)
		if !s.quiet {
			s.printResult(res)
		}
	}
	if len(report.Results) == 0 {
		return
	}
	finished := time.Now()
	hist.finish(finished, report.AnyUpdated())

	entry := s.log.WithFields(logrus.Fields{
		"packages": len(report.Results),
		"updated":  report.Counts()[updater.OutcomeUpdated],
		"failed":   len(report.Failures()),
		"duration": finished.Sub(started).Round(time.Millisecond),
	})
	if hist.runID != 0 {
		entry = entry.WithField("run_id", hist.runID)
	}
	s.observe(entry, report, started, finished)
	if report.AnyUpdated() {
		entry.Info("formulas updated; review and commit the changes")
	} else {
		entry.Info("watch run finished")
	}
}

// watchHistory records one watch run incrementally. The first error
// disables further writes for the run.
type watchHistory struct {
	store  *store.Store
	log    logrus.FieldLogger
	runID  int64
	broken bool
}

func (h *watchHistory) add(started time.Time, res updater.Result) {
	if h.store == nil || h.broken {
		return
	}
	if h.runID == 0 {
		id, err := h.store.BeginRun(modeWatch, started)
		if err != nil {
			h.fail(err)
			return
		}
		h.runID = id
	}
	if err := h.store.InsertCheck(store.CheckFromResult(h.runID, res, time.Now())); err != nil {
		h.fail(err)
	}
}

func (h *watchHistory) finish(at time.Time, anyUpdated bool) {
	if h.store == nil || h.broken || h.runID == 0 {
		return
	}
	if err := h.store.FinishRun(h.runID, at, anyUpdated); err != nil {
		h.fail(err)
	}
}

func (h *watchHistory) fail(err error) {
	h.broken = true
	h.log.WithError(err).Warn("failed to record watch history")
}

// daemonArgs returns the flags the daemon child needs to resolve the same
// configuration as this process.
func daemonArgs(cfg *config.Config) []string {
	args := []string{
		"--tap-dir", cfg.TapDir,
		"--db", cfg.DBPath,
		"--interval", watchInterval.String(),
		"--pid-file", watchPIDFile,
	}
	if cfg.ConfigFile != "" {
		args = append(args, "--config", cfg.ConfigFile)
	}
	if cfg.MetricsFile != "" {
		args = append(args, "--metrics-file", cfg.MetricsFile)
	}
	if noHistory {
		args = append(args, "--no-history")
	}
	if verbose {
		args = append(args, "--verbose")
	}
	if watchSkipInitial {
		args = append(args, "--skip-initial")
	}
	return args
}

func stopWatchDaemon(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	running, err := watcher.IsDaemonRunning(watchPIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Fprintln(out, "Daemon is not running")
		return nil
	}

	if err := watcher.StopDaemon(watchPIDFile); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Fprintln(out, "✓ Daemon stopped")
	return nil
}

func startWatchDaemon(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := watcher.StartDaemon(watchPIDFile, watchLogFile, daemonArgs(cfg)); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "✓ Daemon started")
	fmt.Fprintf(out, "\nWatching %d formula(s) in %s\n", len(cfg.Packages), cfg.TapDir)
	fmt.Fprintf(out, "  Interval: %s\n", watchInterval)
	fmt.Fprintf(out, "  PID file: %s\n", watchPIDFile)
	fmt.Fprintf(out, "  Log file: %s\n", watchLogFile)
	fmt.Fprintf(out, "\nTo stop: tapbump watch --stop\n")
	return nil
}

func runWatchForeground(cmd *cobra.Command, s *session, w *watcher.Watcher) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %d formula(s) in %s (press Ctrl+C to stop)\n", len(s.updater.Packages()), s.cfg.TapDir)
	if watchInterval > 0 {
		fmt.Fprintf(out, "Scheduled runs every %s.\n", watchInterval)
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, output.RenderResultHeader())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	sig := <-sigCh
	fmt.Fprintf(out, "\nReceived signal %v, shutting down...\n", sig)

	if err := w.Stop(); err != nil {
		return fmt.Errorf("failed to stop watcher: %w", err)
	}
	fmt.Fprintln(out, "✓ Watcher stopped")
	return nil
}
