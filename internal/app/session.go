package app

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clxrityy/tapbump/internal/archive"
	"github.com/clxrityy/tapbump/internal/brew"
	"github.com/clxrityy/tapbump/internal/config"
	"github.com/clxrityy/tapbump/internal/fetch"
	"github.com/clxrityy/tapbump/internal/formula"
	"github.com/clxrityy/tapbump/internal/index"
	"github.com/clxrityy/tapbump/internal/metrics"
	"github.com/clxrityy/tapbump/internal/output"
	"github.com/clxrityy/tapbump/internal/store"
	"github.com/clxrityy/tapbump/internal/updater"
)

// Run modes recorded in the history database.
const (
	modeUpdate = "update"
	modeCheck  = "check"
	modeWatch  = "watch"
)

// session holds everything a command needs to process packages.
type session struct {
	cfg     *config.Config
	log     *logrus.Logger
	out     io.Writer
	errOut  io.Writer
	updater *updater.Updater
	history *store.Store // nil with --no-history
	metrics *metrics.Recorder
	spinner *output.Spinner
	quiet   bool
}

type sessionOptions struct {
	only     []string
	style    bool
	audit    bool
	quiet    bool // suppress per-package lines, e.g. in the daemon
	jsonLogs bool
}

func newSession(cmd *cobra.Command, opts sessionOptions) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:     cfg,
		log:     newLogger(cmd.ErrOrStderr(), opts.jsonLogs),
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
		metrics: metrics.New(),
		quiet:   opts.quiet,
	}

	if unknown := unknownPackages(cfg, opts.only); len(unknown) > 0 {
		return nil, fmt.Errorf("unknown package(s): %s", strings.Join(unknown, ", "))
	}

	if !noHistory {
		st, err := store.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
		if err := st.CreateSchema(); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to create history schema: %w", err)
		}
		s.history = st
	}

	uopts := updater.Options{
		SourceBase: cfg.SourceURL,
		Only:       opts.only,
		Logger:     s.log,
	}
	if opts.style || opts.audit {
		linter := brew.NewLinter()
		if linter.Available() {
			uopts.Linter = linter
			uopts.Audit = opts.audit
		} else {
			s.log.Warn("brew not found on PATH; skipping brew style and audit")
		}
	}
	if !opts.quiet {
		uopts.OnStart = s.startPackage
		uopts.OnDownload = s.downloadPackage
		uopts.OnResult = s.printResult
	}

	metadata := fetch.NewHTTPGetter(cfg.MetadataTimeout, cfg.UserAgent)
	downloads := fetch.NewHTTPGetter(cfg.DownloadTimeout, cfg.UserAgent)

	u, err := updater.New(
		cfg.UpdaterPackages(),
		index.New(metadata, cfg.IndexURL),
		archive.New(downloads),
		formula.DiskFiles{},
		uopts,
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create updater: %w", err)
	}
	s.updater = u

	s.log.WithFields(logrus.Fields{
		"tap_dir":  cfg.TapDir,
		"config":   cfg.ConfigFile,
		"packages": len(u.Packages()),
	}).Debug("session ready")
	return s, nil
}

// unknownPackages returns the names in only that match no configured
// package by name or index name.
func unknownPackages(cfg *config.Config, only []string) []string {
	known := make(map[string]bool, 2*len(cfg.Packages))
	for _, p := range cfg.Packages {
		known[p.Name] = true
		known[p.IndexName] = true
	}
	var unknown []string
	for _, name := range only {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

func (s *session) startPackage(pkg updater.Package) {
	s.spinner = output.NewSpinner("Checking " + pkg.Name).
		WithTimeout(s.cfg.MetadataTimeout + s.cfg.DownloadTimeout)
	s.spinner.SetWriter(s.errOut)
	s.spinner.Start()
}

func (s *session) downloadPackage(pkg updater.Package, url string) {
	if s.spinner != nil {
		s.spinner.UpdateMessage("Downloading " + pkg.Name + " " + path.Base(url))
	}
}

func (s *session) printResult(res updater.Result) {
	if s.spinner != nil {
		s.spinner.Stop()
		s.spinner = nil
	}
	fmt.Fprint(s.out, output.RenderResult(res))
}

// record stores a finished report in the history database and the metrics
// file. Failures here are logged; they never fail the run.
func (s *session) record(mode string, started, finished time.Time, report *updater.Report) {
	entry := s.log.WithFields(logrus.Fields{
		"mode":     mode,
		"packages": len(report.Results),
		"updated":  report.Counts()[updater.OutcomeUpdated],
		"failed":   len(report.Failures()),
		"duration": finished.Sub(started).Round(time.Millisecond),
	})

	if s.history != nil {
		id, err := s.history.RecordReport(mode, started, finished, report)
		if err != nil {
			entry.WithError(err).Warn("failed to record run history")
		} else {
			entry = entry.WithField("run_id", id)
		}
	}

	s.observe(entry, report, started, finished)
	entry.Debug("run finished")
}

// observe updates the metrics and rewrites the metrics file, if any.
func (s *session) observe(entry logrus.FieldLogger, report *updater.Report, started, finished time.Time) {
	s.metrics.Observe(report, started, finished)
	if s.cfg.MetricsFile != "" {
		if err := s.metrics.WriteTextfile(s.cfg.MetricsFile); err != nil {
			entry.WithError(err).Warn("failed to write metrics file")
		}
	}
}

func (s *session) Close() {
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close history database")
		}
	}
}

type runOptions struct {
	only   []string
	apply  bool
	style  bool
	audit  bool
	strict bool
}

// runPackages is shared by update and check.
func runPackages(cmd *cobra.Command, ro runOptions) error {
	s, err := newSession(cmd, sessionOptions{
		only:  ro.only,
		style: ro.style && ro.apply,
		audit: ro.audit && ro.apply,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	mode := modeCheck
	if ro.apply {
		mode = modeUpdate
	}

	pkgs := s.updater.Packages()
	fmt.Fprintf(s.out, "Checking %d package(s) in %s\n\n", len(pkgs), s.cfg.TapDir)
	fmt.Fprint(s.out, output.RenderResultHeader())

	started := time.Now()
	var report *updater.Report
	if ro.apply {
		report = s.updater.Run(ctx)
	} else {
		report = s.updater.Check(ctx)
	}
	finished := time.Now()

	s.record(mode, started, finished, report)
	fmt.Fprint(s.out, output.RenderSummary(report))

	if ro.strict {
		if failures := report.Failures(); len(failures) > 0 {
			return fmt.Errorf("%d of %d package(s) failed", len(failures), len(report.Results))
		}
	}
	return nil
}
