// Package updater drives the check-and-bump workflow for every formula in
// the tap.
//
// Each package moves through
//
//	read current -> fetch latest -> compare -> hash -> rewrite
//
// and stops at the first failure. A failure only ends that package; the
// remaining packages are always processed, one at a time, in configured
// order.
package updater

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clxrityy/tapbump/internal/formula"
	"github.com/clxrityy/tapbump/internal/version"
)

// Options configure an Updater.
type Options struct {
	// SourceBase is the root used to build canonical archive URLs.
	SourceBase string

	// Only restricts the run to packages whose Name or IndexName is listed.
	Only []string

	// OnStart, if set, is called before each package is processed.
	OnStart func(Package)

	// OnResult, if set, is called after each package finishes.
	OnResult func(Result)

	// OnDownload, if set, is called before a release archive is fetched.
	OnDownload func(pkg Package, url string)

	// Linter, if set, runs brew style against every formula that was
	// rewritten, and brew audit as well when Audit is true.
	Linter Linter
	Audit  bool

	Logger logrus.FieldLogger
}

// Updater composes the version source, digester and formula files into
// the per-package update workflow.
type Updater struct {
	packages []Package
	index    VersionSource
	digester Digester
	files    Files
	opts     Options
	log      logrus.FieldLogger
}

// New creates an Updater over packages.
func New(packages []Package, index VersionSource, digester Digester, files Files, opts Options) (*Updater, error) {
	if index == nil {
		return nil, fmt.Errorf("version source cannot be nil")
	}
	if digester == nil {
		return nil, fmt.Errorf("digester cannot be nil")
	}
	if files == nil {
		files = formula.DiskFiles{}
	}
	if opts.SourceBase == "" {
		opts.SourceBase = formula.DefaultSourceBase
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Updater{
		packages: packages,
		index:    index,
		digester: digester,
		files:    files,
		opts:     opts,
		log:      log,
	}, nil
}

// Packages returns the packages selected by Options.Only, in order.
func (u *Updater) Packages() []Package {
	if len(u.opts.Only) == 0 {
		return u.packages
	}
	want := make(map[string]bool, len(u.opts.Only))
	for _, name := range u.opts.Only {
		want[name] = true
	}
	var out []Package
	for _, p := range u.packages {
		if want[p.Name] || want[p.IndexName] {
			out = append(out, p)
		}
	}
	return out
}

// Run checks every selected package and rewrites formulas that are behind
// the index.
func (u *Updater) Run(ctx context.Context) *Report {
	return u.run(ctx, true)
}

// Check compares every selected package against the index without
// downloading archives or touching any formula.
func (u *Updater) Check(ctx context.Context) *Report {
	return u.run(ctx, false)
}

// RunPackage processes a single package through the full workflow.
func (u *Updater) RunPackage(ctx context.Context, pkg Package) Result {
	return u.guarded(ctx, pkg, true)
}

func (u *Updater) run(ctx context.Context, apply bool) *Report {
	report := &Report{}
	for _, pkg := range u.Packages() {
		if u.opts.OnStart != nil {
			u.opts.OnStart(pkg)
		}
		res := u.guarded(ctx, pkg, apply)
		report.Results = append(report.Results, res)
		if u.opts.OnResult != nil {
			u.opts.OnResult(res)
		}
	}
	return report
}

// guarded runs one package and converts a panic into a failed result, so
// a bug triggered by one formula cannot stop the rest of the run. Whatever
// process resolved before the panic is kept.
func (u *Updater) guarded(ctx context.Context, pkg Package, apply bool) (res Result) {
	res.Package = pkg
	defer func() {
		if r := recover(); r != nil {
			fail(&res, OutcomeError, panicError{value: r})
			u.log.WithField("package", pkg.Name).Errorf("recovered: %v", r)
		}
	}()
	u.process(ctx, &res, apply)
	return res
}

// process fills in res as the package moves through the workflow.
func (u *Updater) process(ctx context.Context, res *Result, apply bool) {
	pkg := res.Package
	log := u.log.WithField("package", pkg.Name)

	doc, err := u.files.Read(pkg.FormulaPath)
	if err != nil {
		log.WithError(err).Warn("could not read formula")
		fail(res, OutcomeReadFailed, err)
		return
	}
	current, err := version.Extract(doc)
	if err != nil {
		log.WithError(err).Warn("could not determine current version")
		fail(res, OutcomeReadFailed, fmt.Errorf("%s: %w", pkg.FormulaPath, err))
		return
	}
	res.Current = current

	latest, err := u.index.LatestVersion(ctx, pkg.IndexName)
	if err != nil {
		log.WithError(err).Warn("could not fetch latest version")
		fail(res, OutcomeFetchFailed, err)
		return
	}
	res.Latest = latest
	log.WithFields(logrus.Fields{"current": current, "latest": latest}).Debug("versions resolved")

	behind, err := version.Less(current, latest)
	if err != nil {
		log.WithError(err).Warn("could not compare versions")
		fail(res, OutcomeCompareFailed, err)
		return
	}
	if !behind {
		res.Outcome = OutcomeUpToDate
		return
	}

	sourceURL, err := formula.CanonicalURL(u.opts.SourceBase, pkg.IndexName, latest)
	if err != nil {
		fail(res, OutcomeRewriteFailed, err)
		return
	}
	res.SourceURL = sourceURL

	if !apply {
		res.Outcome = OutcomeAvailable
		return
	}

	log.WithField("url", sourceURL).Info("downloading release archive")
	if u.opts.OnDownload != nil {
		u.opts.OnDownload(pkg, sourceURL)
	}
	digest, err := u.digester.DigestOf(ctx, sourceURL)
	if err != nil {
		log.WithError(err).Warn("could not hash release archive")
		fail(res, OutcomeHashFailed, err)
		return
	}
	res.Digest = digest

	updated, err := formula.Rewrite(doc, u.opts.SourceBase, pkg.IndexName, current, latest, digest)
	if err != nil {
		log.WithError(err).Warn("could not rewrite formula")
		fail(res, OutcomeRewriteFailed, err)
		return
	}
	if err := u.files.Write(pkg.FormulaPath, updated); err != nil {
		log.WithError(err).Warn("could not write formula")
		fail(res, OutcomeRewriteFailed, err)
		return
	}
	res.Outcome = OutcomeUpdated
	log.WithFields(logrus.Fields{"version": latest, "sha256": digest}).Info("formula updated")

	u.lint(ctx, res, log)
}

// lint runs the configured brew checks on an updated formula. Problems are
// attached as a warning and never change the outcome.
func (u *Updater) lint(ctx context.Context, res *Result, log logrus.FieldLogger) {
	if u.opts.Linter == nil {
		return
	}
	var warnings []string
	if err := u.opts.Linter.Style(ctx, res.Package.FormulaPath); err != nil {
		warnings = append(warnings, err.Error())
		log.WithError(err).Warn("brew style reported problems")
	}
	if u.opts.Audit {
		if err := u.opts.Linter.Audit(ctx, res.Package.Name); err != nil {
			warnings = append(warnings, err.Error())
			log.WithError(err).Warn("brew audit reported problems")
		}
	}
	res.Warning = strings.Join(warnings, "; ")
}

func fail(res *Result, outcome Outcome, err error) {
	res.Outcome = outcome
	res.Err = err
}
