package updater

import (
	"context"
	"fmt"
)

// Package describes one formula maintained by the tap.
type Package struct {
	Name        string // display name
	IndexName   string // name queried on the release index
	FormulaPath string // absolute or tap-relative path to the .rb file
}

// Outcome is the terminal state reached by a package during a run.
type Outcome string

const (
	OutcomeReadFailed    Outcome = "read-failed"
	OutcomeFetchFailed   Outcome = "fetch-failed"
	OutcomeCompareFailed Outcome = "compare-failed"
	OutcomeUpToDate      Outcome = "up-to-date"
	OutcomeAvailable     Outcome = "available"
	OutcomeHashFailed    Outcome = "hash-failed"
	OutcomeRewriteFailed Outcome = "rewrite-failed"
	OutcomeUpdated       Outcome = "updated"

	// OutcomeError marks a package whose processing panicked.
	OutcomeError Outcome = "error"
)

// Failed reports whether the outcome is one of the failure states.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeReadFailed, OutcomeFetchFailed, OutcomeCompareFailed,
		OutcomeHashFailed, OutcomeRewriteFailed, OutcomeError:
		return true
	}
	return false
}

// Outcomes lists every outcome in state-machine order.
func Outcomes() []Outcome {
	return []Outcome{
		OutcomeReadFailed, OutcomeFetchFailed, OutcomeCompareFailed,
		OutcomeUpToDate, OutcomeAvailable, OutcomeHashFailed,
		OutcomeRewriteFailed, OutcomeUpdated, OutcomeError,
	}
}

// Result is the per-package record produced by a run.
type Result struct {
	Package   Package
	Current   string
	Latest    string
	Outcome   Outcome
	SourceURL string
	Digest    string
	Err       error
	Warning   string // non-fatal note, e.g. brew style findings
}

// Report collects the results of a run in processing order.
type Report struct {
	Results []Result
}

// AnyUpdated reports whether at least one formula was rewritten.
func (r *Report) AnyUpdated() bool {
	for _, res := range r.Results {
		if res.Outcome == OutcomeUpdated {
			return true
		}
	}
	return false
}

// Failures returns the results that ended in a failure state.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Outcome.Failed() {
			out = append(out, res)
		}
	}
	return out
}

// Counts tallies results per outcome.
func (r *Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// VersionSource returns the latest published version of a package.
type VersionSource interface {
	LatestVersion(ctx context.Context, indexName string) (string, error)
}

// Digester downloads an archive and returns its hex digest.
type Digester interface {
	DigestOf(ctx context.Context, url string) (string, error)
}

// Files reads and replaces whole formula files.
type Files interface {
	Read(path string) (string, error)
	Write(path, data string) error
}

// Linter checks a rewritten formula. Findings are reported as an error.
type Linter interface {
	Style(ctx context.Context, path string) error
	Audit(ctx context.Context, name string) error
}

// panicError wraps a recovered panic so it can travel as a Result error.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
