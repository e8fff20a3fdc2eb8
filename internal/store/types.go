package store

import "time"

// Run is one invocation of the updater.
type Run struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Mode       string // "update", "check" or "watch"
	AnyUpdated bool
}

// Check is the recorded result of one package within a run.
type Check struct {
	ID             int64
	RunID          int64
	Package        string
	IndexName      string
	FormulaPath    string
	CurrentVersion string
	LatestVersion  string
	Outcome        string
	SourceURL      string
	SHA256         string
	Error          string
	CheckedAt      time.Time
}
