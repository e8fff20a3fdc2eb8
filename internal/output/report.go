// Package output renders tapbump results for the terminal.
//
// This package includes:
//   - One line per package with current vs latest version and the outcome
//   - A run summary, with the post-update checklist when formulas changed
//   - History tables for recorded checks and runs
//   - A spinner shown while a package is being checked
//
// Colour is only emitted when stdout is a terminal and NO_COLOR is unset.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/clxrityy/tapbump/internal/store"
	"github.com/clxrityy/tapbump/internal/updater"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// outcomeLabel returns the symbol-prefixed label and colour for an outcome.
func outcomeLabel(o updater.Outcome) (string, string) {
	switch o {
	case updater.OutcomeUpToDate:
		return "✓ up to date", colorGreen
	case updater.OutcomeUpdated:
		return "↑ updated", colorGreen
	case updater.OutcomeAvailable:
		return "↑ update available", colorYellow
	case updater.OutcomeError:
		return "✗ internal error", colorRed
	}
	if o.Failed() {
		return "✗ " + strings.ReplaceAll(string(o), "-", " "), colorRed
	}
	return string(o), colorGray
}

func orUnknown(v string) string {
	if v == "" {
		return "?"
	}
	return v
}

// RenderResult renders one package result. Errors, lint warnings and the
// new digest go on indented lines below the summary line.
func RenderResult(res updater.Result) string {
	var sb strings.Builder

	versions := orUnknown(res.Current)
	if res.Latest != "" && res.Latest != res.Current {
		versions += " → " + res.Latest
	}
	label, color := outcomeLabel(res.Outcome)

	sb.WriteString(fmt.Sprintf("%-20s %-22s %s\n",
		truncate(res.Package.Name, 20), versions, colorize(color, label)))

	if res.Outcome == updater.OutcomeUpdated && res.Digest != "" {
		sb.WriteString(fmt.Sprintf("    sha256 %s\n", res.Digest))
	}
	if res.Err != nil {
		sb.WriteString(fmt.Sprintf("    %s %v\n", colorize(colorRed, "error:"), res.Err))
	}
	if res.Warning != "" {
		sb.WriteString(fmt.Sprintf("    %s %s\n", colorize(colorYellow, "warning:"), res.Warning))
	}
	return sb.String()
}

// RenderResultHeader renders the column header printed before result lines.
func RenderResultHeader() string {
	return fmt.Sprintf("%-20s %-22s %s\n", "Package", "Version", "Status") +
		strings.Repeat("─", 60) + "\n"
}

// RenderSummary renders the closing block of a run.
func RenderSummary(report *updater.Report) string {
	if len(report.Results) == 0 {
		return "No packages selected.\n"
	}

	counts := report.Counts()
	failures := len(report.Failures())

	var sb strings.Builder
	parts := []string{pluralize(len(report.Results), "package", "packages") + " checked"}
	if n := counts[updater.OutcomeUpdated]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d updated", n))
	}
	if n := counts[updater.OutcomeAvailable]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d available", n))
	}
	if n := counts[updater.OutcomeUpToDate]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d up to date", n))
	}
	if failures > 0 {
		parts = append(parts, colorize(colorRed, fmt.Sprintf("%d failed", failures)))
	}
	sb.WriteString("\n" + strings.Join(parts, " · ") + "\n\n")

	switch {
	case report.AnyUpdated():
		sb.WriteString("Updates completed. Next steps:\n")
		sb.WriteString("  1. Test the updated formulas with 'brew style' and 'brew audit'\n")
		sb.WriteString("  2. Commit and push your changes\n")
		sb.WriteString("  3. GitHub Actions will run the tap's tests automatically\n")
	case counts[updater.OutcomeAvailable] > 0:
		sb.WriteString("Run 'tapbump update' to apply the available updates.\n")
	case failures == 0:
		sb.WriteString(colorize(colorGreen, "All packages are up to date!") + "\n")
	default:
		sb.WriteString(fmt.Sprintf("Finished with %s.\n", pluralize(failures, "failure", "failures")))
	}
	return sb.String()
}

// RenderHistoryTable renders recorded checks, newest first.
func RenderHistoryTable(checks []*store.Check) string {
	if len(checks) == 0 {
		return "No history recorded.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-20s %-16s %-10s %-10s %s\n",
		"Package", "Checked", "Current", "Latest", "Outcome"))
	sb.WriteString(strings.Repeat("─", 76))
	sb.WriteString("\n")

	for _, c := range checks {
		label, color := outcomeLabel(updater.Outcome(c.Outcome))
		sb.WriteString(fmt.Sprintf("%-20s %-16s %-10s %-10s %s\n",
			truncate(c.Package, 20),
			formatRelativeTime(c.CheckedAt),
			truncate(orUnknown(c.CurrentVersion), 10),
			truncate(orUnknown(c.LatestVersion), 10),
			colorize(color, label)))
	}
	return sb.String()
}

// RenderRunsTable renders recorded runs, newest first.
func RenderRunsTable(runs []*store.Run) string {
	if len(runs) == 0 {
		return "No runs recorded.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-6s %-8s %-20s %-10s %s\n",
		"Run", "Mode", "Started", "Duration", "Updated"))
	sb.WriteString(strings.Repeat("─", 56))
	sb.WriteString("\n")

	for _, r := range runs {
		duration := "running"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		updated := "no"
		if r.AnyUpdated {
			updated = colorize(colorGreen, "yes")
		}
		sb.WriteString(fmt.Sprintf("%-6d %-8s %-20s %-10s %s\n",
			r.ID, r.Mode, formatRelativeTime(r.StartedAt), duration, updated))
	}
	return sb.String()
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

// formatRelativeTime formats a timestamp relative to now.
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return agoString(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return agoString(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return agoString(int(diff.Hours()/24), "day")
	case diff < 30*24*time.Hour:
		return agoString(int(diff.Hours()/24/7), "week")
	default:
		return t.Format("2006-01-02")
	}
}

func agoString(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
