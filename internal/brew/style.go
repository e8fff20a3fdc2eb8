package brew

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrBrewNotFound is returned when the brew executable is not on PATH.
var ErrBrewNotFound = errors.New("brew not found on PATH")

// Linter runs Homebrew's formula checks against files in a tap.
type Linter struct {
	// Binary is the brew executable. Empty means "brew" from PATH.
	Binary string
}

// NewLinter returns a Linter using brew from PATH.
func NewLinter() *Linter {
	return &Linter{}
}

func (l *Linter) binary() string {
	if l.Binary == "" {
		return "brew"
	}
	return l.Binary
}

// Available reports whether the brew executable can be found.
func (l *Linter) Available() bool {
	_, err := exec.LookPath(l.binary())
	return err == nil
}

// Style runs `brew style <path>`. Offenses are returned as an error whose
// message carries brew's trimmed output.
func (l *Linter) Style(ctx context.Context, path string) error {
	return l.run(ctx, "style", path)
}

// Audit runs `brew audit --strict --formula <name>`. The formula must be in
// an installed tap.
func (l *Linter) Audit(ctx context.Context, name string) error {
	return l.run(ctx, "audit", "--strict", "--formula", name)
}

func (l *Linter) run(ctx context.Context, sub string, args ...string) error {
	bin := l.binary()
	if _, err := exec.LookPath(bin); err != nil {
		return ErrBrewNotFound
	}

	cmd := exec.CommandContext(ctx, bin, append([]string{sub}, args...)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("brew %s cancelled: %w", sub, ctx.Err())
		}
		if _, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("brew %s failed: %s", sub, summarize(output))
		}
		return fmt.Errorf("brew %s failed: %w", sub, err)
	}
	return nil
}

// summarize collapses command output to a single line for a Result warning.
func summarize(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	var kept []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return "no output"
	}
	return strings.Join(kept, "; ")
}
