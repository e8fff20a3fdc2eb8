// Package formula reads, rewrites and atomically writes Homebrew formula
// files.
//
// Only two lines of a formula are ever touched: the versioned source url
// line and the first sha256 line. Everything else, including indentation
// and line endings, is preserved byte for byte.
package formula

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultSourceBase is the PyPI source distribution root used to build
// canonical archive URLs.
const DefaultSourceBase = "https://pypi.org/packages/source"

// ErrRewrite matches every *RewriteError via errors.Is.
var ErrRewrite = errors.New("formula rewrite failed")

// RewriteError reports a formula whose shape no longer matches the
// expected url/sha256 layout.
type RewriteError struct {
	Field  string // "url" or "sha256"
	Reason string
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("formula rewrite failed: %s line: %s", e.Field, e.Reason)
}

func (e *RewriteError) Is(target error) bool { return target == ErrRewrite }

var (
	// urlLine captures indent, the quoted url and whatever follows it.
	urlLine = regexp.MustCompile(`^(\s*)url(\s+)"([^"]*)"(.*)$`)

	// digestLine captures indent, the quoted digest and whatever follows it.
	digestLine = regexp.MustCompile(`^(\s*)sha256(\s+)"([a-f0-9]{64})"(.*)$`)

	hexDigest = regexp.MustCompile(`^[a-f0-9]{64}$`)
)

// CanonicalURL builds the source archive URL for a release:
//
//	<base>/<first char of name>/<name>/<name>-<version>.tar.gz
func CanonicalURL(base, indexName, version string) (string, error) {
	if indexName == "" {
		return "", fmt.Errorf("package name cannot be empty")
	}
	if base == "" {
		base = DefaultSourceBase
	}
	first, _ := utf8.DecodeRuneInString(indexName)
	return fmt.Sprintf("%s/%c/%s/%s-%s.tar.gz",
		strings.TrimRight(base, "/"), first, indexName, indexName, version), nil
}

// Rewrite replaces the source url for indexName at oldVersion with the
// canonical url for newVersion, and the first sha256 digest with newDigest.
// If either line is missing a *RewriteError is returned and doc is left
// as it was.
func Rewrite(doc, sourceBase, indexName, oldVersion, newVersion, newDigest string) (string, error) {
	if !hexDigest.MatchString(newDigest) {
		return "", &RewriteError{Field: "sha256", Reason: fmt.Sprintf("new digest %q is not 64 lowercase hex characters", newDigest)}
	}
	newURL, err := CanonicalURL(sourceBase, indexName, newVersion)
	if err != nil {
		return "", &RewriteError{Field: "url", Reason: err.Error()}
	}

	lines := splitLines(doc)
	suffix := indexName + "-" + oldVersion + ".tar.gz"

	urlIdx := -1
	for i, line := range lines {
		body, _ := trimEOL(line)
		m := urlLine.FindStringSubmatch(body)
		if m != nil && strings.HasSuffix(m[3], suffix) {
			urlIdx = i
			break
		}
	}
	if urlIdx < 0 {
		return "", &RewriteError{Field: "url", Reason: fmt.Sprintf("no url line ending in %q", suffix)}
	}

	digestIdx := -1
	for i, line := range lines {
		body, _ := trimEOL(line)
		if digestLine.MatchString(body) {
			digestIdx = i
			break
		}
	}
	if digestIdx < 0 {
		return "", &RewriteError{Field: "sha256", Reason: "no sha256 line with a 64 character hex digest"}
	}

	lines[urlIdx] = replaceQuoted(lines[urlIdx], urlLine, newURL)
	lines[digestIdx] = replaceQuoted(lines[digestIdx], digestLine, newDigest)

	return strings.Join(lines, ""), nil
}

// replaceQuoted swaps the quoted value of a url/sha256 line, keeping its
// indent, separator, trailing text and line ending.
func replaceQuoted(line string, re *regexp.Regexp, value string) string {
	body, eol := trimEOL(line)
	m := re.FindStringSubmatch(body)
	keyword := "url"
	if re == digestLine {
		keyword = "sha256"
	}
	return m[1] + keyword + m[2] + `"` + value + `"` + m[4] + eol
}

// splitLines splits s after every "\n", keeping the terminators so the
// document can be rejoined unchanged.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.SplitAfter(s, "\n")
}

// trimEOL separates a line from its "\n" or "\r\n" terminator.
func trimEOL(line string) (string, string) {
	if strings.HasSuffix(line, "\r\n") {
		return line[:len(line)-2], "\r\n"
	}
	if strings.HasSuffix(line, "\n") {
		return line[:len(line)-1], "\n"
	}
	return line, ""
}

// Read returns the full text of the formula at path.
func Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read formula %s: %w", path, err)
	}
	return string(data), nil
}

// Write replaces the formula at path with data. The content is written to
// a temporary file in the same directory and renamed over the original, so
// readers never observe a partial file. The original file mode is kept.
func Write(path, data string) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace formula %s: %w", path, err)
	}
	return nil
}

// DiskFiles reads and writes formulas on the local filesystem.
type DiskFiles struct{}

func (DiskFiles) Read(path string) (string, error) { return Read(path) }

func (DiskFiles) Write(path, data string) error { return Write(path, data) }
