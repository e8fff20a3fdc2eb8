// Package version reads the release version recorded in a formula and
// orders version strings.
package version

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

var (
	// ErrNotFound is returned when a formula has no versioned source URL.
	ErrNotFound = errors.New("no versioned source url found")

	// ErrMalformedVersion is returned when a version segment is not a
	// non-negative integer.
	ErrMalformedVersion = errors.New("malformed version")
)

// sourceURLPattern matches the source line of a formula, e.g.
//
//	url "https://pypi.org/packages/source/g/gatenet/gatenet-0.12.5.tar.gz"
var sourceURLPattern = regexp.MustCompile(`url\s+"[^"]*-(\d+\.\d+\.\d+)\.tar\.gz"`)

// Extract returns the major.minor.patch version embedded in the first
// source URL of a formula document.
func Extract(doc string) (string, error) {
	m := sourceURLPattern.FindStringSubmatch(doc)
	if m == nil {
		return "", ErrNotFound
	}
	return m[1], nil
}

// Compare returns -1, 0 or 1 when a is older than, equal to or newer than b.
// Missing trailing segments count as zero, so "1.2" equals "1.2.0".
func Compare(a, b string) (int, error) {
	va, err := parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// Less reports whether a is strictly older than b.
func Less(a, b string) (bool, error) {
	c, err := Compare(a, b)
	if err != nil {
		return false, err
	}
	return c < 0, nil
}

// parse validates that every dot-separated segment is a plain decimal
// integer before handing the string to go-version, which would otherwise
// accept prefixes, prerelease tags and build metadata.
func parse(s string) (*goversion.Version, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty version", ErrMalformedVersion)
	}
	for _, seg := range strings.Split(s, ".") {
		if seg == "" || strings.TrimLeft(seg, "0123456789") != "" {
			return nil, fmt.Errorf("%w: %q has non-numeric segment %q", ErrMalformedVersion, s, seg)
		}
		n, err := strconv.ParseUint(seg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q segment %q does not fit in 64 bits", ErrMalformedVersion, s, seg)
		}
		// go-version stores segments as int64.
		if n > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %q segment %q exceeds the largest supported segment %d",
				ErrMalformedVersion, s, seg, int64(math.MaxInt64))
		}
	}
	v, err := goversion.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedVersion, s, err)
	}
	return v, nil
}
