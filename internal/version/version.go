// SPDX-License-Identifier: MPL-2.0

// Package version implements parsing and ordering of reMarkable OS and
// package version strings, plus the constraint expressions used in apk
// dependency declarations (e.g. "remarkable-os>=3.20.0").
//
// This package is a leaf dependency: it imports only the standard library
// and performs no I/O, so every comparison a caller makes is reproducible.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVersion is the sentinel error wrapped by ParseError.
var ErrInvalidVersion = errors.New("invalid version")

type (
	// Version is an ordered tuple of non-negative integer components
	// (e.g. 3.24.0.149). A trailing "-suffix" on the last component
	// (e.g. "3.10.0-r1") is preserved for display but ignored for
	// ordering, matching apk's treatment of release tags.
	// Immutable once parsed.
	Version struct {
		components []int
		suffix     string
	}

	// ParseError is returned when a version string contains a
	// non-numeric component. The offending input is carried so callers
	// can report it verbatim.
	ParseError struct {
		Input string
	}
)

// Error implements the error interface for ParseError.
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid version %q: components must be non-negative integers", e.Input)
}

// Unwrap returns the sentinel ErrInvalidVersion.
func (e *ParseError) Unwrap() error { return ErrInvalidVersion }

// Parse parses a dot-separated version string. Each component must be a
// non-negative integer; the final component may carry a "-suffix" release
// tag which is recorded but does not participate in ordering.
func Parse(text string) (Version, error) {
	if text == "" {
		return Version{}, &ParseError{Input: text}
	}

	parts := strings.Split(text, ".")
	components := make([]int, len(parts))
	var suffix string

	for i, part := range parts {
		num := part
		if i == len(parts)-1 {
			if idx := strings.IndexByte(part, '-'); idx >= 0 {
				num = part[:idx]
				suffix = part[idx+1:]
			}
		}
		n, err := strconv.Atoi(num)
		if err != nil || n < 0 {
			return Version{}, &ParseError{Input: text}
		}
		components[i] = n
	}

	return Version{components: components, suffix: suffix}, nil
}

// MustParse parses text and panics on error. For tests and compile-time
// constants only.
func MustParse(text string) Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

// String formats the version so that Parse(v.String()) == v.
func (v Version) String() string {
	parts := make([]string, len(v.components))
	for i, c := range v.components {
		parts[i] = strconv.Itoa(c)
	}
	s := strings.Join(parts, ".")
	if v.suffix != "" {
		s += "-" + v.suffix
	}
	return s
}

// IsZero reports whether v is the zero value (never produced by Parse).
func (v Version) IsZero() bool { return v.components == nil }

// Compare returns -1, 0, or +1 ordering a against b. Components are
// compared lexicographically; when one version is a strict prefix of the
// other, the shorter orders first (so 3.0 < 3.0.0, matching apk).
// Release suffixes never affect the result.
func Compare(a, b Version) int {
	n := min(len(a.components), len(b.components))
	for i := range n {
		switch {
		case a.components[i] < b.components[i]:
			return -1
		case a.components[i] > b.components[i]:
			return 1
		}
	}
	switch {
	case len(a.components) < len(b.components):
		return -1
	case len(a.components) > len(b.components):
		return 1
	}
	return 0
}

// Less reports whether a orders strictly before b.
func Less(a, b Version) bool { return Compare(a, b) < 0 }

// AtLeast reports whether a orders at or after b.
func AtLeast(a, b Version) bool { return Compare(a, b) >= 0 }
