// SPDX-License-Identifier: MPL-2.0

package version

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConstraint is the sentinel error wrapped by ConstraintError.
var ErrInvalidConstraint = errors.New("invalid constraint")

type (
	// Op is a constraint comparison operator.
	Op string

	// Constraint is a single bound on a version: an operator and a
	// boundary version (e.g. ">= 3.20.0"). The zero value matches
	// nothing; use ParseConstraint or NewConstraint.
	Constraint struct {
		Op      Op
		Version Version
	}

	// Range is a conjunction of a lower and an upper bound. Either bound
	// may be absent (nil), in which case that side is unbounded.
	Range struct {
		Min *Constraint
		Max *Constraint
	}

	// ConstraintError is returned when a constraint expression cannot be
	// parsed.
	ConstraintError struct {
		Input  string
		Reason string
	}
)

// Constraint operators, longest-match ordered for parsing.
const (
	OpLE Op = "<="
	OpGE Op = ">="
	OpLT Op = "<"
	OpGT Op = ">"
	OpEQ Op = "="
)

var opsByLength = []Op{OpLE, OpGE, OpLT, OpGT, OpEQ}

// Error implements the error interface for ConstraintError.
func (e *ConstraintError) Error() string {
	return fmt.Sprintf("invalid constraint %q: %s", e.Input, e.Reason)
}

// Unwrap returns the sentinel ErrInvalidConstraint.
func (e *ConstraintError) Unwrap() error { return ErrInvalidConstraint }

// NewConstraint builds a constraint from an operator and a boundary.
func NewConstraint(op Op, v Version) Constraint {
	return Constraint{Op: op, Version: v}
}

// ParseConstraint parses an operator-prefixed expression such as
// ">=3.20.0" or "<3.25.0". Whitespace around the operator is tolerated.
func ParseConstraint(text string) (Constraint, error) {
	s := strings.TrimSpace(text)
	for _, op := range opsByLength {
		if rest, ok := strings.CutPrefix(s, string(op)); ok {
			v, err := Parse(strings.TrimSpace(rest))
			if err != nil {
				return Constraint{}, &ConstraintError{Input: text, Reason: "bad boundary version"}
			}
			return Constraint{Op: op, Version: v}, nil
		}
	}
	return Constraint{}, &ConstraintError{Input: text, Reason: "missing operator"}
}

// String formats the constraint in apk dependency syntax (no spaces).
func (c Constraint) String() string {
	return string(c.Op) + c.Version.String()
}

// Satisfies reports whether v meets the constraint.
func (c Constraint) Satisfies(v Version) bool {
	cmp := Compare(v, c.Version)
	switch c.Op {
	case OpEQ:
		return cmp == 0
	case OpLT:
		return cmp < 0
	case OpLE:
		return cmp <= 0
	case OpGT:
		return cmp > 0
	case OpGE:
		return cmp >= 0
	}
	return false
}

// Satisfies reports whether v meets every present bound of the range.
func (r Range) Satisfies(v Version) bool {
	if r.Min != nil && !r.Min.Satisfies(v) {
		return false
	}
	if r.Max != nil && !r.Max.Satisfies(v) {
		return false
	}
	return true
}

// Unbounded reports whether the range has no bounds at all.
func (r Range) Unbounded() bool { return r.Min == nil && r.Max == nil }

// String formats the range as its bounds joined by a space; an unbounded
// range formats as "*".
func (r Range) String() string {
	switch {
	case r.Min == nil && r.Max == nil:
		return "*"
	case r.Min == nil:
		return r.Max.String()
	case r.Max == nil:
		return r.Min.String()
	}
	return r.Min.String() + " " + r.Max.String()
}
