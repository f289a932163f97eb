// SPDX-License-Identifier: MPL-2.0

package apk

import (
	"strings"

	"vellum-cli/internal/version"
)

// OSPackageName is the virtual package whose version mirrors the running
// OS. Package authors declare compatibility against this name
// (e.g. "remarkable-os>=3.20.0"), so it must never change.
const OSPackageName = "remarkable-os"

// Package is one entry of a package index.
type Package struct {
	Name    string
	Version string
	Depends []string
}

// OSConstraints extracts the remarkable-os version range declared in the
// package's dependencies. Packages declare at most a lower bound
// (remarkable-os>=X) and an upper bound (remarkable-os<X); anything else
// referencing the OS package is left to apk itself.
func (p *Package) OSConstraints() version.Range {
	var r version.Range
	for _, dep := range p.Depends {
		rest, ok := strings.CutPrefix(dep, OSPackageName)
		if !ok {
			continue
		}
		c, err := version.ParseConstraint(rest)
		if err != nil {
			continue
		}
		switch c.Op {
		case version.OpGE, version.OpGT:
			bound := c
			r.Min = &bound
		case version.OpLT, version.OpLE:
			bound := c
			r.Max = &bound
		}
	}
	return r
}

// CompatibleWith reports whether the package's declared OS range admits
// osVersion. A package with no OS constraint is compatible with every
// version: most packages are OS-agnostic.
func (p *Package) CompatibleWith(osVersion version.Version) bool {
	return p.OSConstraints().Satisfies(osVersion)
}
