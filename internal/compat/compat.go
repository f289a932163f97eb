// SPDX-License-Identifier: MPL-2.0

// Package compat implements the compatibility gate: given a target OS
// version and the set of installed packages, it classifies each package
// by whether the index declares a version that works on that OS.
//
// The gate is side-effect-free. It never mutates installed state and is
// safe to run before committing to an OS upgrade performed out of band.
package compat

import (
	"fmt"
	"sort"

	"vellum-cli/internal/apk"
	"vellum-cli/internal/version"
)

type (
	// Finding records one incompatible package: its name, the OS ranges
	// its published versions declare, and a human-readable reason.
	Finding struct {
		Name        string
		Constraints []version.Range
		Reason      string
	}

	// Report is the gate's classification of the installed set.
	// Packages absent from the index are skipped entirely: the gate can
	// say nothing about them and apk remains the authority.
	Report struct {
		Target        version.Version
		Compatible    []string
		Unconstrained []string
		Incompatible  []Finding
	}
)

// Check classifies each installed package against the target OS version.
//
// Per package: if no published version declares an OS constraint the
// package is Unconstrained — treated as compatible by policy, since most
// packages are OS-agnostic. If any published version's range admits the
// target, the package is Compatible (apk can pick that version). Only
// when every constrained version excludes the target is the package
// Incompatible.
func Check(target version.Version, installed []string, index []apk.Package) Report {
	report := Report{Target: target}
	byName := apk.ByName(index)

	for _, name := range installed {
		versions, ok := byName[name]
		if !ok {
			continue
		}

		constrained := false
		for _, v := range versions {
			if !v.OSConstraints().Unbounded() {
				constrained = true
				break
			}
		}
		if !constrained {
			report.Unconstrained = append(report.Unconstrained, name)
			continue
		}

		compatible := false
		for _, v := range versions {
			if v.CompatibleWith(target) {
				compatible = true
				break
			}
		}
		if compatible {
			report.Compatible = append(report.Compatible, name)
			continue
		}

		report.Incompatible = append(report.Incompatible, newFinding(name, target, versions))
	}

	sort.Strings(report.Compatible)
	sort.Strings(report.Unconstrained)
	sort.Slice(report.Incompatible, func(i, j int) bool {
		return report.Incompatible[i].Name < report.Incompatible[j].Name
	})

	return report
}

// newFinding collects the declared ranges of every published version so
// the user sees what would have been required.
func newFinding(name string, target version.Version, versions []*apk.Package) Finding {
	f := Finding{
		Name:   name,
		Reason: fmt.Sprintf("no published version of %s admits OS %s", name, target),
	}
	for _, v := range versions {
		r := v.OSConstraints()
		if !r.Unbounded() {
			f.Constraints = append(f.Constraints, r)
		}
	}
	return f
}

// CompatibleCount returns the number of packages the gate classified as
// usable on the target OS (explicitly compatible plus unconstrained).
func (r Report) CompatibleCount() int {
	return len(r.Compatible) + len(r.Unconstrained)
}

// OK reports whether the incompatible set is empty.
func (r Report) OK() bool { return len(r.Incompatible) == 0 }

// IncompatibleNames returns the names of the incompatible packages.
func (r Report) IncompatibleNames() []string {
	names := make([]string, len(r.Incompatible))
	for i, f := range r.Incompatible {
		names[i] = f.Name
	}
	return names
}

// BestCompatible returns the highest published version of name whose OS
// range admits target, or nil when no published version does. Entries
// with unparsable versions lose ties but remain eligible, so a package
// published only with odd version strings can still be resolved.
func BestCompatible(name string, target version.Version, index []apk.Package) *apk.Package {
	var best *apk.Package
	var bestVer version.Version
	for i := range index {
		p := &index[i]
		if p.Name != name || !p.CompatibleWith(target) {
			continue
		}
		v, err := version.Parse(p.Version)
		if err != nil {
			if best == nil {
				best = p
			}
			continue
		}
		if best == nil || bestVer.IsZero() || version.Less(bestVer, v) {
			best = p
			bestVer = v
		}
	}
	return best
}
