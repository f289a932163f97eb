// SPDX-License-Identifier: MPL-2.0

package compat

import (
	"reflect"
	"strings"
	"testing"

	"vellum-cli/internal/apk"
	"vellum-cli/internal/version"
)

func pkg(name, ver string, depends ...string) apk.Package {
	return apk.Package{Name: name, Version: ver, Depends: depends}
}

func TestCheckCompatibleUnderUpperBound(t *testing.T) {
	index := []apk.Package{
		pkg("koreader", "2024.11", "remarkable-os<3.25.0"),
	}
	report := Check(version.MustParse("3.24.0.149"), []string{"koreader"}, index)

	if !report.OK() {
		t.Fatalf("expected OK report, got incompatible: %v", report.IncompatibleNames())
	}
	if !reflect.DeepEqual(report.Compatible, []string{"koreader"}) {
		t.Errorf("Compatible = %v, want [koreader]", report.Compatible)
	}
	if report.CompatibleCount() != 1 {
		t.Errorf("CompatibleCount = %d, want 1", report.CompatibleCount())
	}
}

func TestCheckIncompatibleAboveUpperBound(t *testing.T) {
	index := []apk.Package{
		pkg("koreader", "2024.11", "remarkable-os<3.25.0"),
	}
	report := Check(version.MustParse("3.25.0.0"), []string{"koreader"}, index)

	if report.OK() {
		t.Fatal("expected incompatible report")
	}
	if len(report.Incompatible) != 1 {
		t.Fatalf("Incompatible = %v, want exactly one finding", report.Incompatible)
	}
	f := report.Incompatible[0]
	if f.Name != "koreader" {
		t.Errorf("finding name = %q, want koreader", f.Name)
	}
	if len(f.Constraints) != 1 || f.Constraints[0].String() != "<3.25.0" {
		t.Errorf("finding constraints = %v, want [<3.25.0]", f.Constraints)
	}
	if !strings.Contains(f.Reason, "koreader") || !strings.Contains(f.Reason, "3.25.0.0") {
		t.Errorf("reason should name the package and target: %q", f.Reason)
	}
}

func TestCheckUnconstrainedAlwaysCompatible(t *testing.T) {
	index := []apk.Package{
		pkg("rsync", "3.2.7", "musl", "zlib"),
	}
	for _, target := range []string{"1.0", "3.24.0.149", "99.0"} {
		report := Check(version.MustParse(target), []string{"rsync"}, index)
		if !report.OK() {
			t.Errorf("target %s: expected OK, got %v", target, report.IncompatibleNames())
		}
		if !reflect.DeepEqual(report.Unconstrained, []string{"rsync"}) {
			t.Errorf("target %s: Unconstrained = %v, want [rsync]", target, report.Unconstrained)
		}
		if report.CompatibleCount() != 1 {
			t.Errorf("target %s: CompatibleCount = %d, want 1", target, report.CompatibleCount())
		}
	}
}

func TestCheckMixedSet(t *testing.T) {
	index := []apk.Package{
		pkg("good", "1.0", "remarkable-os>=3.20.0"),
		pkg("bad", "1.0", "remarkable-os>=3.20.0", "remarkable-os<3.25.0"),
	}
	report := Check(version.MustParse("3.25.0.0"), []string{"good", "bad"}, index)

	if !reflect.DeepEqual(report.IncompatibleNames(), []string{"bad"}) {
		t.Errorf("Incompatible = %v, want exactly [bad]", report.IncompatibleNames())
	}
	if report.CompatibleCount() != 1 {
		t.Errorf("CompatibleCount = %d, want 1 (only the compatible package)", report.CompatibleCount())
	}
}

func TestCheckAnyPublishedVersionSuffices(t *testing.T) {
	index := []apk.Package{
		pkg("app", "1.0", "remarkable-os>=3.0.0", "remarkable-os<3.5.0"),
		pkg("app", "2.0", "remarkable-os>=3.5.0"),
	}
	report := Check(version.MustParse("3.10.0.0"), []string{"app"}, index)
	if !report.OK() {
		t.Errorf("one compatible published version should satisfy the gate: %v", report.IncompatibleNames())
	}

	// And when no published version covers the target, incompatible.
	index2 := []apk.Package{
		pkg("app", "1.0", "remarkable-os>=3.0.0", "remarkable-os<3.5.0"),
		pkg("app", "2.0", "remarkable-os>=3.5.0", "remarkable-os<4.0.0"),
	}
	report2 := Check(version.MustParse("4.0.0.0"), []string{"app"}, index2)
	if report2.OK() {
		t.Error("expected incompatible when every published range excludes the target")
	}
	if len(report2.Incompatible) == 1 && len(report2.Incompatible[0].Constraints) != 2 {
		t.Errorf("finding should list both declared ranges, got %v", report2.Incompatible[0].Constraints)
	}
}

func TestCheckSkipsPackagesAbsentFromIndex(t *testing.T) {
	index := []apk.Package{
		pkg("known", "1.0", "remarkable-os>=3.0.0"),
	}
	report := Check(version.MustParse("3.10.0.0"), []string{"known", "sideloaded"}, index)

	if !report.OK() {
		t.Errorf("absent package must be skipped, not flagged: %v", report.IncompatibleNames())
	}
	if report.CompatibleCount() != 1 {
		t.Errorf("CompatibleCount = %d, want 1", report.CompatibleCount())
	}
}

func TestBestCompatible(t *testing.T) {
	index := []apk.Package{
		pkg("koreader", "2024.04-r0", "remarkable-os>=3.0.0", "remarkable-os<3.25.0"),
		pkg("koreader", "2024.11-r0", "remarkable-os>=3.20.0", "remarkable-os<3.25.0"),
		pkg("koreader", "2025.01-r0", "remarkable-os>=3.25.0"),
		pkg("rsync", "3.2.7-r0"),
	}
	target := version.MustParse("3.24.0.149")

	best := BestCompatible("koreader", target, index)
	if best == nil || best.Version != "2024.11-r0" {
		t.Errorf("BestCompatible(koreader) = %+v, want 2024.11-r0", best)
	}

	if best := BestCompatible("rsync", target, index); best == nil || best.Version != "3.2.7-r0" {
		t.Errorf("unconstrained package should resolve, got %+v", best)
	}

	if best := BestCompatible("koreader", version.MustParse("2.9.0"), index); best != nil {
		t.Errorf("no version admits 2.9.0, got %+v", best)
	}

	if best := BestCompatible("absent", target, index); best != nil {
		t.Errorf("absent package should return nil, got %+v", best)
	}
}

func TestCheckEmptyInputs(t *testing.T) {
	if r := Check(version.MustParse("3.10.0.0"), nil, []apk.Package{pkg("a", "1.0")}); !r.OK() || r.CompatibleCount() != 0 {
		t.Error("empty installed set should produce an empty OK report")
	}
	if r := Check(version.MustParse("3.10.0.0"), []string{"a"}, nil); !r.OK() || r.CompatibleCount() != 0 {
		t.Error("empty index should produce an empty OK report")
	}
}
