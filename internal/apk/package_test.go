// SPDX-License-Identifier: MPL-2.0

package apk

import (
	"testing"

	"vellum-cli/internal/version"
)

func TestOSConstraints(t *testing.T) {
	tests := []struct {
		name    string
		depends []string
		wantMin string
		wantMax string
	}{
		{"no dependencies", nil, "", ""},
		{"unrelated dependencies", []string{"fbink", "so:libc.so.6"}, "", ""},
		{"lower bound only", []string{"remarkable-os>=3.20.0"}, ">=3.20.0", ""},
		{"upper bound only", []string{"remarkable-os<3.25.0"}, "", "<3.25.0"},
		{"both bounds", []string{"remarkable-os>=3.20.0", "remarkable-os<3.25.0", "fbink"}, ">=3.20.0", "<3.25.0"},
		{"strict lower bound", []string{"remarkable-os>3.20.0"}, ">3.20.0", ""},
		{"inclusive upper bound", []string{"remarkable-os<=3.24.9"}, "", "<=3.24.9"},
		{"similarly named package", []string{"remarkable-os-utils>=1.0"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Package{Name: "pkg", Depends: tt.depends}
			r := p.OSConstraints()

			got := func(c *version.Constraint) string {
				if c == nil {
					return ""
				}
				return c.String()
			}
			if got(r.Min) != tt.wantMin {
				t.Errorf("Min = %q, want %q", got(r.Min), tt.wantMin)
			}
			if got(r.Max) != tt.wantMax {
				t.Errorf("Max = %q, want %q", got(r.Max), tt.wantMax)
			}
		})
	}
}

func TestCompatibleWith(t *testing.T) {
	tests := []struct {
		name    string
		depends []string
		os      string
		want    bool
	}{
		{"unconstrained", nil, "3.24.0.149", true},
		{"below exclusive upper bound", []string{"remarkable-os<3.25.0"}, "3.24.0.149", true},
		{"at exclusive upper bound", []string{"remarkable-os<3.25.0"}, "3.25.0.0", false},
		{"above upper bound", []string{"remarkable-os<3.25.0"}, "3.26.1.2", false},
		{"meets lower bound", []string{"remarkable-os>=3.20.0"}, "3.20.0", true},
		{"below lower bound", []string{"remarkable-os>=3.20.0"}, "3.19.5.1", false},
		{"inside both bounds", []string{"remarkable-os>=3.20.0", "remarkable-os<3.25.0"}, "3.22.3.10", true},
		{"outside both bounds", []string{"remarkable-os>=3.20.0", "remarkable-os<3.25.0"}, "3.25.0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Package{Name: "pkg", Depends: tt.depends}
			if got := p.CompatibleWith(version.MustParse(tt.os)); got != tt.want {
				t.Errorf("CompatibleWith(%s) = %v, want %v", tt.os, got, tt.want)
			}
		})
	}
}
