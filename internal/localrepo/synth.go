// SPDX-License-Identifier: MPL-2.0

// Package localrepo maintains the signed local package repository that
// carries vellum's virtual packages: synthetic records telling the apk
// resolver which device this is and which OS version it runs. The
// repository lives at a fixed path under the vellum prefix and is
// rebuilt whole — never patched in place — whenever the facts change.
package localrepo

import (
	"fmt"

	"vellum-cli/internal/apk"
	"vellum-cli/internal/device"
)

// Origin marks packages synthesized locally, distinguishing them from
// anything served by the remote registry.
const Origin = "vellum-local"

// deviceSentinelVersion is the fixed version carried by device identity
// packages; only the OS package has a meaningful version.
const deviceSentinelVersion = "1.0.0"

// VirtualPackage is a synthetic package record: not backed by an
// installable archive, it exists purely so dependency expressions can
// reference host facts by name.
type VirtualPackage struct {
	Name        string
	Version     string
	Release     int
	Arch        string
	Description string
	URL         string
	License     string
	Provides    []string
	Origin      string
}

// Synthesize maps one device fact and one OS fact to the full virtual
// package set: the OS identity package and the device identity package,
// in that order. It is a pure function — identical facts produce
// identical records — so the set can be golden-tested and the signed
// index content is stable for a stable host.
func Synthesize(dev device.Fact, osFact device.OSFact) []VirtualPackage {
	return []VirtualPackage{
		{
			Name:        apk.OSPackageName,
			Version:     osFact.Version.String(),
			Arch:        "noarch",
			Description: "Virtual package representing reMarkable OS version",
			URL:         "https://github.com/vellum-dev/vellum-cli",
			License:     "MIT",
			Provides:    []string{"/bin/sh"},
			Origin:      Origin,
		},
		{
			Name:        dev.String(),
			Version:     deviceSentinelVersion,
			Arch:        "noarch",
			Description: fmt.Sprintf("Virtual package for %s", dev.Description()),
			URL:         "https://github.com/vellum-dev/vellum-cli",
			License:     "MIT",
			Origin:      Origin,
		},
	}
}

// VirtualNames lists every package name vellum may synthesize: the OS
// identity plus each known device identity. Commands that operate on
// "user packages" filter these out.
func VirtualNames() []string {
	names := []string{apk.OSPackageName}
	for _, f := range []device.Fact{device.RM1, device.RM2, device.RMPP, device.RMPM} {
		names = append(names, f.String())
	}
	return names
}

// IsVirtual reports whether name is one of vellum's synthesized
// packages.
func IsVirtual(name string) bool {
	for _, n := range VirtualNames() {
		if n == name {
			return true
		}
	}
	return false
}

// FullVersion returns the version with the apk release suffix, as it
// appears in filenames and index entries.
func (p VirtualPackage) FullVersion() string {
	return fmt.Sprintf("%s-r%d", p.Version, p.Release)
}

// Filename returns the archive filename for the package.
func (p VirtualPackage) Filename() string {
	return fmt.Sprintf("%s-%s.apk", p.Name, p.FullVersion())
}
