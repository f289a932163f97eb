// SPDX-License-Identifier: MPL-2.0

// Package device detects the identity of the host: which reMarkable model
// it is and which OS version is currently running. Detection is read-only
// and happens once per process; every fact-dependent command is built on
// the values returned here.
package device

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"vellum-cli/internal/version"
)

// Sentinel errors for unrecognized host environments. Proceeding without
// reliable facts risks desynchronized virtual packages, so callers treat
// these as fatal for everything except plain passthrough commands.
var (
	// ErrUnknownDevice is returned when the machine marker does not name
	// a known reMarkable model.
	ErrUnknownDevice = errors.New("unknown device model")

	// ErrNoOSVersion is returned when no OS version source can be read
	// or parsed.
	ErrNoOSVersion = errors.New("could not detect OS version")
)

type (
	// Fact identifies one reMarkable model. The set is closed: package
	// authors reference these names in dependency expressions, so they
	// must never change.
	Fact string

	// OSFact is the OS version running on the host, detected at process
	// start. Raw preserves the exact string read from the version source.
	OSFact struct {
		Version version.Version
		Raw     string
	}

	// Detector reads host identity from the filesystem. Root rebases all
	// probe paths (the live detector uses "/"); execCommand builds the
	// uname fallback command. Both are injection seams for tests.
	Detector struct {
		Root        string
		execCommand func(name string, arg ...string) *exec.Cmd
	}
)

// Known device facts.
const (
	RM1  Fact = "rm1"
	RM2  Fact = "rm2"
	RMPP Fact = "rmpp"
	RMPM Fact = "rmppm"
)

// Host file paths probed by the detector, relative to its root.
const (
	machinePath    = "sys/devices/soc0/machine"
	updateConfPath = "usr/share/remarkable/update.conf"
	osReleasePath  = "etc/os-release"
)

// machineMarkers maps the contents of the soc machine file to device facts.
var machineMarkers = map[string]Fact{
	"reMarkable 1.0": RM1,
	"reMarkable 2.0": RM2,
	"Ferrari":        RMPP,
	"Chiappa":        RMPM,
}

// deviceDescriptions provides the human-readable names used in virtual
// package metadata.
var deviceDescriptions = map[Fact]string{
	RM1:  "reMarkable 1",
	RM2:  "reMarkable 2",
	RMPP: "reMarkable Paper Pro",
	RMPM: "reMarkable Paper Pro Move",
}

// New returns a detector probing the live filesystem root.
func New() *Detector {
	return &Detector{Root: "/", execCommand: exec.Command}
}

// NewAt returns a detector rebased onto root, for tests.
func NewAt(root string) *Detector {
	return &Detector{Root: root, execCommand: exec.Command}
}

// String returns the fact's package name.
func (f Fact) String() string { return string(f) }

// Description returns the marketing name of the device.
func (f Fact) Description() string {
	if d, ok := deviceDescriptions[f]; ok {
		return d
	}
	return "reMarkable Device"
}

// Device reads the machine marker and maps it to a known fact.
func (d *Detector) Device() (Fact, error) {
	data, err := os.ReadFile(filepath.Join(d.Root, machinePath))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnknownDevice, err)
	}
	machine := strings.TrimSpace(string(data))
	fact, ok := machineMarkers[machine]
	if !ok {
		return "", fmt.Errorf("%w: machine marker %q", ErrUnknownDevice, machine)
	}
	return fact, nil
}

// OSVersion reads the running OS version, preferring update.conf's
// RELEASE_VERSION over os-release's IMG_VERSION. The value must parse as a
// version; an unparsable source is a detection error, never coerced.
func (d *Detector) OSVersion() (OSFact, error) {
	sources := []struct {
		path string
		key  string
	}{
		{updateConfPath, "RELEASE_VERSION="},
		{osReleasePath, "IMG_VERSION="},
	}

	for _, src := range sources {
		raw, ok := scanKey(filepath.Join(d.Root, src.path), src.key)
		if !ok {
			continue
		}
		v, err := version.Parse(raw)
		if err != nil {
			return OSFact{}, fmt.Errorf("%w: %s in %s: %v", ErrNoOSVersion, src.key, src.path, err)
		}
		return OSFact{Version: v, Raw: raw}, nil
	}

	return OSFact{}, ErrNoOSVersion
}

// Arch returns the apk architecture of the host: aarch64 or armv7, with
// "noarch" as the fallback when uname is unavailable or unrecognized.
func (d *Detector) Arch() string {
	out, err := d.execCommand("uname", "-m").Output()
	if err != nil {
		return "noarch"
	}
	switch strings.TrimSpace(string(out)) {
	case "aarch64":
		return "aarch64"
	case "armv7l":
		return "armv7"
	}
	return "noarch"
}

// scanKey returns the first non-empty value of key in a shell-fragment
// style file (KEY=value, optionally quoted).
func scanKey(path, key string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		val, ok := strings.CutPrefix(line, key)
		if !ok {
			continue
		}
		val = strings.Trim(val, `"'`)
		if val != "" {
			return val, true
		}
	}
	return "", false
}
