// SPDX-License-Identifier: MPL-2.0

package device

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// writeHostFile creates path (and parents) under root with the given content.
func writeHostFile(t *testing.T, root, path, content string) {
	t.Helper()
	full := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDeviceDetection(t *testing.T) {
	tests := []struct {
		marker string
		want   Fact
	}{
		{"Ferrari", RMPP},
		{"Chiappa", RMPM},
		{"reMarkable 1.0", RM1},
		{"reMarkable 2.0", RM2},
		{"reMarkable 2.0\n", RM2}, // trailing newline from sysfs
	}
	for _, tt := range tests {
		t.Run(tt.marker, func(t *testing.T) {
			root := t.TempDir()
			writeHostFile(t, root, machinePath, tt.marker)

			got, err := NewAt(root).Device()
			if err != nil {
				t.Fatalf("Device() returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Device() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeviceDetectionUnknownMarker(t *testing.T) {
	root := t.TempDir()
	writeHostFile(t, root, machinePath, "Kindle Oasis")

	_, err := NewAt(root).Device()
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("expected ErrUnknownDevice, got %v", err)
	}
}

func TestDeviceDetectionMissingFile(t *testing.T) {
	_, err := NewAt(t.TempDir()).Device()
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("expected ErrUnknownDevice, got %v", err)
	}
}

func TestOSVersionFromUpdateConf(t *testing.T) {
	root := t.TempDir()
	writeHostFile(t, root, updateConfPath, "GROUP=Prod\nRELEASE_VERSION=3.24.0.149\n")

	fact, err := NewAt(root).OSVersion()
	if err != nil {
		t.Fatalf("OSVersion() returned error: %v", err)
	}
	if fact.Raw != "3.24.0.149" {
		t.Errorf("Raw = %q, want 3.24.0.149", fact.Raw)
	}
	if fact.Version.String() != "3.24.0.149" {
		t.Errorf("Version = %s, want 3.24.0.149", fact.Version)
	}
}

func TestOSVersionFallsBackToOSRelease(t *testing.T) {
	root := t.TempDir()
	writeHostFile(t, root, osReleasePath, "NAME=\"reMarkable\"\nIMG_VERSION='3.20.0.92'\n")

	fact, err := NewAt(root).OSVersion()
	if err != nil {
		t.Fatalf("OSVersion() returned error: %v", err)
	}
	if fact.Raw != "3.20.0.92" {
		t.Errorf("Raw = %q, want 3.20.0.92", fact.Raw)
	}
}

func TestOSVersionPrefersUpdateConf(t *testing.T) {
	root := t.TempDir()
	writeHostFile(t, root, updateConfPath, "RELEASE_VERSION=\"3.24.0.149\"\n")
	writeHostFile(t, root, osReleasePath, "IMG_VERSION=3.20.0.92\n")

	fact, err := NewAt(root).OSVersion()
	if err != nil {
		t.Fatalf("OSVersion() returned error: %v", err)
	}
	if fact.Raw != "3.24.0.149" {
		t.Errorf("Raw = %q, want update.conf to win", fact.Raw)
	}
}

func TestOSVersionMissingSources(t *testing.T) {
	_, err := NewAt(t.TempDir()).OSVersion()
	if !errors.Is(err, ErrNoOSVersion) {
		t.Errorf("expected ErrNoOSVersion, got %v", err)
	}
}

func TestOSVersionUnparsableIsError(t *testing.T) {
	root := t.TempDir()
	writeHostFile(t, root, updateConfPath, "RELEASE_VERSION=dev-build\n")

	_, err := NewAt(root).OSVersion()
	if !errors.Is(err, ErrNoOSVersion) {
		t.Errorf("expected ErrNoOSVersion for unparsable version, got %v", err)
	}
}

func TestArch(t *testing.T) {
	tests := []struct {
		uname string
		want  string
	}{
		{"aarch64", "aarch64"},
		{"armv7l", "armv7"},
		{"x86_64", "noarch"},
	}
	for _, tt := range tests {
		t.Run(tt.uname, func(t *testing.T) {
			d := NewAt(t.TempDir())
			d.execCommand = func(name string, arg ...string) *exec.Cmd {
				return exec.Command("echo", tt.uname)
			}
			if got := d.Arch(); got != tt.want {
				t.Errorf("Arch() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArchUnameFailure(t *testing.T) {
	d := NewAt(t.TempDir())
	d.execCommand = func(name string, arg ...string) *exec.Cmd {
		return exec.Command("false")
	}
	if got := d.Arch(); got != "noarch" {
		t.Errorf("Arch() = %q, want noarch on uname failure", got)
	}
}

func TestFactDescription(t *testing.T) {
	if RMPP.Description() != "reMarkable Paper Pro" {
		t.Errorf("unexpected description: %s", RMPP.Description())
	}
	if Fact("rm9").Description() != "reMarkable Device" {
		t.Errorf("unknown fact should use the generic description")
	}
}
