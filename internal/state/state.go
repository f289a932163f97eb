// SPDX-License-Identifier: MPL-2.0

// Package state persists the last OS version and device identity vellum
// synchronized its virtual packages against, and classifies the current
// invocation as Uninitialized, Synced, or Drifted relative to the live
// facts. The state file is the sole durable record this subsystem owns;
// it is rewritten only after a fully successful resync, so a partial
// resync is re-detected (and re-attempted) on the next invocation
// instead of being forgotten.
package state

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"vellum-cli/internal/device"
	"vellum-cli/internal/version"
)

// Status classifies the persisted record against the live OS fact.
type Status int

// Drift states.
const (
	// Uninitialized means no state has ever been persisted (first run).
	Uninitialized Status = iota
	// Synced means the persisted OS version matches the live one.
	Synced
	// Drifted means the OS changed underneath vellum since the last
	// sync; virtual packages are stale until a resync completes.
	Drifted
)

// fileName is the state record under $ROOT/state.
const fileName = "vellum.toml"

// State is the persisted record. OSVersion and Device hold the facts the
// local repository was last built from.
type State struct {
	OSVersion string `toml:"os_version"`
	Device    string `toml:"device"`
}

// Store reads and writes the persisted state under the vellum prefix.
type Store struct {
	dir string
}

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Synced:
		return "synced"
	case Drifted:
		return "drifted"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// NewStore returns the store rooted at the vellum prefix.
func NewStore(root string) *Store {
	return &Store{dir: filepath.Join(root, "state")}
}

// Path returns the state file location.
func (s *Store) Path() string { return filepath.Join(s.dir, fileName) }

// Load reads the persisted state. A missing record returns the zero
// State and no error: that is the Uninitialized case, not a failure.
// The loose osver/device files written by earlier vellum versions are
// read as a fallback and migrated on the next Save.
func (s *Store) Load() (State, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return s.loadLegacy(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state %s: %w", s.Path(), err)
	}

	var st State
	if err := toml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse state %s: %w", s.Path(), err)
	}
	return st, nil
}

// loadLegacy reads the pre-TOML layout: two bare files holding the OS
// version and device name.
func (s *Store) loadLegacy() State {
	var st State
	if data, err := os.ReadFile(filepath.Join(s.dir, "osver")); err == nil {
		st.OSVersion = strings.TrimSpace(string(data))
	}
	if data, err := os.ReadFile(filepath.Join(s.dir, "device")); err == nil {
		st.Device = strings.TrimSpace(string(data))
	}
	if st.OSVersion != "" || st.Device != "" {
		slog.Debug("loaded legacy state files", "os_version", st.OSVersion, "device", st.Device)
	}
	return st
}

// Save writes the record atomically (temp file, fsync, rename) and
// removes any legacy files it supersedes. Callers invoke this only
// after every step of a resync has succeeded.
func (s *Store) Save(st State) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state directory %s: %w", s.dir, err)
	}
	data, err := toml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := writeFileAtomic(s.Path(), data, 0o644); err != nil {
		return err
	}
	for _, legacy := range []string{"osver", "device"} {
		os.Remove(filepath.Join(s.dir, legacy))
	}
	return nil
}

// StatusFor classifies the record against the live OS fact. Version
// strings are compared as parsed versions when possible so a formatting
// difference alone never reports drift.
func (st State) StatusFor(live device.OSFact) Status {
	if st.OSVersion == "" {
		return Uninitialized
	}
	prev, err := version.Parse(st.OSVersion)
	if err != nil {
		// A record we can no longer parse is stale by definition.
		return Drifted
	}
	if version.Compare(prev, live.Version) == 0 {
		return Synced
	}
	return Drifted
}

// writeFileAtomic writes data via a temp file in the destination
// directory and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpName, path, err)
	}
	return nil
}
