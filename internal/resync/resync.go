// SPDX-License-Identifier: MPL-2.0

// Package resync keeps the local repository synchronized with the live
// host facts. Drift — the OS version changing underneath vellum — is
// healed by the atomic sequence: re-detect facts, re-synthesize virtual
// packages, rebuild and sign the index, refresh the resolver's view,
// and only then rewrite the persisted state. Any failure short of the
// last step leaves the state untouched, so the drift is re-detected on
// the next invocation instead of being forgotten.
package resync

import (
	"context"
	"fmt"
	"log/slog"

	"vellum-cli/internal/apk"
	"vellum-cli/internal/device"
	"vellum-cli/internal/localrepo"
	"vellum-cli/internal/state"
)

type (
	// Facts bundles one detection pass over the host.
	Facts struct {
		Device device.Fact
		OS     device.OSFact
		Arch   string
	}

	// Syncer wires the detector, the local repository, the state store,
	// and the apk client together.
	Syncer struct {
		Detector *device.Detector
		Store    *state.Store
		Repo     *localrepo.Repo
		Client   *apk.Client
	}

	// Assessment is the result of one drift check: the live facts, the
	// persisted record, and the relation between them.
	Assessment struct {
		Facts  Facts
		State  state.State
		Status state.Status
	}
)

// Detect performs one detection pass. archOverride, when non-empty,
// replaces the uname-derived architecture.
func Detect(d *device.Detector, archOverride string) (Facts, error) {
	dev, err := d.Device()
	if err != nil {
		return Facts{}, err
	}
	osFact, err := d.OSVersion()
	if err != nil {
		return Facts{}, err
	}
	arch := archOverride
	if arch == "" {
		arch = d.Arch()
	}
	return Facts{Device: dev, OS: osFact, Arch: arch}, nil
}

// Assess loads the persisted state and classifies it against the live
// facts. It performs no writes.
func (s *Syncer) Assess(facts Facts) (Assessment, error) {
	st, err := s.Store.Load()
	if err != nil {
		return Assessment{}, err
	}
	return Assessment{Facts: facts, State: st, Status: st.StatusFor(facts.OS)}, nil
}

// Ensure brings an Uninitialized host to Synced and repairs a changed
// device identity, but never heals OS drift — that requires the
// compatibility-gated upgrade flow. The returned assessment reflects
// the state after any repair.
func (s *Syncer) Ensure(ctx context.Context, facts Facts) (Assessment, error) {
	a, err := s.Assess(facts)
	if err != nil {
		return a, err
	}

	switch {
	case a.Status == state.Uninitialized:
		slog.Debug("first run, building local repository", "device", facts.Device, "os", facts.OS.Raw)
		if err := s.Resync(ctx, facts); err != nil {
			return a, err
		}
	case a.Status == state.Synced && a.State.Device != facts.Device.String():
		slog.Debug("device identity changed", "previous", a.State.Device, "current", facts.Device)
		if err := s.Resync(ctx, facts); err != nil {
			return a, err
		}
	default:
		return a, nil
	}

	return s.Assess(facts)
}

// Resync performs the full heal. The persisted state is rewritten only
// after the repository is rebuilt, the virtual packages are registered,
// and the resolver confirms the OS package at the live version.
func (s *Syncer) Resync(ctx context.Context, facts Facts) error {
	if err := s.RebuildRepo(facts); err != nil {
		return err
	}
	if err := s.RegisterVirtual(ctx, facts); err != nil {
		return err
	}
	return s.Commit(ctx, facts)
}

// RebuildRepo re-synthesizes the virtual package set from the facts and
// atomically replaces the signed local index.
func (s *Syncer) RebuildRepo(facts Facts) error {
	packages := localrepo.Synthesize(facts.Device, facts.OS)
	return s.Repo.BuildAndSign(packages, "")
}

// RegisterVirtual installs the virtual packages into apk's world so the
// resolver treats the host facts as satisfied dependencies.
func (s *Syncer) RegisterVirtual(ctx context.Context, facts Facts) error {
	for _, name := range []string{apk.OSPackageName, facts.Device.String()} {
		if err := s.Client.RunSilent(ctx, "add", name); err != nil {
			return fmt.Errorf("register virtual package %s: %w", name, err)
		}
	}
	return nil
}

// Commit verifies the resolver's view matches the live facts and then —
// and only then — rewrites the persisted state. A mismatch means the
// resync did not fully take; the state is left untouched so the next
// invocation retries.
func (s *Syncer) Commit(ctx context.Context, facts Facts) error {
	installed, err := s.Client.InstalledVersion(ctx, apk.OSPackageName)
	if err != nil {
		return fmt.Errorf("verify %s registration: %w", apk.OSPackageName, err)
	}
	if installed != facts.OS.Version.String() {
		return fmt.Errorf("%s package is at %q, expected %q; state left unchanged",
			apk.OSPackageName, installed, facts.OS.Version)
	}
	if err := s.Store.Save(state.State{
		OSVersion: facts.OS.Raw,
		Device:    facts.Device.String(),
	}); err != nil {
		return err
	}
	slog.Debug("state synced", "os", facts.OS.Raw, "device", facts.Device)
	return nil
}
