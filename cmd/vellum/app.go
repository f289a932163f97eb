// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"vellum-cli/internal/apk"
	"vellum-cli/internal/config"
	"vellum-cli/internal/device"
	"vellum-cli/internal/localrepo"
	"vellum-cli/internal/resync"
	"vellum-cli/internal/state"
)

// appEnv bundles everything a command handler needs: the resolved
// configuration, the apk client, the state store (with the invocation
// lock held), and the drift assessment taken at startup.
type appEnv struct {
	cfg    *config.Config
	client *apk.Client
	store  *state.Store
	syncer *resync.Syncer
	lock   *state.Lock

	// facts is nil when the host could not be identified (not a
	// reMarkable, or the OS version is unreadable). Commands degrade to
	// plain apk passthrough behavior in that case.
	facts      *resync.Facts
	assessment resync.Assessment
}

// newAppEnv prepares the shared command environment. It takes the
// cross-invocation lock, detects the host facts, and heals first-run
// and device-change states. OS drift is only recorded here; healing it
// is the upgrade command's job.
func newAppEnv(ctx context.Context) (*appEnv, error) {
	cfg := currentConfig()
	store := state.NewStore(cfg.Root)

	// Fail fast on contention: an interactive user should see who holds
	// the lock, not a silent hang.
	lock, err := store.TryAcquire()
	if err != nil {
		return nil, err
	}

	env := &appEnv{
		cfg:    cfg,
		client: apk.NewClient(cfg.Root),
		store:  store,
		lock:   lock,
	}

	detector := device.New()
	facts, err := resync.Detect(detector, cfg.Arch)
	if err != nil {
		slog.Warn("host facts unavailable, compatibility checks disabled", "error", err)
		return env, nil
	}
	env.facts = &facts
	env.syncer = &resync.Syncer{
		Detector: detector,
		Store:    store,
		Repo:     localrepo.New(cfg.Root, facts.Arch),
		Client:   env.client,
	}

	a, err := env.syncer.Ensure(ctx, facts)
	if err != nil {
		slog.Warn("local repository sync failed", "error", err)
	}
	env.assessment = a
	return env, nil
}

// Close releases the invocation lock.
func (e *appEnv) Close() {
	e.lock.Release()
}

// drifted reports whether the persisted OS version no longer matches
// the live one.
func (e *appEnv) drifted() bool {
	return e.facts != nil && e.assessment.Status == state.Drifted
}

// requireSynced blocks a command while the OS has drifted. Only package
// installation is gated; everything else keeps working so the user can
// inspect, remove, and upgrade their way out.
func (e *appEnv) requireSynced() error {
	if !e.drifted() {
		return nil
	}
	fmt.Println()
	fmt.Printf("OS upgraded (%s -> %s).\n", e.assessment.State.OSVersion, e.facts.OS.Raw)
	fmt.Println("Run 'vellum upgrade' to sync packages with new OS version.")
	fmt.Println()
	return &ExitError{Code: exitFailure}
}

// noteDrift prints a warning when the OS has drifted but the command is
// allowed to proceed: the user should know the recorded facts are stale.
func (e *appEnv) noteDrift() {
	if !e.drifted() {
		return
	}
	fmt.Println(WarningStyle.Render("Note: ") +
		fmt.Sprintf("OS version changed (%s -> %s); run 'vellum upgrade' to resync.",
			e.assessment.State.OSVersion, e.facts.OS.Raw))
}

// index loads the remote package index: the apk-synced cache when
// present, the network otherwise.
func (e *appEnv) index(ctx context.Context) ([]apk.Package, error) {
	if cached := apk.CachedIndex(e.cfg.Root); cached != "" {
		return apk.ParseIndex(cached)
	}
	url, err := e.repoURL()
	if err != nil {
		return nil, err
	}
	arch := e.cfg.Arch
	if e.facts != nil {
		arch = e.facts.Arch
	}
	return apk.FetchIndex(ctx, url, arch)
}

// repoURL returns the remote repository base URL: the first
// non-comment, non-local line of the apk repositories file, falling
// back to the configured default.
func (e *appEnv) repoURL() (string, error) {
	path := filepath.Join(e.cfg.Root, "etc", "apk", "repositories")
	data, err := os.ReadFile(path)
	if err != nil {
		if e.cfg.RepoURL != "" {
			return e.cfg.RepoURL, nil
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "local-repo") {
			return line, nil
		}
	}
	if e.cfg.RepoURL != "" {
		return e.cfg.RepoURL, nil
	}
	return "", fmt.Errorf("no remote repository configured in %s", path)
}

// userPackages returns the installed packages excluding vellum's own
// virtual ones.
func (e *appEnv) userPackages(ctx context.Context) ([]string, error) {
	installed, err := e.client.ListInstalled(ctx)
	if err != nil {
		return nil, err
	}
	var user []string
	for _, name := range installed {
		if !localrepo.IsVirtual(name) {
			user = append(user, name)
		}
	}
	return user, nil
}

// confirm prints prompt and reads a y/yes answer from stdin. assumeYes
// short-circuits to true.
func confirm(prompt string, assumeYes bool) bool {
	if assumeYes {
		return true
	}
	fmt.Printf("%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
