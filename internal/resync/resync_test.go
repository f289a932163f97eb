// SPDX-License-Identifier: MPL-2.0

package resync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"vellum-cli/internal/apk"
	"vellum-cli/internal/device"
	"vellum-cli/internal/localrepo"
	"vellum-cli/internal/state"
	"vellum-cli/internal/version"
)

// fakeExec fabricates apk invocations: the subcommand (arguments after
// the base --root/--install-root/--no-logfile set) is looked up in
// responses and replayed through echo. Unlisted subcommands succeed
// silently; a "!" response fails.
func fakeExec(t *testing.T, responses map[string]string) apk.ExecCommandFunc {
	t.Helper()
	return func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		if len(arg) < 5 {
			t.Errorf("apk invoked without base arguments: %v", arg)
			return exec.Command("false")
		}
		key := strings.Join(arg[5:], " ")
		out, ok := responses[key]
		if !ok {
			return exec.Command("true")
		}
		if out == "!" {
			return exec.Command("false")
		}
		return exec.Command("echo", out)
	}
}

func testSyncer(t *testing.T, root string, responses map[string]string) *Syncer {
	t.Helper()
	return &Syncer{
		Detector: device.NewAt(root),
		Store:    state.NewStore(root),
		Repo:     localrepo.New(root, "aarch64"),
		Client:   apk.NewClient(root).WithExecCommand(fakeExec(t, responses)),
	}
}

func liveFacts(ver string) Facts {
	return Facts{
		Device: device.RMPP,
		OS:     device.OSFact{Version: version.MustParse(ver), Raw: ver},
		Arch:   "aarch64",
	}
}

func TestDetect(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, root, "sys/devices/soc0/machine", "Ferrari")
	mustWrite(t, root, "usr/share/remarkable/update.conf", "RELEASE_VERSION=3.24.0.149\n")

	facts, err := Detect(device.NewAt(root), "aarch64")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if facts.Device != device.RMPP {
		t.Errorf("device = %v", facts.Device)
	}
	if facts.OS.Raw != "3.24.0.149" {
		t.Errorf("os = %q", facts.OS.Raw)
	}
	if facts.Arch != "aarch64" {
		t.Errorf("arch = %q", facts.Arch)
	}
}

func TestDetectFailsOnUnknownHost(t *testing.T) {
	if _, err := Detect(device.NewAt(t.TempDir()), ""); err == nil {
		t.Error("Detect on an empty root should fail")
	}
}

func TestEnsureBootstrapsFirstRun(t *testing.T) {
	root := t.TempDir()
	s := testSyncer(t, root, map[string]string{
		"list -I remarkable-os": "remarkable-os-3.24.0.149-r0 noarch {remarkable-os}",
	})

	a, err := s.Ensure(context.Background(), liveFacts("3.24.0.149"))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if a.Status != state.Synced {
		t.Errorf("status after bootstrap = %v, want Synced", a.Status)
	}
	if a.State.OSVersion != "3.24.0.149" || a.State.Device != "rmpp" {
		t.Errorf("persisted state = %+v", a.State)
	}
	if _, err := os.Stat(s.Repo.IndexPath()); err != nil {
		t.Errorf("local index not built: %v", err)
	}
}

func TestEnsureReportsDriftWithoutHealing(t *testing.T) {
	root := t.TempDir()
	s := testSyncer(t, root, nil)
	if err := s.Store.Save(state.State{OSVersion: "3.24.0.149", Device: "rmpp"}); err != nil {
		t.Fatal(err)
	}

	a, err := s.Ensure(context.Background(), liveFacts("3.25.0.0"))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if a.Status != state.Drifted {
		t.Errorf("status = %v, want Drifted", a.Status)
	}
	// Drift is reported, not auto-healed: state and repo untouched.
	st, _ := s.Store.Load()
	if st.OSVersion != "3.24.0.149" {
		t.Errorf("state mutated during drift report: %+v", st)
	}
	if _, err := os.Stat(s.Repo.IndexPath()); !os.IsNotExist(err) {
		t.Error("repository rebuilt during a pure drift check")
	}
}

func TestEnsureRepairsChangedDevice(t *testing.T) {
	root := t.TempDir()
	s := testSyncer(t, root, map[string]string{
		"list -I remarkable-os": "remarkable-os-3.24.0.149-r0 noarch {remarkable-os}",
	})
	if err := s.Store.Save(state.State{OSVersion: "3.24.0.149", Device: "rm2"}); err != nil {
		t.Fatal(err)
	}

	a, err := s.Ensure(context.Background(), liveFacts("3.24.0.149"))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if a.Status != state.Synced {
		t.Errorf("status = %v, want Synced", a.Status)
	}
	if a.State.Device != "rmpp" {
		t.Errorf("device not repaired: %+v", a.State)
	}
	if _, err := os.Stat(filepath.Join(s.Repo.Dir, "rmpp-1.0.0-r0.apk")); err != nil {
		t.Errorf("device package not rebuilt: %v", err)
	}
}

func TestResyncFailureLeavesStateUnchanged(t *testing.T) {
	root := t.TempDir()
	s := testSyncer(t, root, map[string]string{
		"add remarkable-os": "!",
	})
	if err := s.Store.Save(state.State{OSVersion: "3.24.0.149", Device: "rmpp"}); err != nil {
		t.Fatal(err)
	}

	err := s.Resync(context.Background(), liveFacts("3.25.0.0"))
	if err == nil {
		t.Fatal("Resync should fail when apk registration fails")
	}

	st, _ := s.Store.Load()
	if st.OSVersion != "3.24.0.149" {
		t.Errorf("partial resync mutated state: %+v", st)
	}
	// Drift must be re-detected next invocation.
	if st.StatusFor(device.OSFact{Version: version.MustParse("3.25.0.0")}) != state.Drifted {
		t.Error("drift forgotten after failed resync")
	}
}

func TestCommitRefusesOnVersionMismatch(t *testing.T) {
	root := t.TempDir()
	s := testSyncer(t, root, map[string]string{
		"list -I remarkable-os": "remarkable-os-3.24.0.149-r0 noarch {remarkable-os}",
	})

	err := s.Commit(context.Background(), liveFacts("3.25.0.0"))
	if err == nil {
		t.Fatal("Commit should refuse when the resolver still has the old OS package")
	}
	if _, statErr := os.Stat(s.Store.Path()); !os.IsNotExist(statErr) {
		t.Error("state written despite verification failure")
	}
}

func mustWrite(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
