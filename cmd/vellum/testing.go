// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const (
	testingRepoURL = "https://packages.vellum.delivery/testing"
	testingTag     = "@testing"
)

// testingRepo toggles the tagged testing repository line in the apk
// repositories file. The @testing tag means apk only picks testing
// packages when explicitly asked for (`vellum add pkg@testing`).
type testingRepo struct {
	path string
}

func newTestingRepo(root string) *testingRepo {
	return &testingRepo{path: filepath.Join(root, "etc", "apk", "repositories")}
}

func (t *testingRepo) enabled() bool {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), testingTag) {
			return true
		}
	}
	return false
}

// enable inserts the testing line after the local-repo line so the
// local repository keeps priority, or at the top when there is none.
func (t *testingRepo) enable() error {
	if t.enabled() {
		return nil
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", t.path, err)
	}

	testingLine := testingTag + " " + testingRepoURL
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	out := make([]string, 0, len(lines)+1)
	inserted := false
	for _, line := range lines {
		out = append(out, line)
		if !inserted && strings.Contains(line, "local-repo") {
			out = append(out, testingLine)
			inserted = true
		}
	}
	if !inserted {
		out = append([]string{testingLine}, out...)
	}

	if err := os.WriteFile(t.path, []byte(strings.Join(out, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", t.path, err)
	}
	return nil
}

func (t *testingRepo) disable() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", t.path, err)
	}

	var out []string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), testingTag) {
			continue
		}
		out = append(out, line)
	}

	if err := os.WriteFile(t.path, []byte(strings.Join(out, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", t.path, err)
	}
	return nil
}

// newTestingCommand creates the `vellum testing` command group.
func newTestingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "testing",
		Short: "Manage the testing package repository",
		Long: `Enable, disable, or query the testing repository.

Testing packages are pre-release builds; the repository is tagged so
they are never installed unless requested explicitly with
'vellum add <package>@testing'.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "enable",
		Short: "Enable the testing repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			repo := newTestingRepo(currentConfig().Root)
			if repo.enabled() {
				fmt.Println("Testing repository is already enabled.")
				return nil
			}
			if err := repo.enable(); err != nil {
				return &ExitError{Code: exitFailure, Err: err}
			}
			fmt.Println("Testing repository enabled.")
			fmt.Println("Run 'vellum update' to refresh the package index.")
			fmt.Println()
			fmt.Println("Install testing packages with: vellum add <package>@testing")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Disable the testing repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			repo := newTestingRepo(currentConfig().Root)
			if !repo.enabled() {
				fmt.Println("Testing repository is already disabled.")
				return nil
			}
			if err := repo.disable(); err != nil {
				return &ExitError{Code: exitFailure, Err: err}
			}
			fmt.Println("Testing repository disabled.")
			fmt.Println("Run 'vellum update' to refresh the package index.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the testing repository is enabled",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if newTestingRepo(currentConfig().Root).enabled() {
				fmt.Println("Testing repository: enabled")
			} else {
				fmt.Println("Testing repository: disabled")
			}
		},
	})

	return cmd
}
