// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"vellum-cli/internal/localrepo"
)

// newSelfCommand creates the `vellum self` command group.
func newSelfCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "self",
		Short: "Manage the vellum installation itself",
	}
	cmd.AddCommand(newSelfUninstallCommand())
	return cmd
}

// newSelfUninstallCommand creates `vellum self uninstall`, the only
// sanctioned way to remove vellum: the vellum package itself is guarded
// from plain del because removing it mid-transaction would leave the
// apk database without its owner.
func newSelfUninstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove vellum from this device",
		Long: `Remove vellum: the prefix directory with the apk database, keys, and
local repository, plus the shell profile hook.

With --all, every installed package is purged first, including its data.
Files packages placed outside the vellum prefix are not tracked after
removal and may need a factory reset to clean up fully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			all, _ := cmd.Flags().GetBool("all")
			yes, _ := cmd.Flags().GetBool("yes")

			env, err := newAppEnv(cmd.Context())
			if err != nil {
				return &ExitError{Code: exitFailure, Err: err}
			}
			defer env.Close()

			return runSelfUninstall(cmd.Context(), env, all, yes)
		},
	}
	cmd.Flags().Bool("all", false, "Also purge every installed package")
	cmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")
	return cmd
}

func runSelfUninstall(ctx context.Context, env *appEnv, all, yes bool) error {
	msg := "This will remove vellum"
	if all {
		msg = "This will remove vellum and permanently delete all installed packages and their data"
	}
	if !confirm(msg+". Continue?", yes || env.cfg.AssumeYes) {
		fmt.Println("Aborted.")
		return &ExitError{Code: exitFailure}
	}

	if all {
		fmt.Println("Removing all installed packages...")
		os.Setenv("VELLUM_PURGE", "1")
		purgeInstalled(ctx, env)
	}

	fmt.Println("Removing vellum...")
	stripProfileHook()

	if err := os.RemoveAll(env.cfg.Root); err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("warning: ")+
			fmt.Sprintf("failed to remove %s: %v", env.cfg.Root, err))
	}
	fmt.Println("Vellum has been removed.")
	return nil
}

// purgeInstalled removes every user package one at a time so a single
// failing deinstall script does not abort the rest.
func purgeInstalled(ctx context.Context, env *appEnv) {
	installed, err := env.client.ListInstalled(ctx)
	if err != nil {
		slog.Warn("could not list installed packages", "error", err)
		return
	}
	for _, pkg := range installed {
		if pkg == "vellum" || localrepo.IsVirtual(pkg) {
			continue
		}
		if err := env.client.RunSilent(ctx, "del", "--purge", "--preserve-env", pkg); err != nil {
			fmt.Fprintln(os.Stderr, WarningStyle.Render("warning: ")+
				fmt.Sprintf("failed to remove %s: %v", pkg, err))
		}
	}
}

// stripProfileHook removes the PATH lines the installer appended to
// ~/.bashrc.
func stripProfileHook() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	bashrc := filepath.Join(home, ".bashrc")
	data, err := os.ReadFile(bashrc)
	if err != nil {
		return
	}

	var kept []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, ".vellum") {
			continue
		}
		kept = append(kept, line)
	}
	if err := os.WriteFile(bashrc, []byte(strings.Join(kept, "\n")), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("warning: ")+
			fmt.Sprintf("failed to update %s: %v", bashrc, err))
	}
}
