// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
)

// newReenableCommand creates the `vellum reenable` command. A vendor OS
// update restores the root filesystem from image, wiping the system
// files packages installed outside the vellum prefix; packages that
// need those drop an executable hook into hooks/post-os-upgrade, and
// reenable replays them with the filesystem temporarily read-write.
func newReenableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reenable",
		Short: "Restore system files after an OS upgrade",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			env, err := newAppEnv(cmd.Context())
			if err != nil {
				return &ExitError{Code: exitFailure, Err: err}
			}
			defer env.Close()

			runReenable(env.cfg.Root)
			return nil
		},
	}
}

func runReenable(root string) {
	hooksDir := filepath.Join(root, "hooks", "post-os-upgrade")

	entries, err := os.ReadDir(hooksDir)
	if err != nil || len(entries) == 0 {
		fmt.Println("No packages require re-enabling after OS upgrades.")
		return
	}

	fmt.Println("Re-enabling packages after OS upgrade...")

	if err := runHook(filepath.Join(root, "bin", "mount-rw")); err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("warning: ")+"failed to remount filesystem read-write")
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}
		fmt.Println("  " + entry.Name())
		if err := runHook(filepath.Join(hooksDir, entry.Name())); err != nil {
			fmt.Println(WarningStyle.Render("    warning: ") + entry.Name() + " reenable script failed")
		}
	}

	if err := runHook(filepath.Join(root, "bin", "mount-restore")); err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("warning: ")+"failed to restore filesystem mounts")
	}
	fmt.Println("Done.")
}

func runHook(path string) error {
	cmd := exec.Command(path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
