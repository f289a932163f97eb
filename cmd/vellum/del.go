// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newDelCommand creates the `vellum del` command.
func newDelCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "del <package>...",
		Aliases: []string{"remove"},
		Short:   "Remove packages",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true
			return runDel(cmd, args, false)
		},
	}
}

// newPurgeCommand creates the `vellum purge` command: removal plus the
// package's data and configuration. VELLUM_PURGE=1 tells package
// pre-deinstall scripts to wipe their data.
func newPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <package>...",
		Short: "Remove packages together with their data and configuration",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true
			return runDel(cmd, args, true)
		},
	}
}

func runDel(cmd *cobra.Command, args []string, purge bool) error {
	for _, arg := range args {
		if arg == "vellum" {
			fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+"Cannot add/remove vellum package directly.")
			fmt.Fprintln(os.Stderr, "Use 'vellum self uninstall' to remove vellum.")
			return &ExitError{Code: exitFailure}
		}
	}

	env, err := newAppEnv(cmd.Context())
	if err != nil {
		return &ExitError{Code: exitFailure, Err: err}
	}
	defer env.Close()

	env.noteDrift()

	delArgs := []string{"del"}
	if purge {
		os.Setenv("VELLUM_PURGE", "1")
		delArgs = append(delArgs, "--purge", "--preserve-env")
	}
	delArgs = append(delArgs, args...)

	if err := env.client.Run(cmd.Context(), delArgs...); err != nil {
		return &ExitError{Code: exitFailure, Err: err}
	}
	return nil
}
