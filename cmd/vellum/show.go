// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/spf13/cobra"
)

// newShowCommand creates the `vellum show` command, an alias for
// `apk info -a`.
func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <package>...",
		Short: "Show detailed package information",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			env, err := newAppEnv(cmd.Context())
			if err != nil {
				return &ExitError{Code: exitFailure, Err: err}
			}
			defer env.Close()

			infoArgs := append([]string{"info", "-a"}, args...)
			if err := env.client.Run(cmd.Context(), infoArgs...); err != nil {
				return &ExitError{Code: exitFailure, Err: err}
			}
			return nil
		},
	}
}
