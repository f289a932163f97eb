// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vellum-cli/internal/compat"
	"vellum-cli/internal/version"
)

// newCheckOSCommand creates the `vellum check-os` command: a dry
// compatibility query against a hypothetical OS version. It never
// mutates state, so it is safe to run before accepting a vendor OS
// update.
func newCheckOSCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-os <version>",
		Short: "Check package compatibility with an OS version",
		Long: `Check whether installed packages would remain usable on a given OS
version, without changing anything.

Each installed package is classified as compatible (some published
version admits the target OS), unconstrained (no published version
declares an OS requirement), or incompatible (every published version
excludes the target). The exit code is 2 when any package is
incompatible, so scripts can gate an OS update on it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			target, err := version.Parse(args[0])
			if err != nil {
				return &ExitError{Code: exitFailure, Err: err}
			}

			env, err := newAppEnv(cmd.Context())
			if err != nil {
				return &ExitError{Code: exitFailure, Err: err}
			}
			defer env.Close()

			return runCheckOS(cmd.Context(), env, target)
		},
	}
}

func runCheckOS(ctx context.Context, env *appEnv, target version.Version) error {
	fmt.Printf("Checking package compatibility with OS %s...\n\n", target)

	installed, err := env.userPackages(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+"Could not list installed packages.")
		return &ExitError{Code: exitFailure, Err: err}
	}
	if len(installed) == 0 {
		fmt.Println("No user packages installed.")
		return nil
	}

	index, err := env.index(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+"Could not get package index: "+err.Error())
		return &ExitError{Code: exitFailure, Err: err}
	}

	report := compat.Check(target, installed, index)
	printReport(report)

	if !report.OK() {
		return &ExitError{Code: exitIncompatible}
	}
	fmt.Println("All packages are compatible.")
	return nil
}

func printReport(report compat.Report) {
	if len(report.Compatible) > 0 {
		fmt.Println("Compatible packages:")
		for _, name := range report.Compatible {
			fmt.Println(SuccessStyle.Render("  + ") + name)
		}
		fmt.Println()
	}

	if len(report.Unconstrained) > 0 {
		fmt.Println("Packages without OS constraints (assumed compatible):")
		for _, name := range report.Unconstrained {
			fmt.Println(SubtitleStyle.Render("  - ") + name)
		}
		fmt.Println()
	}

	if len(report.Incompatible) > 0 {
		fmt.Println("Incompatible packages (no version available for this OS):")
		for _, finding := range report.Incompatible {
			fmt.Println(ErrorStyle.Render("  x ") + finding.Name)
			for _, r := range finding.Constraints {
				fmt.Println(SubtitleStyle.Render("      requires " + r.String()))
			}
		}
		fmt.Println()
	}
}
