// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"vellum-cli/internal/apk"
	"vellum-cli/internal/compat"
	"vellum-cli/internal/version"
)

// newUpgradeCommand creates the `vellum upgrade` command. This is the
// one place OS drift gets healed: packages are compatibility-checked
// against the new OS before the virtual OS package moves, so an
// incompatible install set blocks the sync instead of breaking.
func newUpgradeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade packages (handles OS version changes)",
		Long: `Upgrade installed packages with apk.

When the OS version has changed since the last sync, upgrade first
verifies that every installed package has a version compatible with the
new OS (exit code 2 when one does not), regenerates the virtual OS
package, and only records the new OS version once apk confirms the
upgrade took.`,
		// Flags other than -y ride along to apk upgrade untouched.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			yes, rest := splitUpgradeArgs(args)
			for _, arg := range rest {
				if arg == "-h" || arg == "--help" {
					return cmd.Help()
				}
			}

			env, err := newAppEnv(cmd.Context())
			if err != nil {
				return &ExitError{Code: exitFailure, Err: err}
			}
			defer env.Close()

			return runUpgrade(cmd.Context(), env, yes, rest)
		},
	}
	return cmd
}

// splitUpgradeArgs peels off the confirmation-skip flag; everything
// else is apk's business.
func splitUpgradeArgs(args []string) (yes bool, rest []string) {
	for _, arg := range args {
		switch arg {
		case "-y", "--yes":
			yes = true
		default:
			rest = append(rest, arg)
		}
	}
	return yes, rest
}

func runUpgrade(ctx context.Context, env *appEnv, yes bool, extraArgs []string) error {
	if env.facts == nil {
		return &ExitError{Code: exitFailure,
			Err: fmt.Errorf("cannot upgrade: host OS version unknown")}
	}

	drifted := env.drifted()
	live := env.facts.OS.Version
	isDowngrade := false
	if drifted {
		if prev, err := version.Parse(env.assessment.State.OSVersion); err == nil {
			isDowngrade = version.Less(live, prev)
		}
	}

	if drifted {
		if err := prepareOSTransition(ctx, env, live, isDowngrade); err != nil {
			return err
		}
	}

	simArgs := []string{"upgrade", "--simulate"}
	if isDowngrade {
		// Downgrades need apk to consider versions below the installed one.
		simArgs = append(simArgs, "--available")
	}
	simArgs = append(simArgs, extraArgs...)

	out, err := env.client.Output(ctx, simArgs...)
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+"Failed to check for upgrades: "+err.Error())
		return &ExitError{Code: exitFailure, Err: err}
	}
	packages := parseSimulatedUpgrades(out)

	if len(packages) == 0 {
		if drifted {
			if err := env.syncer.Commit(ctx, *env.facts); err == nil {
				fmt.Printf("OS version synced to %s\n", live)
			} else {
				slog.Debug("state not committed", "error", err)
			}
		}
		fmt.Println("No packages to upgrade.")
		return nil
	}

	if !yes && !env.cfg.AssumeYes {
		fmt.Printf("The following %d package(s) will be upgraded:\n", len(packages))
		for _, pkg := range packages {
			fmt.Println("  - " + PkgStyle.Render(pkg))
		}
		fmt.Println()
		if !confirm("Proceed with upgrade?", false) {
			fmt.Println("Upgrade aborted.")
			return &ExitError{Code: exitFailure}
		}
	}

	upgradeArgs := []string{"upgrade"}
	if isDowngrade {
		upgradeArgs = append(upgradeArgs, "--available")
	}
	upgradeArgs = append(upgradeArgs, extraArgs...)

	if !drifted {
		// Nothing to verify afterwards, apk can own the process.
		if err := env.client.Exec(upgradeArgs...); err != nil {
			return &ExitError{Code: exitFailure, Err: err}
		}
		return nil
	}

	if err := env.client.Run(ctx, upgradeArgs...); err != nil {
		return &ExitError{Code: exitFailure, Err: err}
	}

	if err := env.syncer.Commit(ctx, *env.facts); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		fmt.Fprintln(os.Stderr, "OS version sync failed. Run 'vellum upgrade' to retry.")
		return &ExitError{Code: exitFailure, Err: err}
	}
	fmt.Println(SuccessStyle.Render(fmt.Sprintf("OS version synced to %s", live)))
	return nil
}

// prepareOSTransition gates the drift heal on the compatibility report,
// then rebuilds the signed local repository for the new OS version.
func prepareOSTransition(ctx context.Context, env *appEnv, live version.Version, isDowngrade bool) error {
	action := "upgraded"
	if isDowngrade {
		action = "downgraded"
	}
	fmt.Printf("OS %s (%s -> %s). Checking package compatibility...\n\n",
		action, env.assessment.State.OSVersion, env.facts.OS.Raw)

	installed, err := env.userPackages(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+"Could not list installed packages.")
		return &ExitError{Code: exitFailure, Err: err}
	}

	index, err := env.index(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+"Could not fetch package index to verify compatibility.")
		fmt.Fprintln(os.Stderr, "Check your network connection and try again.")
		return &ExitError{Code: exitFailure, Err: err}
	}

	report := compat.Check(live, installed, index)
	if !report.OK() {
		fmt.Printf("These packages have no version compatible with OS %s:\n", live)
		for _, finding := range report.Incompatible {
			fmt.Println(ErrorStyle.Render("  - ") + finding.Name)
		}
		fmt.Println()
		fmt.Println("Either wait for them to be updated, or remove them with 'vellum del <package>'.")
		fmt.Println("Then run 'vellum upgrade' again.")
		return &ExitError{Code: exitIncompatible}
	}

	fmt.Println("All packages have compatible versions. Preparing upgrade...")

	if err := env.syncer.RebuildRepo(*env.facts); err != nil {
		return &ExitError{Code: exitFailure, Err: err}
	}

	unpinOSConstrainedWorld(ctx, env, installed)

	if isDowngrade {
		pin := fmt.Sprintf("%s=%s-r0", apk.OSPackageName, live)
		if err := env.client.Run(ctx, "add", pin); err != nil {
			slog.Warn("failed to downgrade OS package", "error", err)
		}
	}
	return nil
}

// unpinOSConstrainedWorld resets world pins for every installed package
// that depends on the OS package, plus the OS package itself, so apk is
// free to move them to the versions the new OS admits.
func unpinOSConstrainedWorld(ctx context.Context, env *appEnv, installed []string) {
	names := []string{apk.OSPackageName}
	for _, pkg := range installed {
		deps, err := env.client.Dependencies(ctx, pkg)
		if err != nil {
			continue
		}
		for _, dep := range deps {
			if strings.Contains(dep, apk.OSPackageName) {
				names = append(names, pkg)
				break
			}
		}
	}
	unpinWorldEntries(env.cfg.Root, names)
}

// parseSimulatedUpgrades extracts the package names from the output of
// `apk upgrade --simulate`, which reports one "Upgrading name (old ->
// new)" line per package.
func parseSimulatedUpgrades(out string) []string {
	var packages []string
	for _, line := range strings.Split(out, "\n") {
		_, rest, found := strings.Cut(line, "Upgrading ")
		if !found {
			continue
		}
		name, _, _ := strings.Cut(rest, " (")
		if name = strings.TrimSpace(name); name != "" {
			packages = append(packages, name)
		}
	}
	return packages
}
