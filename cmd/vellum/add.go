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

	"vellum-cli/internal/apk"
	"vellum-cli/internal/compat"
	"vellum-cli/internal/version"
)

// newAddCommand creates the `vellum add` command. Bare package names
// are resolved to the best OS-compatible published version before apk
// sees them, so apk never picks a version the running OS cannot run.
func newAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "add <package>...",
		Aliases: []string{"install"},
		Short:   "Install packages, pinned to OS-compatible versions",
		Long: `Install packages with apk, resolving each bare package name to the
newest published version that is compatible with the running OS.

Arguments that already carry a version pin or constraint (name=1.2.3,
name>=2.0) and apk flags are passed through untouched. A package whose
every published version excludes the running OS is refused.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			env, err := newAppEnv(cmd.Context())
			if err != nil {
				return &ExitError{Code: exitFailure, Err: err}
			}
			defer env.Close()

			if err := env.requireSynced(); err != nil {
				return err
			}
			return runAdd(cmd.Context(), env, args)
		},
	}
}

// runAdd resolves the arguments and hands the result to apk. Resolution
// is best-effort: without a registered OS version or a reachable index
// the arguments go through unmodified, and apk remains the authority.
func runAdd(ctx context.Context, env *appEnv, args []string) error {
	resolved, pinned, err := resolveAddArgs(ctx, env, args)
	if err != nil {
		return err
	}

	addArgs := append([]string{"add", "--cache-predownload"}, resolved...)
	runErr := env.client.Run(ctx, addArgs...)

	// Predownloaded archives are useless after install and the device
	// is short on disk.
	if err := env.client.CachePurge(ctx); err != nil {
		slog.Debug("cache purge failed", "error", err)
	}

	if runErr != nil {
		return &ExitError{Code: exitFailure, Err: runErr}
	}

	if len(pinned) > 0 {
		unpinWorldEntries(env.cfg.Root, pinned)
	}
	return nil
}

// resolveAddArgs maps each bare package name to a name=version pin on
// the best OS-compatible published version. It returns the rewritten
// argument list and the names that were pinned (their world entries are
// reset to unpinned after a successful install).
func resolveAddArgs(ctx context.Context, env *appEnv, args []string) (resolved, pinned []string, err error) {
	osVer, err := env.client.InstalledVersion(ctx, apk.OSPackageName)
	if err != nil || osVer == "" {
		return args, nil, nil
	}
	target, perr := version.Parse(osVer)
	if perr != nil {
		return args, nil, nil
	}
	index, ierr := env.index(ctx)
	if ierr != nil {
		slog.Debug("package index unavailable, installing without version resolution", "error", ierr)
		return args, nil, nil
	}

	incompatible := false
	for _, arg := range args {
		if strings.ContainsAny(arg, "=<>") || strings.HasPrefix(arg, "-") {
			resolved = append(resolved, arg)
			continue
		}
		best := compat.BestCompatible(arg, target, index)
		if best != nil {
			resolved = append(resolved, fmt.Sprintf("%s=%s", best.Name, best.Version))
			pinned = append(pinned, best.Name)
			continue
		}
		published := false
		for i := range index {
			if index[i].Name == arg {
				published = true
				break
			}
		}
		if published {
			fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+
				fmt.Sprintf("No version of '%s' is compatible with OS %s", arg, target))
			incompatible = true
			continue
		}
		// Unknown to the index: maybe a testing package or a typo.
		// Either way apk gives the better error.
		resolved = append(resolved, arg)
	}
	if incompatible {
		return nil, nil, &ExitError{Code: exitIncompatible}
	}
	return resolved, pinned, nil
}

// unpinWorldEntries rewrites `name=version` world entries back to bare
// names so future upgrades are free to move the packages.
func unpinWorldEntries(root string, names []string) {
	worldPath := filepath.Join(root, "etc", "apk", "world")
	data, err := os.ReadFile(worldPath)
	if err != nil {
		return
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	for i, line := range lines {
		for _, name := range names {
			if strings.HasPrefix(line, name+"=") {
				lines[i] = name
				break
			}
		}
	}
	if err := os.WriteFile(worldPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		slog.Debug("world file rewrite failed", "error", err)
	}
}
