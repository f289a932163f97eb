// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for vellum.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"vellum-cli/internal/config"

	"github.com/charmbracelet/fang"
	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// Verbose enables verbose output
	verbose bool

	// appConfig is the configuration resolved at startup.
	appConfig *config.Config

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "vellum",
		Short: "Package manager front end for reMarkable devices",
		Long: TitleStyle.Render("vellum") + SubtitleStyle.Render(" - Package manager front end for reMarkable devices") + `

vellum wraps apk-tools with awareness of the reMarkable OS: it tracks
the OS version and device model as virtual packages, keeps a signed
local repository of those facts, and refuses to install packages that
declare no compatible version for the running OS.

Anything vellum does not handle itself is passed straight to apk.

` + SubtitleStyle.Render("Examples:") + `
  vellum add koreader       Install the best OS-compatible version
  vellum upgrade            Upgrade packages (handles OS version changes)
  vellum check-os 3.25.0.1  Preview compatibility with another OS version
  vellum search <term>      Passed through to apk`,
	}
)

func init() {
	cobra.OnInitialize(initRootConfig)

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newUpgradeCommand())
	rootCmd.AddCommand(newCheckOSCommand())
	rootCmd.AddCommand(newAddCommand())
	rootCmd.AddCommand(newDelCommand())
	rootCmd.AddCommand(newPurgeCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newReenableCommand())
	rootCmd.AddCommand(newTestingCommand())
	rootCmd.AddCommand(newSelfCommand())
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Subcommands apk knows but vellum does not are passed through
	// wholesale, so `vellum search foo` behaves exactly like apk.
	if args := os.Args[1:]; isPassthrough(args) {
		initRootConfig()
		runPassthrough(context.Background(), args)
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(exitFailure)
	}
}

// isPassthrough reports whether args name a subcommand vellum does not
// implement itself. Flags before the subcommand keep the invocation in
// cobra's hands.
func isPassthrough(args []string) bool {
	if len(args) == 0 {
		return false
	}
	first := args[0]
	if strings.HasPrefix(first, "-") {
		return false
	}
	switch first {
	case "help", "completion", "__complete", "__completeNoDesc":
		return false
	}
	for _, sub := range rootCmd.Commands() {
		if sub.Name() == first {
			return false
		}
		for _, alias := range sub.Aliases {
			if alias == first {
				return false
			}
		}
	}
	return true
}

// runPassthrough syncs the local repository, then replaces the process
// with apk carrying the full argument list.
func runPassthrough(ctx context.Context, args []string) {
	env, err := newAppEnv(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		os.Exit(exitFailure)
	}
	defer env.Close()

	if err := env.client.Exec(args...); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		os.Exit(exitFailure)
	}
}

// initRootConfig reads in config file and ENV variables if set, and
// routes slog through the charm logger.
func initRootConfig() {
	level := charmlog.WarnLevel
	if verbose {
		level = charmlog.DebugLevel
	}
	logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           level,
		ReportTimestamp: false,
	})
	slog.SetDefault(slog.New(logger))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+err.Error())
		cfg = config.DefaultConfig()
	}
	appConfig = cfg
}

// currentConfig returns the resolved configuration, loading it if the
// cobra initializer has not run yet.
func currentConfig() *config.Config {
	if appConfig == nil {
		initRootConfig()
	}
	return appConfig
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}
