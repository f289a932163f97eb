// SPDX-License-Identifier: MPL-2.0

// Package apk drives the bundled apk-tools binary and models the package
// index it consumes. Vellum never resolves dependencies itself: apk stays
// the solver of record, and this package only assembles its argument
// lists, reads its exit status, and parses the index format it publishes.
package apk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrAPKFailed is the sentinel error wrapped by ExitStatusError.
var ErrAPKFailed = errors.New("apk command failed")

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// Client invokes the apk binary rooted at the vellum prefix. All
	// invocations carry the same base arguments so apk operates on
	// vellum's own package database, never the vendor one.
	Client struct {
		root        string
		execCommand ExecCommandFunc
	}

	// ExitStatusError reports a nonzero apk exit, carrying the captured
	// stderr verbatim — vellum surfaces apk's own diagnostics rather
	// than reinterpreting them.
	ExitStatusError struct {
		Args   []string
		Code   int
		Stderr string
	}
)

// NewClient returns a client for the apk binary under root.
func NewClient(root string) *Client {
	return &Client{root: root, execCommand: exec.CommandContext}
}

// WithExecCommand replaces the command factory, for tests.
func (c *Client) WithExecCommand(fn ExecCommandFunc) *Client {
	c.execCommand = fn
	return c
}

// Error implements the error interface for ExitStatusError.
func (e *ExitStatusError) Error() string {
	msg := fmt.Sprintf("apk %s exited with code %d", strings.Join(e.Args, " "), e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Unwrap returns the sentinel ErrAPKFailed.
func (e *ExitStatusError) Unwrap() error { return ErrAPKFailed }

// Root returns the vellum prefix the client operates on.
func (c *Client) Root() string { return c.root }

// BinPath returns the path of the wrapped apk binary.
func (c *Client) BinPath() string {
	return filepath.Join(c.root, "bin", "apk.vellum")
}

// baseArgs are prepended to every apk invocation: vellum's database root,
// the real filesystem as install root, and no logfile (the vellum prefix
// may be read-only between resyncs).
func (c *Client) baseArgs() []string {
	return []string{
		"--root", c.root,
		"--install-root", "/",
		"--no-logfile",
	}
}

func (c *Client) command(ctx context.Context, args []string) *exec.Cmd {
	cmd := c.execCommand(ctx, c.BinPath(), append(c.baseArgs(), args...)...)
	cmd.Env = append(os.Environ(), "APK_CONFIG="+filepath.Join(c.root, "etc", "apk", "config"))
	return cmd
}

// Run invokes apk with the caller's stdio attached.
func (c *Client) Run(ctx context.Context, args ...string) error {
	cmd := c.command(ctx, args)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return c.wait(cmd, args, nil)
}

// RunSilent invokes apk with all output discarded.
func (c *Client) RunSilent(ctx context.Context, args ...string) error {
	cmd := c.command(ctx, args)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	return c.wait(cmd, args, &stderr)
}

// Output invokes apk and returns its trimmed stdout.
func (c *Client) Output(ctx context.Context, args ...string) (string, error) {
	cmd := c.command(ctx, args)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := c.wait(cmd, args, &stderr); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (c *Client) wait(cmd *exec.Cmd, args []string, stderr *bytes.Buffer) error {
	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		captured := ""
		if stderr != nil {
			captured = stderr.String()
		}
		return &ExitStatusError{Args: args, Code: exitErr.ExitCode(), Stderr: captured}
	}
	return fmt.Errorf("run %s: %w", c.BinPath(), err)
}

// ListInstalled returns the names of all installed packages.
func (c *Client) ListInstalled(ctx context.Context) ([]string, error) {
	out, err := c.Output(ctx, "info", "-q")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Dependencies returns the declared dependencies of an installed package.
func (c *Client) Dependencies(ctx context.Context, pkg string) ([]string, error) {
	out, err := c.Output(ctx, "info", "-R", pkg)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// InstalledVersion returns the installed version of pkg, without the
// release suffix, or "" when pkg is not installed.
func (c *Client) InstalledVersion(ctx context.Context, pkg string) (string, error) {
	out, err := c.Output(ctx, "list", "-I", pkg)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", nil
	}
	// First field of the first line looks like "name-1.2.3-r0".
	first, _, _ := strings.Cut(out, "\n")
	field, _, _ := strings.Cut(first, " ")
	rest, ok := strings.CutPrefix(field, pkg+"-")
	if !ok {
		return "", nil
	}
	if ver, _, found := cutLast(rest, "-r"); found {
		return ver, nil
	}
	return "", nil
}

// CachePurge drops apk's download cache.
func (c *Client) CachePurge(ctx context.Context) error {
	return c.RunSilent(ctx, "cache", "purge")
}

// cutLast splits s around the last occurrence of sep.
func cutLast(s, sep string) (before, after string, found bool) {
	idx := strings.LastIndex(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+len(sep):], true
}
