// SPDX-License-Identifier: MPL-2.0

//go:build linux

package apk

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Exec replaces the current process with apk, used for passthrough of
// subcommands vellum does not special-case. On success it never returns.
func (c *Client) Exec(args ...string) error {
	argv := append([]string{c.BinPath()}, c.baseArgs()...)
	argv = append(argv, args...)
	env := append(os.Environ(), "APK_CONFIG="+c.root+"/etc/apk/config")

	err := unix.Exec(c.BinPath(), argv, env)
	return fmt.Errorf("exec %s: %w", c.BinPath(), err)
}
