// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package apk

import "context"

// Exec falls back to a child process on platforms without execve
// semantics (development hosts). The passthrough behavior is equivalent;
// only the process tree differs.
func (c *Client) Exec(args ...string) error {
	return c.Run(context.Background(), args...)
}
