// SPDX-License-Identifier: MPL-2.0

// vellum is a compatibility-aware front end for the apk package manager
// on reMarkable devices.
package main

import (
	cmd "vellum-cli/cmd/vellum"
)

func main() {
	cmd.Execute()
}
