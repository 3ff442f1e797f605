// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/stowage-dev/stowage/cmd/stowage"

func main() {
	cmd.Execute()
}
