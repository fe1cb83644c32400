// The main package for the harvester executable.
package main

import (
	"github.com/zeynepaki/tgv-prototype/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
