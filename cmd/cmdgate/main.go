// The main package for the cmdgate executable.
package main

import (
	"github.com/JakeFAU/cmdgate/cmd"
)

// main defers all execution to the Cobra command tree.
func main() {
	cmd.Execute()
}
