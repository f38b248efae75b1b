// The main package for the specialdays executable.
package main

import (
	"github.com/JakeFAU/specialdays/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
